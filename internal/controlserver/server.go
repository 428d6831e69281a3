// Package controlserver implements the receiving side of the wire
// protocol: it accepts incoming session connections, authorizes them,
// and dispatches PING/JOB_TRIGGER/JOB_ABORT/JOB_INFO commands against a
// local job registry and runner. Both the slave daemon (receiving
// commands from a master's runner) and the master daemon (receiving
// commands from an interactive control client) embed one of these.
package controlserver

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/barcerr"
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/runner"
	"github.com/coldroot-labs/barc/internal/runninginfo"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/wire"
)

// Server dispatches incoming protocol commands to a job.Registry and
// runner.Runner. A zero-value PasswordHash means AUTHORIZE always
// succeeds and every command is accepted unauthenticated — appropriate
// only for loopback or otherwise trusted transports.
type Server struct {
	registry     *job.Registry
	runner       *runner.Runner
	logger       *zap.Logger
	acceptOpts   session.AcceptOptions
	passwordHash string

	// Telemetry, if set, is merged into every PING and JOB_INFO reply —
	// the slave daemon uses this to report host capacity (CPU, load,
	// free disk) so the master can log slave health without a side
	// channel. Nil on the master's own client-facing listener.
	Telemetry func() *wire.Args
}

// New returns a Server. passwordHash is the SHA-256 hex digest AUTHORIZE
// attempts are checked against; empty disables the check.
func New(registry *job.Registry, r *runner.Runner, passwordHash string, acceptOpts session.AcceptOptions, logger *zap.Logger) *Server {
	return &Server{
		registry:     registry,
		runner:       r,
		logger:       logger.Named("controlserver"),
		acceptOpts:   acceptOpts,
		passwordHash: passwordHash,
	}
}

// mergeTelemetry appends the Telemetry callback's key/value pairs onto
// args, if a callback is configured.
func (s *Server) mergeTelemetry(args *wire.Args) *wire.Args {
	if s.Telemetry == nil {
		return args
	}
	t := s.Telemetry()
	for _, k := range t.Keys() {
		v, _ := t.Get(k)
		args.Set(k, v)
	}
	return args
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails, handling each on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// ServeConn serves one already-accepted connection until ctx is
// cancelled or the peer disconnects.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.handleConn(ctx, conn)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sess, err := session.Accept(conn, s.acceptOpts)
	if err != nil {
		s.logger.Warn("session accept failed", zap.String("remote_addr", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	defer sess.Close()

	var m *mux.Mux
	m = mux.New(sess, func(cmd *wire.Command) { s.handleCommand(sess, m, cmd) })

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
		case <-stop:
		}
	}()

	if err := m.Run(stop); err != nil {
		s.logger.Debug("session ended", zap.String("remote_addr", conn.RemoteAddr().String()), zap.Error(err))
	}
}

func (s *Server) handleCommand(sess *session.Session, m *mux.Mux, cmd *wire.Command) {
	if cmd.Name == "PING" {
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeNone), s.mergeTelemetry(wire.NewArgs()))
		return
	}
	if cmd.Name == "AUTHORIZE" {
		s.handleAuthorize(sess, m, cmd)
		return
	}

	if s.passwordHash != "" && !sess.IsAuthorized() {
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeAuthorization), wire.NewArgs())
		return
	}

	switch cmd.Name {
	case "JOB_TRIGGER":
		s.handleJobTrigger(m, cmd)
	case "JOB_ABORT":
		s.handleJobAbort(m, cmd)
	case "JOB_INFO":
		s.handleJobInfo(m, cmd)
	default:
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeParse), wire.NewArgs())
	}
}

func (s *Server) handleAuthorize(sess *session.Session, m *mux.Mux, cmd *wire.Command) {
	if d := sess.AuthFailDelay(); d > 0 {
		time.Sleep(d)
	}

	if s.passwordHash == "" {
		sess.MarkAuthorized()
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeNone), wire.NewArgs())
		return
	}

	password, err := decodeAuthorizePassword(sess, cmd.Args)
	if err != nil {
		sess.RecordAuthFailure()
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeAuthorization), wire.NewArgs())
		return
	}

	if !session.VerifyPassword(password, s.passwordHash) {
		sess.RecordAuthFailure()
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeAuthorization), wire.NewArgs())
		return
	}

	sess.MarkAuthorized()
	_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeNone), wire.NewArgs())
}

// decodeAuthorizePassword undoes the AUTHORIZE command's encoding: the
// payload is base64:/hex:/raw-hex encoded ciphertext, RSA-decrypted
// when encryptType=RSA, then XORed with the session id to recover the
// plaintext password.
func decodeAuthorizePassword(sess *session.Session, args *wire.Args) (string, error) {
	encType, err := session.ParseEncryptType(args.GetString("encryptType", "NONE"))
	if err != nil {
		return "", err
	}
	ciphertext, err := session.DecodePayload(args.GetString("password", ""))
	if err != nil {
		return "", err
	}
	plaintext, err := session.DecryptCleartext(encType, ciphertext, sess.SessionID(), sess.OwnPrivateKey())
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *Server) handleJobTrigger(m *mux.Mux, cmd *wire.Command) {
	uuid := cmd.Args.GetString("uuid", "")
	j, found := s.registry.Lookup(uuid)
	if !found {
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeInvalidResponse), wire.NewArgs())
		return
	}

	archiveType, _ := job.ParseArchiveType(cmd.Args.GetString("archiveType", "full"))
	customText := cmd.Args.GetString("customText", "")

	go func() {
		if err := s.runner.TriggerManual(context.Background(), j, archiveType, customText, "remote", false); err != nil {
			s.logger.Warn("remote JOB_TRIGGER failed", zap.String("job_uuid", j.UUID), zap.Error(err))
		}
	}()

	_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeNone), wire.NewArgs())
}

func (s *Server) handleJobAbort(m *mux.Mux, cmd *wire.Command) {
	uuid := cmd.Args.GetString("uuid", "")
	j, found := s.registry.Lookup(uuid)
	if !found {
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeInvalidResponse), wire.NewArgs())
		return
	}

	if err := s.runner.Abort(j, "remote"); err != nil {
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeJobAborted), wire.NewArgs())
		return
	}
	_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeNone), wire.NewArgs())
}

func (s *Server) handleJobInfo(m *mux.Mux, cmd *wire.Command) {
	uuid := cmd.Args.GetString("uuid", "")
	j, found := s.registry.Lookup(uuid)
	if !found {
		_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeInvalidResponse), wire.NewArgs())
		return
	}

	snap := s.runner.Tracker(j).Current()
	args := jobInfoArgs(j, snap)
	_ = m.Reply(cmd.ID, true, uint64(barcerr.CodeNone), s.mergeTelemetry(args))
}

func jobInfoArgs(j *job.Job, snap runninginfo.Snapshot) *wire.Args {
	return wire.NewArgs().
		Set("state", j.Activity().State.String()).
		Set("filesDone", strconv.FormatUint(snap.FilesDone, 10)).
		Set("filesTotal", strconv.FormatUint(snap.FilesTotal, 10)).
		Set("bytesDone", strconv.FormatUint(snap.BytesDone, 10)).
		Set("bytesTotal", strconv.FormatUint(snap.BytesTotal, 10)).
		Set("currentFile", snap.CurrentFile).
		Set("errorCount", strconv.FormatUint(snap.ErrorCount, 10))
}
