// Package slavepool maintains a named pool of remote-execution connections
// to slave hosts, keyed by SlaveHost identity, with refcounted lifetime and
// reconnect-on-demand.
package slavepool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/session"
)

// Dialer opens the raw transport to a slave host. The default
// implementation wraps net.Dialer; tests substitute an in-memory pair.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (net.Conn, error)
}

// netDialer is the production Dialer, a thin wrapper over net.Dialer —
// justified stdlib use: dialing a TCP endpoint is exactly what net.Dialer
// is for, and none of the pack's libraries (gRPC, websocket) apply to this
// line-protocol transport.
type netDialer struct {
	timeout time.Duration
}

func (d netDialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	return dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
}

// NewNetDialer returns the default TCP Dialer with the given connect
// timeout.
func NewNetDialer(timeout time.Duration) Dialer { return netDialer{timeout: timeout} }

type entry struct {
	host     job.SlaveHost
	sess     *session.Session
	mux      *mux.Mux
	refcount int
	stop     chan struct{}
}

// Pool holds one live connection per distinct SlaveHost, refcounted across
// concurrent Acquire callers. A host with a zero refcount is torn down
// rather than kept idle, and reconnected lazily on the next Acquire.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry // keyed by SlaveHost "name:port"

	dialer      Dialer
	readTimeout time.Duration
	logger      *zap.Logger
}

// New builds a Pool. readTimeout bounds session.Dial's handshake wait.
func New(dialer Dialer, readTimeout time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		entries:     make(map[string]*entry),
		dialer:      dialer,
		readTimeout: readTimeout,
		logger:      logger.Named("slavepool"),
	}
}

// Release, returned by Acquire, decrements the refcount and tears down the
// connection if no callers remain.
type Release func()
// Acquire returns the shared Mux for host, connecting it if necessary, and
// a Release to call when the caller is done with it. Concurrent callers
// for the same host share one connection; the connection is only closed
// once every caller has released it.
func (p *Pool) Acquire(ctx context.Context, host job.SlaveHost) (*mux.Mux, Release, error) {
	key := fmt.Sprintf("%s:%d", host.Name, host.Port)
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		e.refcount++
		p.mu.Unlock()
		return e.mux, p.releaseFunc(key), nil
	}
	p.mu.Unlock()
	e, err := p.connect(ctx, host)
	if err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	if existing, raced := p.entries[key]; raced {
		// Another Acquire connected first; keep theirs, discard ours.
		existing.refcount++
		p.mu.Unlock()
		close(e.stop)
		e.sess.Close()
		return existing.mux, p.releaseFunc(key), nil
	}
	e.refcount = 1
	p.entries[key] = e
	p.mu.Unlock()
	return e.mux, p.releaseFunc(key), nil
}

func (p *Pool) releaseFunc(name string) Release {
	return func() {
		p.mu.Lock()
		e, ok := p.entries[name]
		if !ok {
			p.mu.Unlock()
			return
		}
		e.refcount--
		if e.refcount > 0 {
			p.mu.Unlock()
			return
		}
		delete(p.entries, name)
		p.mu.Unlock()
		close(e.stop)
		e.sess.Close()
		p.logger.Info("slave connection closed, refcount reached zero", zap.String("slave", name))
	}
}

func (p *Pool) connect(ctx context.Context, host job.SlaveHost) (*entry, error) {
	conn, err := p.dialer.Dial(ctx, host.Name, host.Port)
	if err != nil {
		return nil, fmt.Errorf("slavepool: dialing %s:%d: %w", host.Name, host.Port, err)
	}

	sess, err := session.Dial(conn, p.readTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("slavepool: handshake with %s:%d: %w", host.Name, host.Port, err)
	}

	if host.TLSMode != session.TLSModeNone {
		tlsCfg := &tls.Config{ServerName: host.Name, MinVersion: tls.VersionTLS12}
		if err := sess.UpgradeClientTLS(tlsCfg); err != nil {
			if host.TLSMode == session.TLSModeForce {
				sess.Close()
				return nil, fmt.Errorf("slavepool: TLS upgrade with %s:%d: %w", host.Name, host.Port, err)
			}
			p.logger.Warn("optional TLS upgrade failed, continuing in cleartext",
				zap.String("slave", host.Name), zap.Error(err))
		}
	}

	m := mux.New(sess, nil)
	stop := make(chan struct{})
	go func() {
		if err := m.Run(stop); err != nil {
			p.logger.Warn("slave connection run loop ended", zap.String("slave", host.Name), zap.Error(err))
		}
	}()
	p.logger.Info("connected to slave", zap.String("slave", host.Name), zap.Int("port", host.Port))

	return &entry{host: host, sess: sess, mux: m, stop: stop}, nil
}

// Active reports the number of distinct slaves with at least one live
// reference, for diagnostics.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
