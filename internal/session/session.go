// Package session implements the framed, optionally encrypted request/
// response channel: transport selection (a TCP socket or a pair of
// pipes for batch mode), the SESSION greeting, the START_TLS upgrade,
// and the line-oriented read/write discipline that feeds internal/mux.
package session

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coldroot-labs/barc/internal/barcerr"
	"github.com/coldroot-labs/barc/internal/wire"
)

// Transport is the minimal interface a stream must satisfy to back a
// Session: byte-stream read/write, closeability, and deadline-based reads
// so the receive loop can poll instead of blocking forever.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}

// TLSMode selects whether and how a session upgrades to TLS.
type TLSMode int

const (
	TLSModeNone TLSMode = iota
	TLSModeTry
	TLSModeForce
)

func (m TLSMode) String() string {
	switch m {
	case TLSModeTry:
		return "try"
	case TLSModeForce:
		return "force"
	default:
		return "none"
	}
}

// sessionIDLength is 64 bytes of random data used both as a transport
// nonce and as the XOR mask for small encrypted payloads.
const sessionIDLength = 64

// pollSlice is the default polling granularity for read deadlines.
const pollSlice = 250 * time.Millisecond

// authFailBase and authFailMax bound the exponential backoff applied to
// repeated failed AUTHORIZE attempts — a feature present in
// original_source/bar/server_io.c.
const (
	authFailBase = 200 * time.Millisecond
	authFailMax  = 30 * time.Second
)

// Session wraps one Transport with the protocol's session state: id,
// chosen encryption, RSA keys, authorization state, and the line reader.
// A Session is safe for one writer and one reader goroutine to use
// concurrently: the write path is internally locked; the read path is
// meant to be driven by a single caller.
type Session struct {
	transport Transport
	reader    *bufio.Reader

	writeMu sync.Mutex

	sessionID   []byte
	encryptType EncryptType

	// ownPriv/ownPub is this side's RSA key pair, generated fresh per
	// session and never persisted. Only the greeting
	// issuer (normally the server) has one.
	ownPriv *rsa.PrivateKey
	ownPub  PublicKey

	// peerPub is the other side's public key, learned from the greeting.
	// Only the dialer needs this, to encrypt payloads sent to the issuer.
	peerPub *PublicKey

	authMu        sync.Mutex
	authorized    bool
	authFailCount int
	authFailUntil time.Time

	closeOnce sync.Once
	closeErr  error
}

// AcceptOptions configures how the greeting side (normally the listener)
// builds its SESSION line.
type AcceptOptions struct {
	// SupportRSA controls whether a transient RSA key pair is generated
	// and advertised. False produces an encryptTypes=NONE-only greeting.
	SupportRSA bool
	// RandSessionID overrides session id generation, for deterministic
	// tests (fixedIds hook). Nil means "generate randomly".
	RandSessionID func() ([]byte, error)
}

// Accept builds a Session over transport, generates a session id (and
// optionally an RSA key pair), and writes the SESSION greeting line —
// the server side of the handshake.
func Accept(transport Transport, opts AcceptOptions) (*Session, error) {
	genID := opts.RandSessionID
	if genID == nil {
		genID = func() ([]byte, error) { return randomBytes(sessionIDLength) }
	}
	id, err := genID()
	if err != nil {
		return nil, barcerr.Wrap(barcerr.CodeInitCrypt, err, "generating session id")
	}

	s := &Session{
		transport: transport,
		reader:    bufio.NewReader(transport),
		sessionID: id,
	}

	types := []string{"NONE"}
	greeting := &wire.Greeting{SessionID: hexEncode(id), EncryptTypes: types}

	if opts.SupportRSA {
		priv, err := generateSessionKeyPair()
		if err != nil {
			return nil, err
		}
		s.ownPriv = priv
		s.ownPub = publicKeyOf(priv)
		greeting.EncryptTypes = []string{"RSA", "NONE"}
		greeting.N, greeting.E = FormatPublicKeyDecimal(s.ownPub)
	}

	if err := s.writeLineLocked(greeting.Encode()); err != nil {
		return nil, barcerr.Wrap(barcerr.CodeConnectFail, err, "writing SESSION greeting")
	}
	return s, nil
}

// Dial reads the SESSION greeting from transport and returns a Session
// ready to issue commands — the client side of the handshake. It picks
// RSA if the greeting lists it anywhere and advertises a public key
// (n and e), recording that key; otherwise it picks NONE.
func Dial(transport Transport, readTimeout time.Duration) (*Session, error) {
	s := &Session{
		transport: transport,
		reader:    bufio.NewReader(transport),
	}

	if err := transport.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, barcerr.Wrap(barcerr.CodeConnectFail, err, "setting read deadline for greeting")
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, barcerr.Wrap(barcerr.CodeConnectFail, err, "reading SESSION greeting")
	}

	greeting, err := wire.ParseGreeting(line)
	if err != nil {
		return nil, barcerr.Wrap(barcerr.CodeInvalidResponse, err, "parsing SESSION greeting")
	}

	id, err := hexDecode(greeting.SessionID)
	if err != nil {
		return nil, barcerr.Wrap(barcerr.CodeInvalidResponse, err, "decoding session id")
	}
	s.sessionID = id

	s.encryptType = EncryptNone
	for _, t := range greeting.EncryptTypes {
		if et, err := ParseEncryptType(strings.TrimSpace(t)); err == nil && et == EncryptRSA {
			s.encryptType = EncryptRSA
			break
		}
	}

	if s.encryptType == EncryptRSA {
		if greeting.N == "" || greeting.E == "" {
			s.encryptType = EncryptNone
		} else {
			pub, err := ParsePublicKeyDecimal(greeting.N, greeting.E)
			if err != nil {
				return nil, err
			}
			s.peerPub = pub
		}
	}

	return s, nil
}

// SessionIDHex returns the session id as the lowercase hex string carried
// on the wire.
func (s *Session) SessionIDHex() string { return hexEncode(s.sessionID) }

// SessionID returns the raw session id bytes, used as the XOR mask.
func (s *Session) SessionID() []byte { return s.sessionID }

// EncryptType returns the negotiated encryption type.
func (s *Session) EncryptType() EncryptType { return s.encryptType }

// SetEncryptType is used server-side once the client's AUTHORIZE command
// states which encryption it used, or by tests.
func (s *Session) SetEncryptType(t EncryptType) { s.encryptType = t }

// PeerPublicKey returns the peer's RSA public key, if one was negotiated.
func (s *Session) PeerPublicKey() *PublicKey { return s.peerPub }

// OwnPrivateKey returns this side's RSA private key, if one was generated
// (only the greeting issuer has one).
func (s *Session) OwnPrivateKey() *rsa.PrivateKey { return s.ownPriv }

// WriteLine sends one already-formatted protocol line. The send path
// formats under the caller's control and performs exactly one write,
// serialized by writeMu: the session lock serializes writes.
func (s *Session) WriteLine(line string) error {
	return s.writeLineLocked(line)
}

func (s *Session) writeLineLocked(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.transport, line+"\n"); err != nil {
		return barcerr.Wrap(barcerr.CodeNetworkTimeoutSend, err, "writing line")
	}
	return nil
}

// ReadLine blocks until a complete line is available or deadline elapses,
// returning barcerr.CodeNetworkTimeoutReceive on a plain timeout and
// barcerr.CodeDisconnected on EOF/closed transport. Control characters
// other than LF inside the line are stripped.
func (s *Session) ReadLine(deadline time.Time) (string, error) {
	if err := s.transport.SetReadDeadline(deadline); err != nil {
		return "", barcerr.Wrap(barcerr.CodeConnectFail, err, "setting read deadline")
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if line != "" {
			// Partial line buffered in bufio.Reader across the error — the
			// next ReadLine call (with the reader state preserved) will
			// continue assembling it.
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", barcerr.New(barcerr.CodeNetworkTimeoutReceive, "read timed out")
		}
		if err == io.EOF {
			return "", barcerr.New(barcerr.CodeDisconnected, "peer closed connection")
		}
		return "", barcerr.Wrap(barcerr.CodeDisconnected, err, "reading line")
	}
	return stripControlChars(strings.TrimRight(line, "\r\n")), nil
}

// PollOnce reads at most one line within the default poll slice, returning
// ("", nil) on a plain timeout so callers can loop cooperatively instead
// of treating a timeout as an error.
func (s *Session) PollOnce() (string, error) {
	line, err := s.ReadLine(time.Now().Add(pollSlice))
	if barcerr.Has(err, barcerr.CodeNetworkTimeoutReceive) {
		return "", nil
	}
	return line, err
}

// UpgradeClientTLS performs the client side of START_TLS: wraps the
// underlying net.Conn in a TLS client connection and replaces the
// session's transport and buffered reader. Only valid when the
// transport is a net.Conn.
func (s *Session) UpgradeClientTLS(cfg *tls.Config) error {
	conn, ok := s.transport.(net.Conn)
	if !ok {
		return barcerr.New(barcerr.CodeFunctionNotSupported, "START_TLS requires a network transport")
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return barcerr.Wrap(barcerr.CodeInitCrypt, err, "TLS client handshake")
	}
	s.replaceTransport(tlsNetTransport{tlsConn})
	return nil
}

// UpgradeServerTLS performs the server side of START_TLS.
func (s *Session) UpgradeServerTLS(cfg *tls.Config) error {
	conn, ok := s.transport.(net.Conn)
	if !ok {
		return barcerr.New(barcerr.CodeFunctionNotSupported, "START_TLS requires a network transport")
	}
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return barcerr.Wrap(barcerr.CodeInitCrypt, err, "TLS server handshake")
	}
	s.replaceTransport(tlsNetTransport{tlsConn})
	return nil
}

func (s *Session) replaceTransport(t Transport) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.transport = t
	s.reader = bufio.NewReader(t)
}

// tlsNetTransport adapts *tls.Conn (a net.Conn) to Transport; the method
// set already matches, this exists only for documentation clarity at
// call sites.
type tlsNetTransport struct{ *tls.Conn }

// Close closes the underlying transport exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

// IsAuthorized reports whether AUTHORIZE has succeeded on this session.
func (s *Session) IsAuthorized() bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authorized
}

// MarkAuthorized records a successful AUTHORIZE and clears any backoff.
func (s *Session) MarkAuthorized() {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	s.authorized = true
	s.authFailCount = 0
	s.authFailUntil = time.Time{}
}

// AuthFailDelay returns how long the caller must wait before accepting
// another AUTHORIZE attempt: zero if no backoff is in effect. Each
// RecordAuthFailure doubles the delay up to authFailMax, restoring the
// brute-force slowdown present in original_source/bar/server_io.c.
func (s *Session) AuthFailDelay() time.Duration {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	remaining := time.Until(s.authFailUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordAuthFailure registers one failed AUTHORIZE attempt and arms the
// exponential backoff for the next attempt.
func (s *Session) RecordAuthFailure() {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	s.authFailCount++
	delay := authFailBase << uint(s.authFailCount-1)
	if delay > authFailMax || delay <= 0 {
		delay = authFailMax
	}
	s.authFailUntil = time.Now().Add(delay)
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 && c != '\n' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0F]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("session: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("session: invalid hex digit %q", c)
	}
}
