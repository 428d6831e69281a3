package session_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/wire"
)

// TestSessionHandshakePlaintext covers the case where a server accepts
// with no TLS and no asymmetric crypto, writes a "SESSION id=<64 hex
// bytes> encryptTypes=NONE" greeting, the client records the session id,
// sends "1 PING", the server replies "1 1 0", and the caller observes
// completed=true, error=0, empty args.
func TestSessionHandshakePlaintext(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	serverSessCh := make(chan *session.Session, 1)
	go func() {
		s, err := session.Accept(serverConn, session.AcceptOptions{SupportRSA: false})
		require.NoError(t, err)
		serverSessCh <- s
	}()
	clientSess, err := session.Dial(clientConn, 2*time.Second)
	require.NoError(t, err)
	serverSess := <-serverSessCh
	defer clientSess.Close()
	defer serverSess.Close()
	assert.Equal(t, 128, len(clientSess.SessionIDHex()), "64 bytes hex-encoded is 128 characters")
	assert.Equal(t, serverSess.SessionIDHex(), clientSess.SessionIDHex())
	assert.Equal(t, session.EncryptNone, clientSess.EncryptType())

	var serverMux *mux.Mux
	serverMux = mux.New(serverSess, func(cmd *wire.Command) {
		if cmd.Name == "PING" {
			_ = serverMux.Reply(cmd.ID, true, 0, wire.NewArgs())
		}
	})
	clientMux := mux.New(clientSess, nil)

	stop := make(chan struct{})
	defer close(stop)
	go serverMux.Run(stop)
	go clientMux.Run(stop)

	var result *wire.Result
	err = clientMux.Execute("PING", wire.NewArgs(), func(res *wire.Result) error {
		result = res
		return nil
	}, 2*time.Second)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Completed)
	assert.Equal(t, uint64(0), result.ErrorCode)
	assert.Empty(t, result.Args.Keys())
}

// TestDialUnknownEncryptType covers that a greeting advertising only
// unrecognized encryption tokens degrades to EncryptNone rather than
// failing the handshake.
func TestDialUnknownEncryptType(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	go func() {
		g := &wire.Greeting{SessionID: "00112233445566778899aabbccddeeff00112233445566778899aabbccddee", EncryptTypes: []string{"AES"}}
		_, _ = serverConn.Write([]byte(g.Encode() + "\n"))
	}()
	clientSess, err := session.Dial(clientConn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, session.EncryptNone, clientSess.EncryptType())
}

// TestAuthFailBackoffGrows covers the fail-counter/backoff supplement:
// each recorded AUTHORIZE failure increases the delay before the next
// attempt is accepted, and a success clears it.
func TestAuthFailBackoffGrows(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	s, err := session.Accept(serverConn, session.AcceptOptions{SupportRSA: false})
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), s.AuthFailDelay())

	s.RecordAuthFailure()
	d1 := s.AuthFailDelay()
	assert.Greater(t, d1, time.Duration(0))

	s.RecordAuthFailure()
	d2 := s.AuthFailDelay()
	assert.GreaterOrEqual(t, d2, d1)

	s.MarkAuthorized()
	assert.Equal(t, time.Duration(0), s.AuthFailDelay())
	assert.True(t, s.IsAuthorized())
}
