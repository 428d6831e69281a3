package controlserver_test

import (
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/controlserver"
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runninginfo"
	"github.com/coldroot-labs/barc/internal/runner"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/wire"
)

type fakeWorker struct {
	run func(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error
}

func (w *fakeWorker) Run(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error {
	return w.run(ctx, spec, onProgress)
}

func newTestServer(t *testing.T, passwordHash string) (*job.Registry, *controlserver.Server) {
	t.Helper()
	registry := job.NewRegistry(t.TempDir(), zap.NewNop(), 16)
	w := &fakeWorker{run: func(_ context.Context, _ pipeline.Spec, onProgress pipeline.ProgressFunc) error {
		return onProgress(runninginfo.Snapshot{BytesDone: 1, BytesTotal: 1})
	}}
	r := runner.New(nil, w, zap.NewNop())
	srv := controlserver.New(registry, r, passwordHash, session.AcceptOptions{}, zap.NewNop())
	return registry, srv
}

// dialPair returns a client-side mux already past the SESSION greeting,
// with the server half served by srv over a net.Pipe.
func dialPair(t *testing.T, srv *controlserver.Server) (*mux.Mux, func()) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	go srv.ServeConn(ctx, serverConn)

	clientSess, err := session.Dial(clientConn, 2*time.Second)
	require.NoError(t, err)

	clientMux := mux.New(clientSess, nil)
	stop := make(chan struct{})
	go clientMux.Run(stop)

	cleanup := func() {
		close(stop)
		cancel()
		clientSess.Close()
	}
	return clientMux, cleanup
}

func TestControlServerPing(t *testing.T) {
	_, srv := newTestServer(t, "")
	m, cleanup := dialPair(t, srv)
	defer cleanup()

	err := m.Execute("PING", wire.NewArgs(), nil, 2*time.Second)
	assert.NoError(t, err)
}

func TestControlServerJobTriggerAndInfo(t *testing.T) {
	registry, srv := newTestServer(t, "")
	j := job.New("job-1", "test.conf")
	j.Destination = "file://" + t.TempDir()
	registry.TestAddJob(j)

	m, cleanup := dialPair(t, srv)
	defer cleanup()

	triggerArgs := wire.NewArgs().Set("uuid", "job-1").Set("archiveType", "full")
	require.NoError(t, m.Execute("JOB_TRIGGER", triggerArgs, nil, 2*time.Second))

	require.Eventually(t, func() bool {
		return j.Activity().State == job.StateDone
	}, 2*time.Second, 20*time.Millisecond)

	var state string
	infoArgs := wire.NewArgs().Set("uuid", "job-1")
	err := m.Execute("JOB_INFO", infoArgs, func(res *wire.Result) error {
		state = res.Args.GetString("state", "")
		return nil
	}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "DONE", state)
}

func TestControlServerUnknownJobIsRejected(t *testing.T) {
	_, srv := newTestServer(t, "")
	m, cleanup := dialPair(t, srv)
	defer cleanup()

	err := m.Execute("JOB_TRIGGER", wire.NewArgs().Set("uuid", "missing"), nil, 2*time.Second)
	require.Error(t, err)
}

func TestControlServerRequiresAuthorizeWhenPasswordConfigured(t *testing.T) {
	registry, srv := newTestServer(t, session.HashPassword("secret"))
	j := job.New("job-2", "test.conf")
	registry.TestAddJob(j)

	m, cleanup := dialPair(t, srv)
	defer cleanup()

	err := m.Execute("JOB_TRIGGER", wire.NewArgs().Set("uuid", "job-2"), nil, 2*time.Second)
	require.Error(t, err)

	authArgs := wire.NewArgs().Set("encryptType", "NONE").Set("password", "hex:"+hex.EncodeToString([]byte("secret")))
	require.NoError(t, m.Execute("AUTHORIZE", authArgs, nil, 2*time.Second))

	require.NoError(t, m.Execute("JOB_TRIGGER", wire.NewArgs().Set("uuid", "job-2"), nil, 2*time.Second))
}
