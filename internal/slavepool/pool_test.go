package slavepool_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/slavepool"
)

// pipeDialer hands out net.Pipe client halves, spinning up a matching
// session.Accept + mux.Run server goroutine on the other half — the same
// in-memory-transport technique internal/mux and internal/session tests
// use to avoid real sockets.
type pipeDialer struct {
	connects int32
}

func (d *pipeDialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	atomic.AddInt32(&d.connects, 1)
	client, server := net.Pipe()
	go func() {
		sess, err := session.Accept(server, session.AcceptOptions{})
		if err != nil {
			return
		}
		m := mux.New(sess, nil)
		_ = m.Run(make(chan struct{}))
	}()
	return client, nil
}

func (d *pipeDialer) connectCount() int {
	return int(atomic.LoadInt32(&d.connects))
}

func TestPoolSharesConnectionAcrossAcquire(t *testing.T) {
	d := &pipeDialer{}
	p := slavepool.New(d, time.Second, zap.NewNop())
	host := job.SlaveHost{Name: "slave-1", Port: 9999}

	m1, release1, err := p.Acquire(context.Background(), host)
	require.NoError(t, err)
	require.NotNil(t, m1)

	m2, release2, err := p.Acquire(context.Background(), host)
	require.NoError(t, err)
	assert.Same(t, m1, m2, "concurrent Acquire for the same host must share one connection")
	assert.Equal(t, 1, d.connectCount())
	assert.Equal(t, 1, p.Active())

	release1()
	assert.Equal(t, 1, p.Active(), "pool stays alive while any caller still holds a reference")

	release2()
	assert.Equal(t, 0, p.Active(), "pool tears down once the last reference releases")
}

func TestPoolReconnectsAfterFullRelease(t *testing.T) {
	d := &pipeDialer{}
	p := slavepool.New(d, time.Second, zap.NewNop())
	host := job.SlaveHost{Name: "slave-1", Port: 9999}

	_, release, err := p.Acquire(context.Background(), host)
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, p.Active())

	_, release2, err := p.Acquire(context.Background(), host)
	require.NoError(t, err)
	defer release2()
	assert.Equal(t, 2, d.connectCount(), "a fresh Acquire after full release must dial again")
}

func TestPoolKeepsDistinctHostsIndependent(t *testing.T) {
	d := &pipeDialer{}
	p := slavepool.New(d, time.Second, zap.NewNop())

	_, release1, err := p.Acquire(context.Background(), job.SlaveHost{Name: "slave-a", Port: 1})
	require.NoError(t, err)
	defer release1()
	_, release2, err := p.Acquire(context.Background(), job.SlaveHost{Name: "slave-b", Port: 2})
	require.NoError(t, err)
	defer release2()
	assert.Equal(t, 2, p.Active())
}
