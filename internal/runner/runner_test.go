package runner_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runninginfo"
	"github.com/coldroot-labs/barc/internal/runner"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/slavepool"
	"github.com/coldroot-labs/barc/internal/wire"
)

// fakeWorker is a pipeline.Worker stub driven entirely by test closures.
type fakeWorker struct {
	run func(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error
}

func (w *fakeWorker) Run(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error {
	return w.run(ctx, spec, onProgress)
}

func testJob(t *testing.T, uuid string, host job.SlaveHost) *job.Job {
	t.Helper()
	j := job.New(uuid, "test-job")
	j.SlaveHost = host
	j.FilePath = filepath.Join(t.TempDir(), "job.conf")
	j.Destination = "file://" + filepath.Join(t.TempDir(), "dest")
	return j
}

func alwaysDue(uuid string, archiveType job.ArchiveType) job.DueSchedule {
	return job.DueSchedule{
		Schedule: &job.Schedule{UUID: uuid, ArchiveType: archiveType, Enabled: true},
		FireTime: time.Now(),
	}
}

func TestRunnerLocalJobCompletesSuccessfully(t *testing.T) {
	w := &fakeWorker{run: func(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error {
		return onProgress(runninginfo.Snapshot{BytesDone: 100, BytesTotal: 100})
	}}
	r := runner.New(nil, w, zap.NewNop())
	j := testJob(t, "local-1", job.SlaveHost{})

	err := r.Trigger(context.Background(), j, alwaysDue("sched-1", job.ArchiveFull))
	require.NoError(t, err)

	assert.Equal(t, job.StateDone, j.Activity().State)
	rec := j.LastExecuted[job.ArchiveFull]
	assert.Equal(t, job.StateDone, rec.State)
}

func TestRunnerLocalJobRecordsWorkerError(t *testing.T) {
	w := &fakeWorker{run: func(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error {
		return assert.AnError
	}}
	r := runner.New(nil, w, zap.NewNop())
	j := testJob(t, "local-2", job.SlaveHost{})

	err := r.Trigger(context.Background(), j, alwaysDue("sched-1", job.ArchiveNormal))
	require.Error(t, err)

	rec := j.LastExecuted[job.ArchiveNormal]
	assert.Equal(t, job.StateError, rec.State)
}

func TestRunnerSkipsTriggerWhenAlreadyActive(t *testing.T) {
	w := &fakeWorker{run: func(ctx context.Context, spec pipeline.Spec, onProgress pipeline.ProgressFunc) error {
		return nil
	}}
	r := runner.New(nil, w, zap.NewNop())
	j := testJob(t, "local-3", job.SlaveHost{})
	j.WithActivity(func(a *job.Activity) { a.State = job.StateRunning })

	err := r.Trigger(context.Background(), j, alwaysDue("sched-1", job.ArchiveNormal))
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, j.Activity().State)
}

// fakeSlave plays the remote side of the JOB_TRIGGER/JOB_INFO/JOB_ABORT
// exchange. completeAfter is how many JOB_INFO polls report RUNNING
// before the slave reports DONE; an observed JOB_ABORT short-circuits
// the next JOB_INFO poll to ABORTED regardless of completeAfter.
type fakeSlave struct {
	completeAfter int
	infoCalls     int
	aborted       bool
}

func (f *fakeSlave) serve(m *mux.Mux) func(cmd *wire.Command) {
	return func(cmd *wire.Command) {
		switch cmd.Name {
		case "JOB_TRIGGER":
			_ = m.Reply(cmd.ID, true, 0, wire.NewArgs())
		case "JOB_ABORT":
			f.aborted = true
			_ = m.Reply(cmd.ID, true, 0, wire.NewArgs())
		case "JOB_INFO":
			f.infoCalls++
			args := wire.NewArgs().Set("bytesDone", "10").Set("bytesTotal", "100")
			switch {
			case f.aborted:
				args.Set("state", "ABORTED")
			case f.infoCalls > f.completeAfter:
				args.Set("state", "DONE")
			default:
				args.Set("state", "RUNNING")
			}
			_ = m.Reply(cmd.ID, true, 0, args)
		}
	}
}

type pipeDialer struct {
	slave *fakeSlave
}

func (d pipeDialer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	client, server := net.Pipe()
	go func() {
		sess, err := session.Accept(server, session.AcceptOptions{})
		if err != nil {
			return
		}
		var sm *mux.Mux
		sm = mux.New(sess, func(cmd *wire.Command) { d.slave.serve(sm)(cmd) })
		_ = sm.Run(make(chan struct{}))
	}()
	return client, nil
}

func TestRunnerRemoteJobCompletesViaSlave(t *testing.T) {
	pool := slavepool.New(pipeDialer{slave: &fakeSlave{completeAfter: 2}}, time.Second, zap.NewNop())
	r := runner.New(pool, nil, zap.NewNop())
	j := testJob(t, "remote-1", job.SlaveHost{Name: "slave-1", Port: 9000})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.Trigger(ctx, j, alwaysDue("sched-1", job.ArchiveFull))
	require.NoError(t, err)
	assert.Equal(t, job.StateDone, j.Activity().State)
	assert.Equal(t, job.StateDone, j.LastExecuted[job.ArchiveFull].State)
}

// TestRunnerAbortPropagatesToRemoteSlave starts a remote job, waits
// until RUNNING, calls Abort, and expects a JOB_ABORT command on the
// slave's session with the run reaching ABORTED.
func TestRunnerAbortPropagatesToRemoteSlave(t *testing.T) {
	slave := &fakeSlave{completeAfter: 1000} // never completes on its own
	pool := slavepool.New(pipeDialer{slave: slave}, time.Second, zap.NewNop())
	r := runner.New(pool, nil, zap.NewNop())
	j := testJob(t, "remote-2", job.SlaveHost{Name: "slave-2", Port: 9001})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- r.Trigger(ctx, j, alwaysDue("sched-1", job.ArchiveFull))
	}()
	require.Eventually(t, func() bool {
		return j.Activity().State == job.StateRunning
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.Abort(j, "user X"))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not finish after abort")
	}

	assert.True(t, slave.aborted, "slave should have observed JOB_ABORT")
	assert.Equal(t, job.StateAborted, j.LastExecuted[job.ArchiveFull].State)
}
