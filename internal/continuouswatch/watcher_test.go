package continuouswatch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/continuouswatch"
	"github.com/coldroot-labs/barc/internal/job"
)

type fakeTrigger struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeTrigger) Trigger(_ context.Context, j *job.Job, _ job.DueSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, j.UUID)
	return nil
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func TestWatcherFiresOnFileChangeAfterDebounce(t *testing.T) {
	dir := t.TempDir()

	j := job.New("job-1", "job.conf")
	j.Include = []job.IncludeExcludeSpec{{Patterns: []string{dir}}}
	s := &job.Schedule{UUID: "sched-1", ArchiveType: job.ArchiveContinuous}

	trigger := &fakeTrigger{}
	w, err := continuouswatch.New(trigger, zap.NewNop(), 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	stop := make(chan struct{})
	go w.Run(stop)
	defer close(stop)

	w.Register(j, s)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "newfile.txt"), []byte("data"), 0o644))

	require.Eventually(t, func() bool {
		return trigger.count() > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherSkipsUnwatchableIncludeSpecs(t *testing.T) {
	j := job.New("job-2", "job.conf")
	j.Include = []job.IncludeExcludeSpec{{Command: "find /data -type f"}}
	s := &job.Schedule{UUID: "sched-2", ArchiveType: job.ArchiveContinuous}

	trigger := &fakeTrigger{}
	w, err := continuouswatch.New(trigger, zap.NewNop(), 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	w.Register(j, s)
	assert.Equal(t, 0, trigger.count())
}

func TestWatcherUnregisterStopsFurtherFires(t *testing.T) {
	dir := t.TempDir()

	j := job.New("job-3", "job.conf")
	j.Include = []job.IncludeExcludeSpec{{Patterns: []string{dir}}}
	s := &job.Schedule{UUID: "sched-3", ArchiveType: job.ArchiveContinuous}

	trigger := &fakeTrigger{}
	w, err := continuouswatch.New(trigger, zap.NewNop(), 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	stop := make(chan struct{})
	go w.Run(stop)
	defer close(stop)

	w.Register(j, s)
	w.Unregister(j, s)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "afterunregister.txt"), []byte("data"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 0, trigger.count())
}
