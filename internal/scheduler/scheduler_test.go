package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/scheduler"
)

type fakeSource struct {
	mu      sync.Mutex
	jobs    []*job.Job
	changes chan job.Change
}

func newFakeSource(jobs ...*job.Job) *fakeSource {
	return &fakeSource{jobs: jobs, changes: make(chan job.Change, 8)}
}

func (f *fakeSource) Jobs() []*job.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*job.Job, len(f.jobs))
	copy(out, f.jobs)
	return out
}

func (f *fakeSource) Changes() <-chan job.Change { return f.changes }

type fakeRunner struct {
	mu        sync.Mutex
	triggered []job.DueSchedule
}

func (r *fakeRunner) Trigger(ctx context.Context, j *job.Job, due job.DueSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggered = append(r.triggered, due)
	return nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggered)
}

type fakeWatcher struct {
	mu        sync.Mutex
	registerN int
}

func (w *fakeWatcher) Register(j *job.Job, s *job.Schedule)   { w.mu.Lock(); w.registerN++; w.mu.Unlock() }
func (w *fakeWatcher) Unregister(j *job.Job, s *job.Schedule) { w.mu.Lock(); w.registerN--; w.mu.Unlock() }

func alwaysDueSchedule(uuid string, at job.ArchiveType) *job.Schedule {
	return &job.Schedule{
		UUID:        uuid,
		Year:        job.Any(),
		Month:       job.Any(),
		Day:         job.Any(),
		WeekDays:    job.AnyWeekday(),
		Hour:        job.Any(),
		Minute:      job.Any(),
		ArchiveType: at,
		Enabled:     true,
	}
}

func TestSchedulerTriggersDueJobOnTick(t *testing.T) {
	j := job.New("job-1", "nightly")
	j.SetSchedules([]*job.Schedule{alwaysDueSchedule("sched-1", job.ArchiveFull)})

	src := newFakeSource(j)
	runner := &fakeRunner{}

	sch, err := scheduler.New(src, runner, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, sch.Start(context.Background()))
	defer sch.Stop()
	require.Eventually(t, func() bool {
		return runner.count() >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerSkipsActiveJob(t *testing.T) {
	j := job.New("job-1", "nightly")
	j.SetSchedules([]*job.Schedule{alwaysDueSchedule("sched-1", job.ArchiveFull)})
	j.WithActivity(func(a *job.Activity) { a.State = job.StateRunning })

	src := newFakeSource(j)
	runner := &fakeRunner{}

	sch, err := scheduler.New(src, runner, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sch.Start(context.Background()))
	defer sch.Stop()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, runner.count())
}

func TestSchedulerRegistersContinuousSchedulesOnStart(t *testing.T) {
	j := job.New("job-1", "watch")
	cont := alwaysDueSchedule("sched-1", job.ArchiveContinuous)
	j.SetSchedules([]*job.Schedule{cont})

	src := newFakeSource(j)
	watcher := &fakeWatcher{}

	sch, err := scheduler.New(src, &fakeRunner{}, watcher, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sch.Start(context.Background()))
	defer sch.Stop()
	watcher.mu.Lock()
	n := watcher.registerN
	watcher.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestSchedulerHandlesRemovedChange(t *testing.T) {
	j := job.New("job-1", "watch")
	cont := alwaysDueSchedule("sched-1", job.ArchiveContinuous)
	j.SetSchedules([]*job.Schedule{cont})

	src := newFakeSource(j)
	watcher := &fakeWatcher{}

	sch, err := scheduler.New(src, &fakeRunner{}, watcher, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sch.Start(context.Background()))
	defer sch.Stop()
	src.changes <- job.Change{Kind: job.ChangeRemoved, Job: j}

	require.Eventually(t, func() bool {
		watcher.mu.Lock()
		defer watcher.mu.Unlock()
		return watcher.registerN == 0
	}, 2*time.Second, 20*time.Millisecond)
}
