// Package scheduler implements the tick loop: per-(job,
// schedule) due-ness against the wildcard/catch-up algorithm, same-tick
// priority tie-break, and continuous-watcher (de)registration.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
)

// tickInterval is how often the scheduler evaluates every job's
// schedules. Due-ness is still resolved to minute granularity inside
// job.Schedule.CandidateFireTimes, so a coarser external tick only adds
// latency to when a fired minute is noticed, never a missed one, as long
// as tickInterval stays under the minute grid.
const tickInterval = 30 * time.Second

// Runner dispatches one fired schedule for execution. The scheduler
// package only decides *when*; internal/runner decides *how*.
type Runner interface {
	Trigger(ctx context.Context, j *job.Job, due job.DueSchedule) error
}

// ContinuousWatcher (de)registers filesystem-watch-driven schedules,
// which CandidateFireTimes deliberately excludes since they fire on file
// events rather than clock ticks (ArchiveContinuous).
type ContinuousWatcher interface {
	Register(j *job.Job, s *job.Schedule)
	Unregister(j *job.Job, s *job.Schedule)
}

// JobSource is the subset of *job.Registry the scheduler depends on,
// narrowed to an interface so tests can supply an in-memory fake instead
// of a real directory-backed registry.
type JobSource interface {
	Jobs() []*job.Job
	Changes() <-chan job.Change
}

// Scheduler ticks over a JobSource's jobs, firing due schedules through
// a Runner and keeping continuous schedules registered with a
// ContinuousWatcher.
type Scheduler struct {
	source     JobSource
	runner     Runner
	continuous ContinuousWatcher
	logger     *zap.Logger

	cron gocron.Scheduler

	mu        sync.Mutex
	lastCheck map[string]time.Time // job UUID -> lastScheduleCheckDateTime

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler. Call Start to begin ticking.
func New(source JobSource, runner Runner, continuous ContinuousWatcher, logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: creating gocron scheduler: %w", err)
	}
	return &Scheduler{
		source:     source,
		runner:     runner,
		continuous: continuous,
		logger:     logger.Named("scheduler"),
		cron:       cron,
		lastCheck:  make(map[string]time.Time),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start seeds lastScheduleCheckDateTime for every known job from its
// side-file catch-up anchor, registers existing continuous schedules,
// starts the tick loop, and begins consuming JobSource.Changes() for
// add/update/remove notifications. It returns once the initial state is
// seeded; the tick loop and change consumer run in the background until
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	now := time.Now()
	s.mu.Lock()
	for _, j := range s.source.Jobs() {
		s.lastCheck[j.UUID] = job.ScheduleCatchupAnchor(j.HeaderState, now)
		s.registerContinuousLocked(j)
	}
	s.mu.Unlock()
	if _, err := s.cron.NewJob(
		gocron.DurationJob(tickInterval),
		gocron.NewTask(func() { s.tick(time.Now()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("scheduler: registering tick job: %w", err)
	}
	s.cron.Start()
	// gocron.DurationJob's first run is one interval after Start, not
	// immediate — run one tick up front so a job due at startup (e.g. a
	// catch-up backlog) isn't held back by a full tickInterval.
	go s.tick(now)

	go s.consumeChanges(ctx)

	s.logger.Info("scheduler started", zap.Int("jobs", len(s.lastCheck)))
	return nil
}

// Stop shuts down the tick loop and the change consumer, waiting for both
// to finish.
func (s *Scheduler) Stop() error {
	close(s.stop)
	err := s.cron.Shutdown()
	<-s.done
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) consumeChanges(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case c, ok := <-s.source.Changes():
			if !ok {
				return
			}
			s.handleChange(c)
		}
	}
}

func (s *Scheduler) handleChange(c job.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c.Kind {
	case job.ChangeAdded:
		s.lastCheck[c.Job.UUID] = job.ScheduleCatchupAnchor(c.Job.HeaderState, time.Now())
		s.registerContinuousLocked(c.Job)
	case job.ChangeUpdated:
		if _, known := s.lastCheck[c.Job.UUID]; !known {
			s.lastCheck[c.Job.UUID] = job.ScheduleCatchupAnchor(c.Job.HeaderState, time.Now())
		}
		s.registerContinuousLocked(c.Job)
	case job.ChangeRemoved:
		delete(s.lastCheck, c.Job.UUID)
		s.unregisterContinuousLocked(c.Job)
	}
}

func (s *Scheduler) registerContinuousLocked(j *job.Job) {
	if s.continuous == nil {
		return
	}
	for _, sched := range j.Schedules() {
		if sched.ArchiveType == job.ArchiveContinuous && sched.Enabled {
			s.continuous.Register(j, sched)
		}
	}
}

func (s *Scheduler) unregisterContinuousLocked(j *job.Job) {
	if s.continuous == nil {
		return
	}
	for _, sched := range j.Schedules() {
		if sched.ArchiveType == job.ArchiveContinuous {
			s.continuous.Unregister(j, sched)
		}
	}
}

// tick evaluates every job's non-continuous schedules at instant now,
// dispatching at most one winner per job (steps 3-5) and
// unconditionally advancing lastScheduleCheckDateTime to now, regardless
// of how large a catch-up backlog was collapsed.
func (s *Scheduler) tick(now time.Time) {
	for _, j := range s.source.Jobs() {
		if j.IsActive() {
			continue
		}

		s.mu.Lock()
		since, known := s.lastCheck[j.UUID]
		s.mu.Unlock()
		if !known {
			since = job.ScheduleCatchupAnchor(j.HeaderState, now)
		}

		var due []job.DueSchedule
		for _, sched := range j.Schedules() {
			if sched.ArchiveType == job.ArchiveContinuous {
				continue
			}
			if fireTime, ok := sched.LatestFireTime(since, now); ok {
				due = append(due, job.DueSchedule{Schedule: sched, FireTime: fireTime})
			}
		}

		if winner := job.PickWinner(due); winner != nil {
			go func(j *job.Job, due job.DueSchedule) {
				if err := s.runner.Trigger(context.Background(), j, due); err != nil {
					s.logger.Error("job trigger failed",
						zap.String("job_uuid", j.UUID),
						zap.String("job_name", j.Name),
						zap.String("schedule_uuid", due.Schedule.UUID),
						zap.Error(err),
					)
				}
			}(j, *winner)
		}

		s.mu.Lock()
		s.lastCheck[j.UUID] = now
		s.mu.Unlock()
	}
}
