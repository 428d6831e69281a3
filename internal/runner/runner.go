// Package runner implements the job runner facade: the state machine
// that moves a job from WAITING through RUNNING to a terminal state,
// dispatching the actual work either to an in-process pipeline.Worker
// or across a slave session.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/metrics"
	"github.com/coldroot-labs/barc/internal/mux"
	"github.com/coldroot-labs/barc/internal/persistence"
	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runninginfo"
	"github.com/coldroot-labs/barc/internal/slavepool"
	"github.com/coldroot-labs/barc/internal/storage"
	"github.com/coldroot-labs/barc/internal/wire"
	"github.com/coldroot-labs/barc/internal/wsapi"
)

// Remote job wire commands.
const (
	cmdJobTrigger = "JOB_TRIGGER"
	cmdJobAbort   = "JOB_ABORT"
	cmdJobInfo    = "JOB_INFO"
)

// abortTimeout bounds how long Abort waits for a RUNNING job to observe
// RequestedAbort and reach a terminal state.
const abortTimeout = 10 * time.Second

// remoteAbortTimeout bounds the JOB_ABORT round trip itself, separate
// from abortTimeout which bounds the full worker-side reaction.
const remoteAbortTimeout = 10 * time.Second

// Runner drives one job's execution, local or remote. It implements
// scheduler.Runner.
type Runner struct {
	pool   *slavepool.Pool
	worker pipeline.Worker
	logger *zap.Logger

	// Publisher pushes progress and state updates to connected admin
	// UI clients. Left nil when the HTTP admin surface is disabled.
	Publisher *wsapi.Publisher

	// Persistence runs the retention policy engine after a successful,
	// non-dry, non-noStorage completion. Left nil disables retention
	// entirely (e.g. in tests that don't exercise an archive index).
	Persistence *persistence.Engine

	trackersMu sync.Mutex
	trackers   map[string]*runninginfo.Tracker
}

// New returns a Runner. worker handles local (non-slave) jobs; pool
// acquires connectors for jobs with a non-empty SlaveHost.
func New(pool *slavepool.Pool, worker pipeline.Worker, logger *zap.Logger) *Runner {
	return &Runner{
		pool:     pool,
		worker:   worker,
		logger:   logger,
		trackers: make(map[string]*runninginfo.Tracker),
	}
}

// Tracker returns (creating if absent) the running-info tracker for j,
// the object a websocket hub or HTTP status endpoint reads snapshots
// from.
func (r *Runner) Tracker(j *job.Job) *runninginfo.Tracker {
	r.trackersMu.Lock()
	defer r.trackersMu.Unlock()
	if t, ok := r.trackers[j.UUID]; ok {
		return t
	}
	t := runninginfo.NewTracker()
	r.trackers[j.UUID] = t
	return t
}

// Trigger implements scheduler.Runner: it moves j from NONE to WAITING
// then runs it to completion. The scheduler calls this in its own
// goroutine per due job, so Trigger blocks for the job's full duration.
func (r *Runner) Trigger(ctx context.Context, j *job.Job, due job.DueSchedule) error {
	if !r.transitionToWaiting(j, due) {
		return nil
	}
	return r.run(ctx, j, due.Schedule.ArchiveType)
}

// transitionToWaiting moves j from NONE to WAITING, recording the
// triggering schedule and archive type. Returns false if j was already
// active (another trigger won the race).
func (r *Runner) transitionToWaiting(j *job.Job, due job.DueSchedule) bool {
	ok := false
	j.WithActivity(func(a *job.Activity) {
		if a.State == job.StateWaiting || a.State == job.StateRunning {
			return
		}
		*a = job.Activity{
			State:               job.StateWaiting,
			ScheduleUUID:        due.Schedule.UUID,
			ArchiveType:         due.Schedule.ArchiveType,
			CustomText:          due.Schedule.CustomText,
			TestCreatedArchives: due.Schedule.TestCreatedArchives,
			NoStorage:           due.Schedule.NoStorage,
			ByName:              "scheduler",
		}
		ok = true
	})
	return ok
}

// TriggerManual starts j outside the schedule loop (an admin-initiated
// run), with the given archive type and the caller's identity recorded
// as ByName.
func (r *Runner) TriggerManual(ctx context.Context, j *job.Job, archiveType job.ArchiveType, customText, byName string, dryRun bool) error {
	ok := false
	j.WithActivity(func(a *job.Activity) {
		if a.State == job.StateWaiting || a.State == job.StateRunning {
			return
		}
		*a = job.Activity{
			State:       job.StateWaiting,
			ArchiveType: archiveType,
			CustomText:  customText,
			DryRun:      dryRun,
			ByName:      byName,
		}
		ok = true
	})
	if !ok {
		return fmt.Errorf("runner: job %s is already active", j.UUID)
	}
	return r.run(ctx, j, archiveType)
}

// run transitions WAITING->RUNNING, executes the job's work, and
// transitions to a terminal state (state machine).
func (r *Runner) run(ctx context.Context, j *job.Job, archiveType job.ArchiveType) error {
	tracker := r.Tracker(j)
	started := time.Now()

	j.WithActivity(func(a *job.Activity) {
		a.State = job.StateRunning
	})
	tracker.Update(runninginfo.Snapshot{Timestamp: started})
	r.Publisher.PublishState(j.UUID, job.StateRunning)

	activityBefore := j.Activity()

	var runErr error
	if j.SlaveHost.IsLocal() {
		runErr = r.runLocal(ctx, j, archiveType, tracker)
	} else {
		runErr = r.runRemote(ctx, j, archiveType, tracker)
	}

	final := r.finish(j, archiveType, runErr, started)
	if err := job.WriteSideFile(j.FilePath, final, j.LastExecuted); err != nil {
		r.logger.Warn("failed to write side file after job run",
			zap.String("job_uuid", j.UUID), zap.Error(err))
	}

	if final.State == job.StateDone && !activityBefore.DryRun && !activityBefore.NoStorage {
		r.applyPersistence(ctx, j)
	}
	return runErr
}

// applyPersistence runs the retention engine for j after a successful,
// storage-writing completion: classify every persistence entry's
// existing archives into keep/expire buckets, then apply the
// move-or-delete side effect to whatever expired. Errors are logged,
// not propagated: a retention failure doesn't make the backup itself
// have failed.
func (r *Runner) applyPersistence(ctx context.Context, j *job.Job) {
	if r.Persistence == nil {
		return
	}
	list := j.Persistence()
	if list == nil || len(list.Entries()) == 0 {
		return
	}
	decisions, err := r.Persistence.Classify(ctx, j.UUID, list, time.Now())
	if err != nil {
		r.logger.Warn("persistence classification failed", zap.String("job_uuid", j.UUID), zap.Error(err))
		return
	}
	if err := r.Persistence.Apply(ctx, decisions); err != nil {
		r.logger.Warn("persistence apply failed", zap.String("job_uuid", j.UUID), zap.Error(err))
	}
}

// runLocal executes j in-process via the configured pipeline.Worker.
func (r *Runner) runLocal(ctx context.Context, j *job.Job, archiveType job.ArchiveType, tracker *runninginfo.Tracker) error {
	if r.worker == nil {
		return fmt.Errorf("runner: no local worker configured for job %s", j.UUID)
	}
	if _, err := storage.ParseDestination(j.Destination); err != nil {
		return fmt.Errorf("runner: job %s has an unusable destination: %w", j.UUID, err)
	}
	spec := pipeline.Spec{
		JobUUID:     j.UUID,
		ArchiveType: archiveType,
		Destination: j.Destination,
		DryRun:      j.Activity().DryRun,
	}
	for _, inc := range j.Include {
		spec.Sources = append(spec.Sources, inc.Patterns...)
	}
	for _, exc := range j.Exclude {
		spec.Excludes = append(spec.Excludes, exc.Patterns...)
	}

	return r.worker.Run(ctx, spec, func(s runninginfo.Snapshot) error {
		tracker.Update(s)
		r.Publisher.PublishSnapshot(j.UUID, s)
		if j.Activity().RequestedAbort {
			return fmt.Errorf("runner: job %s aborted", j.UUID)
		}
		return nil
	})
}

// runRemote dispatches j to its configured slave over a pooled mux
// session: JOB_TRIGGER followed by JOB_INFO polling until the slave
// reports completion, streaming progress back through tracker as each
// poll reply arrives.
func (r *Runner) runRemote(ctx context.Context, j *job.Job, archiveType job.ArchiveType, tracker *runninginfo.Tracker) error {
	m, release, err := r.pool.Acquire(ctx, j.SlaveHost)
	if err != nil {
		return fmt.Errorf("runner: acquiring slave connector for job %s: %w", j.UUID, err)
	}
	defer release()
	triggerArgs := wire.NewArgs().
		Set("uuid", j.UUID).
		Set("archiveType", archiveType.String()).
		Set("customText", j.Activity().CustomText)

	if err := m.Execute(cmdJobTrigger, triggerArgs, nil, 30*time.Second); err != nil {
		return fmt.Errorf("runner: JOB_TRIGGER for job %s: %w", j.UUID, err)
	}

	pollArgs := wire.NewArgs().Set("uuid", j.UUID)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if j.Activity().RequestedAbort {
			if err := r.sendAbort(m, j.UUID); err != nil {
				r.logger.Warn("failed to send JOB_ABORT", zap.String("job_uuid", j.UUID), zap.Error(err))
			}
		}

		// jobDone reflects the job's own state as reported in the JOB_INFO
		// reply args, distinct from res.Completed which only marks this
		// particular result line as the RPC's final (possibly sole) part.
		jobDone := false
		var infoErr error
		err := m.Execute(cmdJobInfo, pollArgs, func(res *wire.Result) error {
			snap := runninginfo.Snapshot{
				Timestamp:   time.Now(),
				FilesDone:   uint64(res.Args.GetInt("filesDone", 0)),
				FilesTotal:  uint64(res.Args.GetInt("filesTotal", 0)),
				BytesDone:   uint64(res.Args.GetInt("bytesDone", 0)),
				BytesTotal:  uint64(res.Args.GetInt("bytesTotal", 0)),
				CurrentFile: res.Args.GetString("currentFile", ""),
				ErrorCount:  uint64(res.Args.GetInt("errorCount", 0)),
			}
			tracker.Update(snap)
			r.Publisher.PublishSnapshot(j.UUID, snap)
			switch res.Args.GetString("state", "RUNNING") {
			case "DONE":
				jobDone = true
			case "ABORTED":
				jobDone = true
				infoErr = fmt.Errorf("runner: job %s aborted remotely", j.UUID)
			case "ERROR":
				jobDone = true
				infoErr = fmt.Errorf("runner: slave reported error code %d for job %s", res.ErrorCode, j.UUID)
			}
			return nil
		}, 30*time.Second)
		if err != nil {
			return fmt.Errorf("runner: JOB_INFO for job %s: %w", j.UUID, err)
		}
		if jobDone {
			return infoErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (r *Runner) sendAbort(m *mux.Mux, jobUUID string) error {
	args := wire.NewArgs().Set("uuid", jobUUID)
	return m.Execute(cmdJobAbort, args, nil, remoteAbortTimeout)
}

// Abort requests that a WAITING or RUNNING job stop, recording who
// requested it. For a WAITING job the transition back to NONE happens
// immediately; for a RUNNING job, Abort blocks until the worker
// observes RequestedAbort and the job reaches a terminal state, or
// abortTimeout elapses.
func (r *Runner) Abort(j *job.Job, byName string) error {
	wasRunning := false
	j.WithActivity(func(a *job.Activity) {
		switch a.State {
		case job.StateWaiting:
			*a = job.Activity{}
		case job.StateRunning:
			a.RequestedAbort = true
			a.AbortedBy = byName
			wasRunning = true
		}
	})
	if !wasRunning {
		return nil
	}

	deadline := time.Now().Add(abortTimeout)
	for time.Now().Before(deadline) {
		if j.Activity().State != job.StateRunning {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("runner: job %s did not reach a terminal state within %s of abort", j.UUID, abortTimeout)
}

// finish classifies the terminal state the job run reached and
// records it into j's execution history.
func (r *Runner) finish(j *job.Job, archiveType job.ArchiveType, runErr error, started time.Time) job.ExecutionRecord {
	now := time.Now()
	rec := job.ExecutionRecord{Timestamp: now, ArchiveType: archiveType, State: job.StateDone}

	aborted := false
	j.WithActivity(func(a *job.Activity) {
		aborted = a.RequestedAbort
	})

	switch {
	case aborted:
		rec.State = job.StateAborted
		j.WithActivity(func(a *job.Activity) { rec.ErrorText = fmt.Sprintf("aborted by %s", a.AbortedBy) })
	case runErr != nil:
		rec.State = job.StateError
		rec.ErrorCode = 1
		rec.ErrorText = runErr.Error()
	}

	// The terminal state (DONE/ERROR/ABORTED) stays in place once set;
	// only the next trigger overwrites Activity wholesale.
	j.WithActivity(func(a *job.Activity) {
		a.State = rec.State
	})
	r.Publisher.PublishState(j.UUID, rec.State)

	if j.LastExecuted == nil {
		j.LastExecuted = make(map[job.ArchiveType]job.ExecutionRecord)
	}
	j.LastExecuted[archiveType] = rec
	j.LastExecutedOverall = now
	j.HeaderState = rec
	metrics.RecordJobRun(rec.State.String(), now.Sub(started).Seconds())
	return rec
}
