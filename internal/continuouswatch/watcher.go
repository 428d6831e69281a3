// Package continuouswatch implements the scheduler's ContinuousWatcher
// contract for ArchiveContinuous schedules: instead of firing on a
// clock tick, these fire shortly after a filesystem change is observed
// under one of the job's include directories.
package continuouswatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
)

// Trigger is the subset of internal/runner.Runner the watcher needs:
// dispatching one fired schedule. It is the same contract the scheduler
// itself depends on.
type Trigger interface {
	Trigger(ctx context.Context, j *job.Job, due job.DueSchedule) error
}

// key identifies one (job, schedule) registration.
type key struct {
	jobUUID      string
	scheduleUUID string
}

type registration struct {
	job      *job.Job
	schedule *job.Schedule
	dirs     []string
}

// Watcher watches the include directories of every registered
// ArchiveContinuous schedule and fires its Trigger, debounced, after
// the directory settles.
type Watcher struct {
	trigger  Trigger
	logger   *zap.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	regs     map[key]*registration
	dirRefs  map[string]int // watched dir -> number of registrations covering it
	timers   map[key]*time.Timer

	stop chan struct{}
	done chan struct{}
}

// New builds a Watcher. Call Run in its own goroutine to start
// consuming fsnotify events; Close releases the underlying OS watch
// descriptors.
func New(trigger Trigger, logger *zap.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Watcher{
		trigger:  trigger,
		logger:   logger.Named("continuouswatch"),
		debounce: debounce,
		fsw:      fsw,
		regs:     make(map[key]*registration),
		dirRefs:  make(map[string]int),
		timers:   make(map[key]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Register starts watching s's include directories on j's behalf. Only
// plain directory patterns (no glob metacharacters) are watchable;
// glob patterns and command- and file-driven include specs are skipped
// silently, since continuous mode needs a concrete path to hand the OS
// watcher. A warning is logged only when no watchable directory remains.
func (w *Watcher) Register(j *job.Job, s *job.Schedule) {
	dirs := includeDirectories(j)
	if len(dirs) == 0 {
		w.logger.Warn("continuous schedule has no watchable include directories",
			zap.String("job_uuid", j.UUID), zap.String("schedule_uuid", s.UUID))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	k := key{jobUUID: j.UUID, scheduleUUID: s.UUID}
	if _, exists := w.regs[k]; exists {
		return
	}
	w.regs[k] = &registration{job: j, schedule: s, dirs: dirs}

	for _, dir := range dirs {
		if w.dirRefs[dir] == 0 {
			if err := w.fsw.Add(dir); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("dir", dir), zap.Error(err))
				continue
			}
		}
		w.dirRefs[dir]++
	}
}

// Unregister stops watching s's directories on j's behalf, removing the
// OS watch once no other registration still needs it.
func (w *Watcher) Unregister(j *job.Job, s *job.Schedule) {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := key{jobUUID: j.UUID, scheduleUUID: s.UUID}
	reg, ok := w.regs[k]
	if !ok {
		return
	}
	delete(w.regs, k)

	if t, ok := w.timers[k]; ok {
		t.Stop()
		delete(w.timers, k)
	}

	for _, dir := range reg.dirs {
		w.dirRefs[dir]--
		if w.dirRefs[dir] <= 0 {
			delete(w.dirRefs, dir)
			_ = w.fsw.Remove(dir)
		}
	}
}

// Run consumes fsnotify events until stop is closed, debouncing bursts
// of changes per registration (job, schedule) before firing it.
func (w *Watcher) Run(stop <-chan struct{}) {
	defer close(w.done)
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)

	w.mu.Lock()
	var matched []key
	for k, reg := range w.regs {
		for _, d := range reg.dirs {
			if d == dir {
				matched = append(matched, k)
				break
			}
		}
	}
	w.mu.Unlock()

	for _, k := range matched {
		w.scheduleFire(k)
	}
}

func (w *Watcher) scheduleFire(k key) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, exists := w.timers[k]; exists {
		t.Reset(w.debounce)
		return
	}
	w.timers[k] = time.AfterFunc(w.debounce, func() { w.fire(k) })
}

func (w *Watcher) fire(k key) {
	w.mu.Lock()
	reg, ok := w.regs[k]
	delete(w.timers, k)
	w.mu.Unlock()
	if !ok {
		return
	}

	due := job.DueSchedule{Schedule: reg.schedule, FireTime: time.Now()}
	if err := w.trigger.Trigger(context.Background(), reg.job, due); err != nil {
		w.logger.Warn("continuous trigger failed",
			zap.String("job_uuid", reg.job.UUID), zap.Error(err))
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func includeDirectories(j *job.Job) []string {
	var dirs []string
	for _, spec := range j.Include {
		if spec.Command != "" || spec.File != "" {
			continue
		}
		for _, p := range spec.Patterns {
			if containsGlobMeta(p) {
				continue
			}
			dirs = append(dirs, filepath.Clean(p))
		}
	}
	return dirs
}

func containsGlobMeta(p string) bool {
	for _, r := range p {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
