// Package runninginfo implements the single object shared between a
// running job's worker goroutine and its observers (websocket clients,
// the HTTP status endpoint): a diff-able progress snapshot with a
// windowed throughput estimate and an ETA.
package runninginfo

import (
	"sync"
	"time"
)

// Snapshot is one point-in-time progress reading, shaped after the
// agent's restic ProgressEvent (done/total counters for files and
// bytes), generalized from a restic-specific JSON event to a
// backend-agnostic progress record.
type Snapshot struct {
	Timestamp time.Time

	FilesDone  uint64
	FilesTotal uint64
	BytesDone  uint64
	BytesTotal uint64

	CurrentFile string
	ErrorCount  uint64
}

// sample is one entry in the rate estimator's sliding window.
type sample struct {
	at    time.Time
	bytes uint64
}

// Tracker accumulates Snapshots for one running job and answers
// Delta/Rate/ETA queries. Safe for concurrent use: one worker goroutine
// calls Update, any number of observer goroutines call Current/Rate/ETA.
type Tracker struct {
	mu       sync.RWMutex
	current  Snapshot
	previous Snapshot
	window   []sample
	windowOf time.Duration
}

// windowDefault bounds how far back the rate estimator looks; recent
// throughput is a better ETA predictor than the run's lifetime average.
const windowDefault = 30 * time.Second

// NewTracker returns a Tracker with the default rate-estimation window.
func NewTracker() *Tracker {
	return &Tracker{windowOf: windowDefault}
}

// Update records a new Snapshot, keeping the prior one for Delta.
func (t *Tracker) Update(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previous = t.current
	t.current = s
	t.window = append(t.window, sample{at: s.Timestamp, bytes: s.BytesDone})
	t.trimWindowLocked(s.Timestamp)
}

func (t *Tracker) trimWindowLocked(now time.Time) {
	cutoff := now.Add(-t.windowOf)
	i := 0
	for i < len(t.window) && t.window[i].at.Before(cutoff) {
		i++
	}
	t.window = t.window[i:]
}

// Current returns the most recent Snapshot.
func (t *Tracker) Current() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Delta returns how much progress was made since the previous Update:
// the difference in files and bytes done, and the elapsed time between
// the two snapshots.
func (t *Tracker) Delta() (filesDelta, bytesDelta uint64, elapsed time.Duration) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.previous.Timestamp.IsZero() {
		return 0, 0, 0
	}
	filesDelta = subUint64(t.current.FilesDone, t.previous.FilesDone)
	bytesDelta = subUint64(t.current.BytesDone, t.previous.BytesDone)
	elapsed = t.current.Timestamp.Sub(t.previous.Timestamp)
	return
}

// Rate returns the bytes/second throughput over the tracker's sliding
// window, or 0 if there are fewer than two samples in the window.
func (t *Tracker) Rate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.window) < 2 {
		return 0
	}
	first, last := t.window[0], t.window[len(t.window)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(subUint64(last.bytes, first.bytes)) / elapsed
}

// ETA estimates the remaining time to BytesTotal at the current windowed
// rate. The second return value is false when the rate is zero or the
// total is unknown, since no meaningful estimate exists.
func (t *Tracker) ETA() (time.Duration, bool) {
	rate := t.Rate()
	if rate <= 0 {
		return 0, false
	}
	t.mu.RLock()
	total := t.current.BytesTotal
	remaining := subUint64(total, t.current.BytesDone)
	t.mu.RUnlock()
	if total == 0 {
		return 0, false
	}
	if remaining == 0 {
		return 0, true
	}
	seconds := float64(remaining) / rate
	return time.Duration(seconds * float64(time.Second)), true
}

func subUint64(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
