package runninginfo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coldroot-labs/barc/internal/runninginfo"
)

func TestTrackerDeltaBetweenUpdates(t *testing.T) {
	tr := runninginfo.NewTracker()
	t0 := time.Now()
	tr.Update(runninginfo.Snapshot{Timestamp: t0, FilesDone: 10, BytesDone: 1000})
	tr.Update(runninginfo.Snapshot{Timestamp: t0.Add(time.Second), FilesDone: 15, BytesDone: 2500})

	files, bytes, elapsed := tr.Delta()
	assert.Equal(t, uint64(5), files)
	assert.Equal(t, uint64(1500), bytes)
	assert.Equal(t, time.Second, elapsed)
}

func TestTrackerRateOverWindow(t *testing.T) {
	tr := runninginfo.NewTracker()
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		tr.Update(runninginfo.Snapshot{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			BytesDone: uint64(i) * 1000,
		})
	}

	rate := tr.Rate()
	assert.InDelta(t, 1000, rate, 1)
}

func TestTrackerETAUnknownWithoutRate(t *testing.T) {
	tr := runninginfo.NewTracker()
	tr.Update(runninginfo.Snapshot{Timestamp: time.Now(), BytesDone: 0, BytesTotal: 1000})

	_, ok := tr.ETA()
	assert.False(t, ok)
}

func TestTrackerETAEstimate(t *testing.T) {
	tr := runninginfo.NewTracker()
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		tr.Update(runninginfo.Snapshot{
			Timestamp:  t0.Add(time.Duration(i) * time.Second),
			BytesDone:  uint64(i) * 1000,
			BytesTotal: 10000,
		})
	}

	eta, ok := tr.ETA()
	assert.True(t, ok)
	assert.InDelta(t, 6*time.Second, eta, float64(time.Second))
}

func TestTrackerCurrentReflectsLastUpdate(t *testing.T) {
	tr := runninginfo.NewTracker()
	tr.Update(runninginfo.Snapshot{CurrentFile: "a.txt"})
	tr.Update(runninginfo.Snapshot{CurrentFile: "b.txt"})
	assert.Equal(t, "b.txt", tr.Current().CurrentFile)
}
