package job_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/job"
)

// TestScheduleAnyMatchesEveryValue covers the boundary: schedule field =
// "any" matches every valid value of that field.
func TestScheduleAnyMatchesEveryValue(t *testing.T) {
	s := &job.Schedule{
		Year:        job.Any(),
		Month:       job.Any(),
		Day:         job.Any(),
		WeekDays:    job.AnyWeekday(),
		Hour:        job.Fixed(3),
		Minute:      job.Fixed(0),
		ArchiveType: job.ArchiveIncremental,
		Enabled:     true,
	}

	for _, d := range []time.Time{
		time.Date(2020, 1, 1, 3, 0, 0, 0, time.UTC),
		time.Date(2099, 12, 31, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 3, 0, 0, 0, time.UTC),
	} {
		assert.True(t, s.IsDue(d), "expected due at %v", d)
	}
}

// TestScheduleCatchUpWindowBoundary covers the boundary: catch-up window
// never exceeds 30 days, even when `since` is far older.
func TestScheduleCatchUpWindowBoundary(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-365 * 24 * time.Hour)

	s := &job.Schedule{
		Year: job.Any(), Month: job.Any(), Day: job.Any(),
		WeekDays: job.AnyWeekday(),
		Hour:     job.Fixed(3), Minute: job.Fixed(0),
		ArchiveType: job.ArchiveIncremental,
		Enabled:     true,
	}

	candidates := s.CandidateFireTimes(since, now)
	require.NotEmpty(t, candidates)
	earliest := candidates[0]
	assert.LessOrEqual(t, now.Sub(earliest), 30*24*time.Hour+time.Minute)
}

// TestScheduleCatchUpMostRecentMiss covers the case where a job is idle
// with no side-file, now=2024-02-01 12:00, and one schedule fires daily
// at 03:00. Expected: exactly one trigger at start-up with the most
// recent past 03:00, and a second tick one minute later does not re-fire.
func TestScheduleCatchUpMostRecentMiss(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	anchor := now.Add(-30 * 24 * time.Hour) // side-file absent: now - 30 days

	s := &job.Schedule{
		Year: job.Any(), Month: job.Any(), Day: job.Any(),
		WeekDays: job.AnyWeekday(),
		Hour:     job.Fixed(3), Minute: job.Fixed(0),
		ArchiveType: job.ArchiveIncremental,
		Enabled:     true,
	}

	fire, ok := s.LatestFireTime(anchor, now)
	require.True(t, ok)
	expected := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)
	assert.True(t, fire.Equal(expected), "got %v want %v", fire, expected)

	lastCheck := now

	secondTick := now.Add(time.Minute)
	_, ok = s.LatestFireTime(lastCheck, secondTick)
	assert.False(t, ok, "second tick one minute later must not re-fire")
}

// TestScheduleDuplicateSuppression covers the case where two schedule
// entries have identical fields but different UUIDs; after load,
// loadSchedules keeps exactly one (the first-seen UUID).
func TestScheduleDuplicateSuppression(t *testing.T) {
	base := job.Schedule{
		Year: job.Fixed(2024), Month: job.Fixed(1), Day: job.Fixed(1),
		WeekDays: job.AnyWeekday(),
		Hour:     job.Fixed(3), Minute: job.Fixed(0),
		ArchiveType: job.ArchiveNormal,
		Enabled:     true,
	}
	first := base
	first.UUID = "11111111-1111-1111-1111-111111111111"
	second := base
	second.UUID = "22222222-2222-2222-2222-222222222222"

	deduped := job.DeduplicateSchedules([]*job.Schedule{&first, &second})
	require.Len(t, deduped, 1)
	assert.Equal(t, first.UUID, deduped[0].UUID)
}

// TestSchedulePriorityTieBreak covers tie-break: highest
// archive-type priority first, then earliest fire time, then lowest
// schedule UUID lexicographically.
func TestSchedulePriorityTieBreak(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	full := &job.Schedule{UUID: "b", ArchiveType: job.ArchiveFull}
	incremental := &job.Schedule{UUID: "a", ArchiveType: job.ArchiveIncremental}
	normal := &job.Schedule{UUID: "c", ArchiveType: job.ArchiveNormal}

	due := []job.DueSchedule{
		{Schedule: incremental, FireTime: t1},
		{Schedule: full, FireTime: t2},
		{Schedule: normal, FireTime: t1},
	}

	winner := job.PickWinner(due)
	require.NotNil(t, winner)
	assert.Equal(t, full, winner.Schedule, "full has highest priority regardless of fire time")

	// Same priority, different fire times: earliest wins.
	dueSamePriority := []job.DueSchedule{
		{Schedule: &job.Schedule{UUID: "z", ArchiveType: job.ArchiveFull}, FireTime: t2},
		{Schedule: &job.Schedule{UUID: "y", ArchiveType: job.ArchiveFull}, FireTime: t1},
	}
	winner2 := job.PickWinner(dueSamePriority)
	require.NotNil(t, winner2)
	assert.Equal(t, t1, winner2.FireTime)

	// Same priority, same fire time: lowest UUID wins.
	dueSameTime := []job.DueSchedule{
		{Schedule: &job.Schedule{UUID: "zzz", ArchiveType: job.ArchiveFull}, FireTime: t1},
		{Schedule: &job.Schedule{UUID: "aaa", ArchiveType: job.ArchiveFull}, FireTime: t1},
	}
	winner3 := job.PickWinner(dueSameTime)
	require.NotNil(t, winner3)
	assert.Equal(t, "aaa", winner3.Schedule.UUID)
}
