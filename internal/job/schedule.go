package job

import (
	"fmt"
	"sort"
	"time"
)

// WildcardField is an integer field that is either a concrete value or the
// "any" wildcard, partial date/time fields.
type WildcardField struct {
	Any   bool
	Value int
}

// Any returns a wildcard field matching every value.
func Any() WildcardField { return WildcardField{Any: true} }

// Fixed returns a field matching exactly v.
func Fixed(v int) WildcardField { return WildcardField{Value: v} }

// Matches reports whether the field matches v.
func (f WildcardField) Matches(v int) bool {
	return f.Any || f.Value == v
}

// WeekdaySet matches a subset of the seven weekdays; an empty set behaves
// as "any" (matches every day), consistent with the independent per-field
// resolution documented in DESIGN.md: weekday and date fields are matched
// independently, neither implies a restriction on the other.
type WeekdaySet struct {
	Any  bool
	Days map[time.Weekday]bool
}

// AnyWeekday returns a set matching every day.
func AnyWeekday() WeekdaySet { return WeekdaySet{Any: true} }

// Matches reports whether the set matches w.
func (s WeekdaySet) Matches(w time.Weekday) bool {
	if s.Any || len(s.Days) == 0 {
		return true
	}
	return s.Days[w]
}

// Schedule is one entry in a job's schedule set.
type Schedule struct {
	UUID       string
	ParentUUID string

	Year  WildcardField
	Month WildcardField
	Day   WildcardField

	WeekDays WeekdaySet

	Hour   WildcardField
	Minute WildcardField

	ArchiveType ArchiveType
	Interval    time.Duration // only meaningful when ArchiveType == ArchiveContinuous

	BeginTime *time.Time
	EndTime   *time.Time

	CustomText string

	TestCreatedArchives bool
	NoStorage           bool
	Enabled             bool

	// Deprecated per-schedule retention fields, migrated into the job's
	// persistence list on load; kept here only long enough for
	// Registry.migrateDeprecatedRetention to read them once.
	DeprecatedMinKeep      int
	DeprecatedMaxKeep      int
	DeprecatedMaxKeepAll   bool
	DeprecatedMaxAgeDays   int
	DeprecatedMaxAgeForever bool
	HasDeprecatedRetention bool
}

// InWindow reports whether t falls within the schedule's optional
// [BeginTime, EndTime] clock window. A nil bound is unconstrained on that
// side. Only the time-of-day component of the bounds is significant.
func (s *Schedule) InWindow(t time.Time) bool {
	if s.BeginTime == nil && s.EndTime == nil {
		return true
	}
	tod := timeOfDay(t)
	if s.BeginTime != nil && tod < timeOfDay(*s.BeginTime) {
		return false
	}
	if s.EndTime != nil && tod > timeOfDay(*s.EndTime) {
		return false
	}
	return true
}

func timeOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// matchesDate reports whether every non-"any" date field of s (year,
// month, day and weekday set) matches t. Hour, minute and the clock
// window are checked by IsDue.
func (s *Schedule) matchesDate(t time.Time) bool {
	if !s.Year.Matches(t.Year()) {
		return false
	}
	if !s.Month.Matches(int(t.Month())) {
		return false
	}
	if !s.Day.Matches(t.Day()) {
		return false
	}
	if !s.WeekDays.Matches(t.Weekday()) {
		return false
	}
	return true
}

// IsDue reports whether s is due at exactly instant t: every non-"any"
// field matches, t is inside the window, and s is enabled.
func (s *Schedule) IsDue(t time.Time) bool {
	if !s.Enabled {
		return false
	}
	if !s.matchesDate(t) {
		return false
	}
	if !s.Hour.Matches(t.Hour()) || !s.Minute.Matches(t.Minute()) {
		return false
	}
	return s.InWindow(t)
}

// maxCatchUpWindow bounds how far into the past CandidateFireTimes will
// look: the catch-up window never exceeds 30 days.
const maxCatchUpWindow = 30 * 24 * time.Hour

// CandidateFireTimes returns every minute-granularity instant in
// (since, now] at which s is due, clamped so the search never starts more
// than maxCatchUpWindow before now.
func (s *Schedule) CandidateFireTimes(since, now time.Time) []time.Time {
	if !s.Enabled || s.ArchiveType == ArchiveContinuous {
		return nil
	}
	earliest := now.Add(-maxCatchUpWindow)
	if since.Before(earliest) {
		since = earliest
	}
	if !since.Before(now) {
		return nil
	}

	var out []time.Time
	cursor := since.Truncate(time.Minute).Add(time.Minute)
	for !cursor.After(now) {
		if s.IsDue(cursor) {
			out = append(out, cursor)
		}
		cursor = cursor.Add(time.Minute)
	}
	return out
}

// EarliestFireTime returns the earliest candidate fire time in (since,
// now], or the zero Time and false if none exists.
func (s *Schedule) EarliestFireTime(since, now time.Time) (time.Time, bool) {
	candidates := s.CandidateFireTimes(since, now)
	if len(candidates) == 0 {
		return time.Time{}, false
	}
	return candidates[0], true
}

// LatestFireTime returns the most recent candidate fire time in (since,
// now], or the zero Time and false if none exists. The scheduler uses
// this, not EarliestFireTime, to collapse a catch-up backlog into a
// single trigger at the most recent missed instant, advancing past
// checkpoint to now regardless of how many instants were skipped.
func (s *Schedule) LatestFireTime(since, now time.Time) (time.Time, bool) {
	candidates := s.CandidateFireTimes(since, now)
	if len(candidates) == 0 {
		return time.Time{}, false
	}
	return candidates[len(candidates)-1], true
}

// fieldsKey renders every field but UUID/ParentUUID into a comparable
// string, used to detect duplicate schedule definitions.
func (s *Schedule) fieldsKey() string {
	return fmt.Sprintf("%v|%v|%v|%v|%v|%v|%d|%d|%v|%v|%s|%v|%v|%v",
		s.Year, s.Month, s.Day, s.WeekDays, s.Hour, s.Minute,
		s.ArchiveType, s.Interval, s.BeginTime, s.EndTime, s.CustomText,
		s.TestCreatedArchives, s.NoStorage, s.Enabled)
}

// DeduplicateSchedules drops schedules whose non-identity fields exactly
// match an earlier entry, keeping the first-seen UUID; the second is
// silently discarded.
func DeduplicateSchedules(schedules []*Schedule) []*Schedule {
	seen := make(map[string]bool, len(schedules))
	out := make([]*Schedule, 0, len(schedules))
	for _, s := range schedules {
		key := s.fieldsKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// DueSchedule pairs a schedule with the fire time it matched, used by the
// scheduler's same-tick tie-break.
type DueSchedule struct {
	Schedule  *Schedule
	FireTime  time.Time
}

// PickWinner applies the tie-break rule to a set of schedules that
// all fired in the same tick for the same job: highest archive-type
// priority first, then earliest fire time, then lowest UUID
// lexicographically.
func PickWinner(due []DueSchedule) *DueSchedule {
	if len(due) == 0 {
		return nil
	}
	sorted := make([]DueSchedule, len(due))
	copy(sorted, due)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Schedule.ArchiveType.Priority() != b.Schedule.ArchiveType.Priority() {
			return a.Schedule.ArchiveType.Priority() > b.Schedule.ArchiveType.Priority()
		}
		if !a.FireTime.Equal(b.FireTime) {
			return a.FireTime.Before(b.FireTime)
		}
		return a.Schedule.UUID < b.Schedule.UUID
	})
	return &sorted[0]
}
