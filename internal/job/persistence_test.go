package job_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/archiveindex"
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/persistence"
)

// TestPersistenceListSortedAscendingForeverLast covers that, for any job
// and persistence list, iterating yields maxAge values that are
// non-decreasing, with the "forever" sentinel last.
func TestPersistenceListSortedAscendingForeverLast(t *testing.T) {
	list := job.NewPersistenceList([]*job.PersistenceEntry{
		{ArchiveType: job.ArchiveFull, MaxAgeDays: 90},
		{ArchiveType: job.ArchiveIncremental, MaxAgeForever: true},
		{ArchiveType: job.ArchiveNormal, MaxAgeDays: 7},
		{ArchiveType: job.ArchiveDifferential, MaxAgeDays: 30},
	})

	entries := list.Entries()
	require.Len(t, entries, 4)

	last := -1
	for i, e := range entries {
		if e.MaxAgeForever {
			assert.Equal(t, len(entries)-1, i, "forever entry must sort last")
			continue
		}
		assert.GreaterOrEqual(t, e.MaxAgeDays, last)
		last = e.MaxAgeDays
	}
}

func TestPersistenceListInsertPreservesOrder(t *testing.T) {
	list := job.NewPersistenceList(nil)
	list.Insert(&job.PersistenceEntry{ArchiveType: job.ArchiveFull, MaxAgeDays: 30})
	list.Insert(&job.PersistenceEntry{ArchiveType: job.ArchiveNormal, MaxAgeDays: 7})
	list.Insert(&job.PersistenceEntry{ArchiveType: job.ArchiveIncremental, MaxAgeForever: true})
	list.Insert(&job.PersistenceEntry{ArchiveType: job.ArchiveDifferential, MaxAgeDays: 90})

	got := make([]int, 0, 4)
	for _, e := range list.Entries() {
		if e.MaxAgeForever {
			got = append(got, -1)
			continue
		}
		got = append(got, e.MaxAgeDays)
	}
	assert.Equal(t, []int{7, 30, 90, -1}, got)
}

// fakeIndex is an in-memory archiveindex.Index for the persistence engine
// tests, avoiding a real sqlite database.
type fakeIndex struct {
	archives map[string]archiveindex.Archive
}

func newFakeIndex(archives []archiveindex.Archive) *fakeIndex {
	m := make(map[string]archiveindex.Archive, len(archives))
	for _, a := range archives {
		m[a.ID] = a
	}
	return &fakeIndex{archives: m}
}

func (f *fakeIndex) ListByJobAndType(_ context.Context, jobUUID string, at job.ArchiveType) ([]archiveindex.Archive, error) {
	var out []archiveindex.Archive
	for _, a := range f.archives {
		if a.JobUUID == jobUUID && a.ArchiveType == at {
			out = append(out, a)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeIndex) Insert(_ context.Context, a archiveindex.Archive) error {
	f.archives[a.ID] = a
	return nil
}

func (f *fakeIndex) Move(_ context.Context, id string, newPath string) error {
	a, ok := f.archives[id]
	if !ok {
		return archiveindex.ErrNotFound
	}
	a.Path = newPath
	f.archives[id] = a
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	if _, ok := f.archives[id]; !ok {
		return archiveindex.ErrNotFound
	}
	delete(f.archives, id)
	return nil
}

// TestPersistenceExpiryS3 covers the case where a job has 5
// existing "full" archives at ages in days [1, 8, 35, 100, 400] and a
// single policy entry {minKeep=1, maxKeep=3, maxAge=90}. After the engine
// runs, retained ages are [1, 8, 35] and expired ages are [100, 400].
func TestPersistenceExpiryS3(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ages := []int{1, 8, 35, 100, 400}

	var archives []archiveindex.Archive
	for _, age := range ages {
		archives = append(archives, archiveindex.Archive{
			ID:          idFor(age),
			JobUUID:     "job-1",
			ArchiveType: job.ArchiveFull,
			CreatedAt:   now.Add(-time.Duration(age) * 24 * time.Hour),
			Path:        "/archives/full-" + idFor(age),
		})
	}

	idx := newFakeIndex(archives)
	engine := persistence.New(idx)

	list := job.NewPersistenceList([]*job.PersistenceEntry{
		{ArchiveType: job.ArchiveFull, MinKeep: 1, MaxKeep: 3, MaxAgeDays: 90},
	})

	decisions, err := engine.Classify(context.Background(), "job-1", list, now)
	require.NoError(t, err)
	require.Len(t, decisions, 5)

	var retainedAges, expiredAges []int
	for _, d := range decisions {
		age := int(now.Sub(d.Archive.CreatedAt).Hours() / 24)
		if d.Retained {
			retainedAges = append(retainedAges, age)
		} else {
			expiredAges = append(expiredAges, age)
		}
	}

	assert.ElementsMatch(t, []int{1, 8, 35}, retainedAges)
	assert.ElementsMatch(t, []int{100, 400}, expiredAges)
}

// TestPersistenceNeverExpiresWhenUnlimited covers the boundary
// minKeep=0, maxKeep=all, maxAge=forever: nothing ever expires.
func TestPersistenceNeverExpiresWhenUnlimited(t *testing.T) {
	now := time.Now()
	archives := []archiveindex.Archive{
		{ID: "a", JobUUID: "job-2", ArchiveType: job.ArchiveFull, CreatedAt: now.Add(-1000 * 24 * time.Hour)},
		{ID: "b", JobUUID: "job-2", ArchiveType: job.ArchiveFull, CreatedAt: now.Add(-1 * time.Hour)},
	}
	idx := newFakeIndex(archives)
	engine := persistence.New(idx)

	list := job.NewPersistenceList([]*job.PersistenceEntry{
		{ArchiveType: job.ArchiveFull, MinKeep: 0, MaxKeepAll: true, MaxAgeForever: true},
	})

	decisions, err := engine.Classify(context.Background(), "job-2", list, now)
	require.NoError(t, err)
	for _, d := range decisions {
		assert.True(t, d.Retained)
	}
}

// TestPersistenceExpiresEverythingImmediately covers the boundary
// minKeep=0, maxKeep=0, maxAge=0: everything expires immediately.
func TestPersistenceExpiresEverythingImmediately(t *testing.T) {
	now := time.Now()
	archives := []archiveindex.Archive{
		{ID: "a", JobUUID: "job-3", ArchiveType: job.ArchiveFull, CreatedAt: now},
		{ID: "b", JobUUID: "job-3", ArchiveType: job.ArchiveFull, CreatedAt: now.Add(-time.Minute)},
	}
	idx := newFakeIndex(archives)
	engine := persistence.New(idx)

	list := job.NewPersistenceList([]*job.PersistenceEntry{
		{ArchiveType: job.ArchiveFull, MinKeep: 0, MaxKeep: 0, MaxAgeDays: 0},
	})

	decisions, err := engine.Classify(context.Background(), "job-3", list, now)
	require.NoError(t, err)
	for _, d := range decisions {
		assert.False(t, d.Retained)
	}
}

// TestPersistenceOverlappingEntriesAssignEachArchiveOnce covers two
// persistence entries sharing an archive type (the shape
// migrateDeprecatedRetention can produce): a tight 30-day bucket and a
// forever catch-all. An archive must not receive two Decisions, and the
// forever bucket only gets a say over what the 30-day bucket didn't keep.
func TestPersistenceOverlappingEntriesAssignEachArchiveOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ages := []int{5, 40, 200}

	var archives []archiveindex.Archive
	for _, age := range ages {
		archives = append(archives, archiveindex.Archive{
			ID:          idFor(age),
			JobUUID:     "job-4",
			ArchiveType: job.ArchiveFull,
			CreatedAt:   now.Add(-time.Duration(age) * 24 * time.Hour),
		})
	}

	idx := newFakeIndex(archives)
	engine := persistence.New(idx)

	list := job.NewPersistenceList([]*job.PersistenceEntry{
		{ArchiveType: job.ArchiveFull, MinKeep: 0, MaxKeep: 1, MaxAgeDays: 30},
		{ArchiveType: job.ArchiveFull, MinKeep: 0, MaxKeepAll: true, MaxAgeForever: true},
	})

	decisions, err := engine.Classify(context.Background(), "job-4", list, now)
	require.NoError(t, err)
	require.Len(t, decisions, len(ages), "each archive must get exactly one decision")

	byAge := make(map[int]bool)
	for _, d := range decisions {
		age := int(now.Sub(d.Archive.CreatedAt).Hours() / 24)
		byAge[age] = d.Retained
	}
	assert.True(t, byAge[5], "within the 30-day bucket's budget, retained by the tight bucket")
	assert.True(t, byAge[40], "outside the 30-day bucket, but retained by the forever catch-all")
	assert.True(t, byAge[200], "also caught by the forever catch-all")
}

func idFor(age int) string {
	return "archive-" + strconv.Itoa(age)
}
