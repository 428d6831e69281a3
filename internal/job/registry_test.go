package job_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job"
)

func writeJobFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegistryScanLoadsNewJob(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "nightly.job", `uuid = job-1
name = "nightly"
archiveFileMode = append
restoreEntryMode = skip
destination = "file:///backups/nightly"

[schedule sched-1]
date = */*/*
weekdays = *
time = 3:0
archiveType = full
enabled = true

[persistence pers-1]
archiveType = full
minKeep = 1
maxKeep = 3
maxAge = 30
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())

	j, ok := r.Lookup("job-1")
	require.True(t, ok)
	assert.Equal(t, "nightly", j.Name)
	assert.Equal(t, job.ArchiveFileAppend, j.ArchiveFileMode)
	assert.Equal(t, job.RestoreEntrySkip, j.RestoreEntryMode)
	require.Len(t, j.Schedules(), 1)
	assert.Equal(t, job.ArchiveFull, j.Schedules()[0].ArchiveType)
	require.Equal(t, 1, j.Persistence().Len())
	assert.Equal(t, 3, j.Persistence().Entries()[0].MaxKeep)

	select {
	case c := <-r.Changes():
		assert.Equal(t, job.ChangeAdded, c.Kind)
		assert.Equal(t, "job-1", c.Job.UUID)
	default:
		t.Fatal("expected an Added change notification")
	}
}

func TestRegistryBackfillsEmptyUUIDAndFlushesDirty(t *testing.T) {
	dir := t.TempDir()
	path := writeJobFile(t, dir, "noid.job", `name = "no id yet"
archiveFileMode = stop
restoreEntryMode = stop
destination = "file:///backups/noid"
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())

	jobs := r.Jobs()
	require.Len(t, jobs, 1)
	assert.NotEmpty(t, jobs[0].UUID)
	assert.False(t, jobs[0].Dirty, "dirty job must be flushed during Scan")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "uuid = "+jobs[0].UUID)
}

func TestRegistryMigratesDeprecatedScheduleRetention(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "legacy.job", `uuid = job-legacy
name = "legacy retention"
archiveFileMode = stop
restoreEntryMode = stop
destination = "file:///backups/legacy"

[schedule sched-1]
date = */*/*
weekdays = *
time = 2:0
archiveType = normal
enabled = true
minKeep = 2
maxKeep = 5
maxAge = 14
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())

	j, ok := r.Lookup("job-legacy")
	require.True(t, ok)

	entry := j.Persistence().ForArchiveType(job.ArchiveNormal)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.MinKeep)
	assert.Equal(t, 5, entry.MaxKeep)
	assert.Equal(t, 14, entry.MaxAgeDays)
}

func TestRegistryRemovesJobWhenFileDisappearsAndIdle(t *testing.T) {
	dir := t.TempDir()
	path := writeJobFile(t, dir, "gone.job", `uuid = job-gone
name = "will vanish"
archiveFileMode = stop
restoreEntryMode = stop
destination = "file:///backups/gone"
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())
	_, ok := r.Lookup("job-gone")
	require.True(t, ok)
	<-r.Changes() // drain the Added notification

	require.NoError(t, os.Remove(path))
	require.NoError(t, r.Scan())

	_, ok = r.Lookup("job-gone")
	assert.False(t, ok)

	c := <-r.Changes()
	assert.Equal(t, job.ChangeRemoved, c.Kind)
}

func TestRegistrySkipsJobWithUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "bad.job", `uuid = job-bad
name = "has a typo"
archiveFileMode = stop
restoreEntryMode = stop
destination = "file:///backups/bad"
notARealKey = whatever
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())

	_, ok := r.Lookup("job-bad")
	assert.False(t, ok, "a job with an unknown top-level key must not load")
}

func TestRegistryMarksFailedToLoadOnReparseWithUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := writeJobFile(t, dir, "flip.job", `uuid = job-flip
name = "starts valid"
archiveFileMode = stop
restoreEntryMode = stop
destination = "file:///backups/flip"
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())
	j, ok := r.Lookup("job-flip")
	require.True(t, ok)
	assert.False(t, j.FailedToLoad)
	<-r.Changes() // drain the Added notification

	time.Sleep(10 * time.Millisecond) // ensure the rewritten file's mtime advances
	writeJobFile(t, dir, "flip.job", `uuid = job-flip
name = "starts valid"
archiveFileMode = stop
restoreEntryMode = stop
destination = "file:///backups/flip"
notARealKey = whatever
`)
	require.NoError(t, r.Scan())

	still, ok := r.Lookup("job-flip")
	require.True(t, ok, "a failed reparse keeps the previous job in place")
	assert.True(t, still.FailedToLoad)
	assert.Equal(t, j, still, "the previous in-memory job is kept, not replaced")
}

func TestBuildDocumentRoundTripsJobFields(t *testing.T) {
	dir := t.TempDir()
	writeJobFile(t, dir, "rt.job", `uuid = job-rt
name = "round trip"
archiveFileMode = overwrite
restoreEntryMode = overwrite
destination = "file:///backups/rt"
includePattern = *.go
includePattern = *.md
cryptType = symmetric
cryptAlgorithm = AES256
mount = /mnt/data
par2Enabled = yes
comment = "a comment"

[schedule sched-rt]
date = */*/*
weekdays = mon,wed,fri
time = 4:30
archiveType = incremental
enabled = true

[persistence pers-rt]
archiveType = incremental
minKeep = 2
maxKeep = all
maxAge = forever
`)

	r := job.NewRegistry(dir, zap.NewNop(), 8)
	require.NoError(t, r.Scan())
	j, ok := r.Lookup("job-rt")
	require.True(t, ok)

	doc := job.BuildDocument(j)
	v, ok := doc.Get("name")
	require.True(t, ok)
	assert.Equal(t, "round trip", v)

	assert.Equal(t, []string{"*.go", "*.md"}, doc.GetAll("includePattern"))

	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "schedule", doc.Sections[0].Kind)
	assert.Equal(t, "persistence", doc.Sections[1].Kind)
}
