// Package archiveindex defines the narrow read/list contract the
// persistence engine needs against the archive index database — an
// external collaborator the persistence engine treats only through its
// contract, never by owning its storage. A concrete sqlite-backed
// adapter is provided for tests and single-node deployments.
package archiveindex

import (
	"context"
	"errors"
	"time"

	"github.com/coldroot-labs/barc/internal/job"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("archiveindex: not found")

// Archive is one stored archive file as tracked by the index, the unit
// the persistence engine classifies and expires.
type Archive struct {
	ID          string
	JobUUID     string
	ArchiveType job.ArchiveType
	CreatedAt   time.Time
	Path        string
	SizeBytes   int64
}

// Index is the read/list/mutate contract the persistence engine depends
// on. Implementations own their own storage and schema.
type Index interface {
	// ListByJobAndType returns every archive for jobUUID of the given
	// type, newest-first by CreatedAt — the order the classification
	// engine's MinKeep/MaxAge/MaxKeep buckets require.
	ListByJobAndType(ctx context.Context, jobUUID string, t job.ArchiveType) ([]Archive, error)

	// Insert records a newly created archive.
	Insert(ctx context.Context, a Archive) error

	// Move updates an archive's Path, used when a persistence entry's
	// MoveTo directory is set instead of deleting an expired archive.
	Move(ctx context.Context, id string, newPath string) error

	// Delete removes an archive's index record; the archive file itself
	// is not touched.
	Delete(ctx context.Context, id string) error
}
