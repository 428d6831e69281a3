// Package persistence implements the retention classification engine:
// for each job's persistence policy, decide which existing archives are
// retained and which have expired, consulting buckets smallest-maxAge-first
// and consuming archives greedily so each archive is assigned to at most
// one bucket.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/coldroot-labs/barc/internal/archiveindex"
	"github.com/coldroot-labs/barc/internal/job"
)

// Decision classifies one archive as retained or expired, and where an
// expired archive should be moved, if anywhere.
type Decision struct {
	Archive  archiveindex.Archive
	Retained bool
	MoveTo   string // non-empty only when Retained is false and the owning entry has MoveTo set
}

// Engine runs the classification and, via Apply, the move/delete side
// effects against an archiveindex.Index.
type Engine struct {
	index archiveindex.Index
}

// New builds an Engine backed by index.
func New(index archiveindex.Index) *Engine {
	return &Engine{index: index}
}

// Classify runs the classification algorithm for one persistence list
// against a job's existing archives, returning at most one Decision per
// archive. Entries are consulted in the list's maintained order —
// ascending maxAge, "forever" last — grouped by archive type so that,
// when two entries share a type (migrateDeprecatedRetention can produce
// this), the smaller bucket claims its retained archives first and only
// what it doesn't retain is passed down to the next bucket for that
// type; the last bucket for a type has the final word on anything still
// unclaimed, so every archive is assigned to at most one bucket.
func (e *Engine) Classify(ctx context.Context, jobUUID string, list *job.PersistenceList, now time.Time) ([]Decision, error) {
	var decisions []Decision

	var order []job.ArchiveType
	grouped := make(map[job.ArchiveType][]*job.PersistenceEntry)
	for _, entry := range list.Entries() {
		if _, ok := grouped[entry.ArchiveType]; !ok {
			order = append(order, entry.ArchiveType)
		}
		grouped[entry.ArchiveType] = append(grouped[entry.ArchiveType], entry)
	}

	for _, at := range order {
		archives, err := e.index.ListByJobAndType(ctx, jobUUID, at)
		if err != nil {
			return nil, fmt.Errorf("persistence: listing archives for %s: %w", at, err)
		}
		decisions = append(decisions, classifyBucketChain(grouped[at], archives, now)...)
	}

	return decisions, nil
}

// classifyBucketChain threads a single archive type's remaining,
// not-yet-claimed archives through its buckets in order. Only a bucket's
// retained archives are final immediately; everything it doesn't retain
// is handed to the next bucket, except for the last bucket in the chain
// whose verdict (retain or expire) is final for whatever is left.
func classifyBucketChain(entries []*job.PersistenceEntry, archives []archiveindex.Archive, now time.Time) []Decision {
	var decisions []Decision
	remaining := archives

	for i, entry := range entries {
		bucket := classifyBucket(entry, remaining, now)
		last := i == len(entries)-1

		var next []archiveindex.Archive
		for _, d := range bucket {
			if d.Retained || last {
				decisions = append(decisions, d)
			} else {
				next = append(next, d.Archive)
			}
		}
		remaining = next
	}

	return decisions
}

// classifyBucket implements MinKeep/MaxAge/MaxKeep classification for a
// single (archiveType, policy) bucket: the first MinKeep are
// unconditionally retained, of the rest anything within MaxAgeDays is
// retained up to the remaining MaxKeep budget, everything beyond that
// expires. archives must already be sorted newest-first by CreatedAt.
func classifyBucket(entry *job.PersistenceEntry, archives []archiveindex.Archive, now time.Time) []Decision {
	out := make([]Decision, 0, len(archives))

	kept := 0
	for i, a := range archives {
		if i < entry.MinKeep {
			out = append(out, Decision{Archive: a, Retained: true})
			kept++
			continue
		}

		ageDays := now.Sub(a.CreatedAt).Hours() / 24
		withinAge := entry.MaxAgeForever || ageDays <= float64(entry.MaxAgeDays)
		budgetLeft := entry.MaxKeepAll || kept < entry.MaxKeep

		if withinAge && budgetLeft {
			out = append(out, Decision{Archive: a, Retained: true})
			kept++
			continue
		}

		out = append(out, Decision{Archive: a, Retained: false, MoveTo: entry.MoveTo})
	}

	return out
}

// Apply executes the side effects of a set of Decisions: expired archives
// are moved (if MoveTo is set) or deleted; retained archives are left
// untouched. Returns the first error encountered, after attempting every
// decision.
func (e *Engine) Apply(ctx context.Context, decisions []Decision) error {
	var firstErr error
	for _, d := range decisions {
		if d.Retained {
			continue
		}
		var err error
		if d.MoveTo != "" {
			err = e.index.Move(ctx, d.Archive.ID, d.MoveTo)
		} else {
			err = e.index.Delete(ctx, d.Archive.ID)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("persistence: applying decision for archive %s: %w", d.Archive.ID, err)
		}
	}
	return firstErr
}
