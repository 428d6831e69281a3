package job

import "sort"

// PersistenceEntry is one retention policy bucket for a single archive
// type.
type PersistenceEntry struct {
	ArchiveType ArchiveType

	MinKeep int

	MaxKeep    int
	MaxKeepAll bool // "all" sentinel: unlimited

	MaxAgeDays    int
	MaxAgeForever bool // "forever" sentinel: unlimited

	MoveTo string
}

// maxAgeSortKey returns a value usable for ascending sort where "forever"
// always sorts last.
func (e *PersistenceEntry) maxAgeSortKey() int {
	if e.MaxAgeForever {
		return int(^uint(0) >> 1) // max int
	}
	return e.MaxAgeDays
}

// PersistenceList is a job's persistence entries, always kept sorted
// ascending by maxAge with "forever" entries last.
type PersistenceList struct {
	entries []*PersistenceEntry
}

// NewPersistenceList builds a sorted list from entries in any order.
func NewPersistenceList(entries []*PersistenceEntry) *PersistenceList {
	l := &PersistenceList{}
	for _, e := range entries {
		l.Insert(e)
	}
	return l
}

// Insert adds e, preserving ascending-maxAge-with-forever-last order.
func (l *PersistenceList) Insert(e *PersistenceEntry) {
	key := e.maxAgeSortKey()
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].maxAgeSortKey() >= key
	})
	l.entries = append(l.entries, nil)
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
}

// Entries returns the entries in their maintained order. The returned
// slice must not be mutated by the caller; use Insert to add entries.
func (l *PersistenceList) Entries() []*PersistenceEntry {
	return l.entries
}

// ForArchiveType returns the first entry matching archive type t, or nil.
// The first matching bucket wins when entries overlap for the same
// archive type (see DESIGN.md).
func (l *PersistenceList) ForArchiveType(t ArchiveType) *PersistenceEntry {
	for _, e := range l.entries {
		if e.ArchiveType == t {
			return e
		}
	}
	return nil
}

// Len reports the number of entries.
func (l *PersistenceList) Len() int { return len(l.entries) }
