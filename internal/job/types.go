// Package job implements the data model and directory-backed registry of
// jobs, their schedules and persistence policies, and the
// per-job side-file recording last-execution state.
package job

import "github.com/coldroot-labs/barc/internal/session"

// ArchiveType is the kind of archive a schedule or a manual trigger
// produces, Schedule.archiveType.
type ArchiveType int

const (
	ArchiveNormal ArchiveType = iota
	ArchiveFull
	ArchiveIncremental
	ArchiveDifferential
	ArchiveContinuous
)

var archiveTypeNames = map[ArchiveType]string{
	ArchiveNormal:       "normal",
	ArchiveFull:         "full",
	ArchiveIncremental:  "incremental",
	ArchiveDifferential: "differential",
	ArchiveContinuous:   "continuous",
}

func (t ArchiveType) String() string {
	if s, ok := archiveTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseArchiveType maps a config/wire token back to an ArchiveType.
func ParseArchiveType(s string) (ArchiveType, bool) {
	for t, name := range archiveTypeNames {
		if name == s {
			return t, true
		}
	}
	return ArchiveNormal, false
}

// schedulePriority orders archive types for the scheduler's same-tick
// tie-break: full > differential > incremental > normal > continuous.
// Higher value wins.
var schedulePriority = map[ArchiveType]int{
	ArchiveFull:         5,
	ArchiveDifferential: 4,
	ArchiveIncremental:  3,
	ArchiveNormal:       2,
	ArchiveContinuous:   1,
}

// Priority returns t's tie-break rank; higher fires first.
func (t ArchiveType) Priority() int { return schedulePriority[t] }

// PasswordMode selects how a job's crypt password is supplied.
type PasswordMode int

const (
	PasswordDefault PasswordMode = iota
	PasswordAsk
	PasswordNone
	PasswordConfig
)

// JobType identifies the kind of job; notes only CREATE exists
// today, the field is kept open for future job types.
type JobType string

const JobTypeCreate JobType = "CREATE"

// ArchiveFileMode controls what happens when the destination archive file
// already exists.
type ArchiveFileMode int

const (
	ArchiveFileStop ArchiveFileMode = iota
	ArchiveFileAppend
	ArchiveFileOverwrite
)

// RestoreEntryMode controls how restore handles an existing destination
// entry.
type RestoreEntryMode int

const (
	RestoreEntryStop RestoreEntryMode = iota
	RestoreEntrySkip
	RestoreEntryOverwrite
)

// SlaveHost identifies the remote slave a job executes on, empty Name
// meaning local execution.
type SlaveHost struct {
	Name    string
	Port    int
	TLSMode session.TLSMode
}

// IsLocal reports whether the job runs in-process rather than on a slave.
func (h SlaveHost) IsLocal() bool { return h.Name == "" }

// IncludeExcludeSpec is one include or exclude list: a set of patterns,
// or a command/file that produces them at run time.
type IncludeExcludeSpec struct {
	Patterns []string
	Command  string
	File     string
}

// Compression is the job's delta+byte compression algorithm choice.
type Compression struct {
	Delta string
	Byte  string
}

// CryptType distinguishes symmetric from asymmetric crypt configuration.
type CryptType int

const (
	CryptNone CryptType = iota
	CryptSymmetric
	CryptAsymmetric
)

// CryptConfig is the job's crypt choice: type, up to four composable
// algorithms, password mode, and optional key material.
type CryptConfig struct {
	Type         CryptType
	Algorithms   [4]string
	PasswordMode PasswordMode
	PublicKey    string
	PrivateKey   string
}

// PAR2Settings configures optional PAR2 recovery-record generation.
type PAR2Settings struct {
	Enabled          bool
	BlockCount       int
	SourcePercentage float64
}
