package job

import (
	"sync"
	"time"
)

// State is the job runner's state machine.
type State int

const (
	StateNone State = iota
	StateWaiting
	StateRunning
	StateDone
	StateError
	StateAborted
	StateDisconnected
)

var stateNames = map[State]string{
	StateNone:         "NONE",
	StateWaiting:      "WAITING",
	StateRunning:      "RUNNING",
	StateDone:         "DONE",
	StateError:        "ERROR",
	StateAborted:      "ABORTED",
	StateDisconnected: "DISCONNECTED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Activity is the mutable runtime state of a triggered/running job,
// protected by Job.mu: mutations happen under the job lock.
type Activity struct {
	State State

	ScheduleUUID        string
	ArchiveType         ArchiveType
	CustomText          string
	TestCreatedArchives bool
	NoStorage           bool
	DryRun              bool
	ByName              string

	RequestedAbort bool
	AbortedBy      string
}

// ExecutionRecord is one archive type's most recent completion, as
// recorded in the side-file.
type ExecutionRecord struct {
	Timestamp   time.Time
	ArchiveType ArchiveType
	State       State
	ErrorCode   int
	ErrorText   string
}

// Job is the in-memory representation of one job file.
type Job struct {
	UUID    string
	Name    string
	JobType JobType

	SlaveHost SlaveHost

	Destination string // typed storage URI, raw form; parsed by internal/storage when dispatched

	Include []IncludeExcludeSpec
	Exclude []IncludeExcludeSpec

	Compression Compression
	Crypt       CryptConfig

	schedules   []*Schedule
	persistence *PersistenceList

	Mounts []string

	PAR2 PAR2Settings

	Comment string

	ArchiveFileMode  ArchiveFileMode
	RestoreEntryMode RestoreEntryMode

	// Registry bookkeeping.
	FilePath     string
	FileModTime  time.Time
	Dirty        bool
	FailedToLoad bool

	// Side-file-derived state.
	LastExecuted        map[ArchiveType]ExecutionRecord
	LastExecutedOverall time.Time
	HeaderState         ExecutionRecord

	mu       sync.Mutex
	activity Activity
}

// New returns an empty job ready to be populated by the config parser.
func New(uuid, name string) *Job {
	return &Job{
		UUID:         uuid,
		Name:         name,
		JobType:      JobTypeCreate,
		persistence:  NewPersistenceList(nil),
		LastExecuted: make(map[ArchiveType]ExecutionRecord),
	}
}

// Schedules returns the job's schedule list.
func (j *Job) Schedules() []*Schedule { return j.schedules }

// SetSchedules replaces the job's schedule list, deduplicating
// equivalent schedules.
func (j *Job) SetSchedules(schedules []*Schedule) {
	j.schedules = DeduplicateSchedules(schedules)
}

// AddSchedule appends one schedule, marking the job dirty.
func (j *Job) AddSchedule(s *Schedule) {
	j.schedules = append(j.schedules, s)
	j.Dirty = true
}

// Persistence returns the job's persistence list.
func (j *Job) Persistence() *PersistenceList { return j.persistence }

// SetPersistence replaces the job's persistence list.
func (j *Job) SetPersistence(list *PersistenceList) { j.persistence = list }

// IsActive reports whether the job is currently WAITING or RUNNING, the
// condition that blocks the registry from reparsing its file and the
// scheduler from re-triggering it.
func (j *Job) IsActive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.activity.State == StateWaiting || j.activity.State == StateRunning
}

// Activity returns a copy of the job's current runtime activity.
func (j *Job) Activity() Activity {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.activity
}

// WithActivity runs fn with the job lock held, for atomic read-modify-write
// transitions driven by internal/runner.
func (j *Job) WithActivity(fn func(a *Activity)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.activity)
}
