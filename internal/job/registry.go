package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/job/config"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/testhook"
)

// ChangeKind classifies a Registry.Changes notification.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRemoved
)

// Change is emitted to the scheduler and continuous-watch subsystem on
// every scan that adds, reparses, or removes a job.
type Change struct {
	Kind ChangeKind
	Job  *Job
}

// Registry owns the jobs directory: scanning, loading, dirty-flushing,
// and UUID bookkeeping.
type Registry struct {
	dir string
	log *zap.Logger

	// DefaultsPath, if set, points at a `.default` template job file
	// whose values pre-populate newly created jobs before their own file
	// is parsed — a supplement from original_source/bar/jobs.c.
	DefaultsPath string

	mu      sync.Mutex
	jobs    map[string]*Job // keyed by UUID
	byFile  map[string]*Job // keyed by absolute file path

	changes chan Change
}

// NewRegistry returns a Registry rooted at dir. changesBuf sizes the
// change-notification channel; 0 is a safe default for tests.
func NewRegistry(dir string, log *zap.Logger, changesBuf int) *Registry {
	return &Registry{
		dir:     dir,
		log:     log,
		jobs:    make(map[string]*Job),
		byFile:  make(map[string]*Job),
		changes: make(chan Change, changesBuf),
	}
}

// Changes returns the channel the scheduler/continuous-watcher should
// drain for add/update/remove notifications.
func (r *Registry) Changes() <-chan Change { return r.changes }

// Jobs returns a snapshot slice of all known jobs.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// Lookup returns the job with the given UUID, if known.
func (r *Registry) Lookup(uuid string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[uuid]
	return j, ok
}

// TestAddJob inserts j directly into the registry without a backing
// file, for tests in other packages that need a known job.
func (r *Registry) TestAddJob(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.UUID] = j
}

// Scan implements directory scan: creates new jobs,
// reparses changed idle jobs, removes jobs whose file disappeared while
// idle, backfills empty UUIDs, flushes dirty jobs, and reports duplicate
// UUIDs as warnings.
func (r *Registry) Scan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("job: reading jobs directory %s: %w", r.dir, err)
	}

	seenFiles := make(map[string]bool, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			r.log.Warn("job: stat failed, skipping", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		seenFiles[path] = true

		r.mu.Lock()
		existing := r.byFile[path]
		r.mu.Unlock()
		if existing != nil {
			if existing.IsActive() {
				continue
			}
			if !info.ModTime().After(existing.FileModTime) {
				continue
			}
			if err := r.reparse(existing, path); err != nil {
				r.log.Warn("job: reparse failed, keeping previous state", zap.String("file", path), zap.Error(err))
			}
			continue
		}

		if err := r.create(path); err != nil {
			r.log.Warn("job: load failed, skipping", zap.String("file", path), zap.Error(err))
		}
	}

	r.removeMissing(seenFiles)
	r.backfillUUIDs()
	r.warnDuplicateUUIDs()
	return r.flushDirty()
}

func (r *Registry) create(path string) error {
	j, err := r.loadFile(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.jobs[j.UUID] = j
	r.byFile[path] = j
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeAdded, Job: j})
	return nil
}

func (r *Registry) reparse(existing *Job, path string) error {
	j, err := r.loadFile(path)
	if err != nil {
		existing.FailedToLoad = true
		return err
	}
	j.UUID = existing.UUID // a reparse never changes identity
	r.mu.Lock()
	r.jobs[j.UUID] = j
	r.byFile[path] = j
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeUpdated, Job: j})
	return nil
}

func (r *Registry) removeMissing(seenFiles map[string]bool) {
	r.mu.Lock()
	var toRemove []*Job
	for path, j := range r.byFile {
		if seenFiles[path] {
			continue
		}
		if j.IsActive() {
			continue
		}
		toRemove = append(toRemove, j)
		delete(r.byFile, path)
		delete(r.jobs, j.UUID)
	}
	r.mu.Unlock()
	for _, j := range toRemove {
		r.notify(Change{Kind: ChangeRemoved, Job: j})
	}
}

func (r *Registry) backfillUUIDs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.byFile {
		if j.UUID != "" {
			continue
		}
		newID := testhook.NewUUID()
		delete(r.jobs, "")
		j.UUID = newID
		j.Dirty = true
		r.jobs[newID] = j
	}
}

func (r *Registry) warnDuplicateUUIDs() {
	r.mu.Lock()
	counts := make(map[string]int)
	for _, j := range r.byFile {
		counts[j.UUID]++
	}
	r.mu.Unlock()
	for id, n := range counts {
		if n > 1 {
			r.log.Warn("job: duplicate UUID across jobs", zap.String("uuid", id), zap.Int("count", n))
		}
	}
}

func (r *Registry) flushDirty() error {
	r.mu.Lock()
	var dirty []*Job
	for _, j := range r.jobs {
		if j.Dirty {
			dirty = append(dirty, j)
		}
	}
	r.mu.Unlock()
	var firstErr error
	for _, j := range dirty {
		if err := r.saveFile(j); err != nil && firstErr == nil {
			firstErr = err
		} else {
			j.Dirty = false
		}
	}
	return firstErr
}

func (r *Registry) notify(c Change) {
	select {
	case r.changes <- c:
	default:
		r.log.Warn("job: change channel full, dropping notification", zap.String("uuid", c.Job.UUID))
	}
}

// loadFile parses one job file into a *Job, applying DefaultsPath
// pre-population, deprecated-key migration, and schedule deduplication.
func (r *Registry) loadFile(path string) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("job: opening %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("job: stat %s: %w", path, err)
	}

	doc, err := config.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("job: parsing %s: %w", path, err)
	}

	j := New("", filepath.Base(path))
	if r.DefaultsPath != "" {
		if defDoc, derr := parseDocFile(r.DefaultsPath); derr == nil {
			applyJobEntries(j, defDoc) //nolint:errcheck // defaults file is pre-population, not the job's own config
		}
	}

	dirty, err := applyJobEntries(j, doc)
	if err != nil {
		return nil, fmt.Errorf("job: parsing %s: %w", path, err)
	}

	schedules, schedDirty, err := loadSchedules(doc)
	if err != nil {
		return nil, fmt.Errorf("job: parsing schedules in %s: %w", path, err)
	}
	j.SetSchedules(schedules)
	dirty = dirty || schedDirty

	persist, err := loadPersistence(doc)
	if err != nil {
		return nil, fmt.Errorf("job: parsing persistence in %s: %w", path, err)
	}
	j.SetPersistence(persist)

	migrateDeprecatedRetention(j, schedules)

	j.FilePath = path
	j.FileModTime = info.ModTime()
	j.Dirty = dirty

	header, perType, err := ReadSideFile(path)
	if err != nil {
		r.log.Warn("job: side-file read failed", zap.String("file", path), zap.Error(err))
	} else {
		j.HeaderState = header
		j.LastExecuted = perType
		j.LastExecutedOverall = header.Timestamp
	}

	return j, nil
}

func parseDocFile(path string) (*config.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.Parse(f)
}

// applyJobEntries maps doc's top-level entries onto j, returning true if
// any deprecated key was encountered (the job must then be flushed in the
// modern form). An unknown top-level key is a syntax error: the caller
// fails the whole file rather than loading a partial job.
func applyJobEntries(j *Job, doc *config.Document) (dirty bool, err error) {
	for _, e := range doc.Entries {
		spec, known := config.JobSchema[e.Key]
		if !known {
			return false, fmt.Errorf("job: unknown key %q", e.Key)
		}
		if spec.Deprecated {
			dirty = true
		}
		applyJobField(j, spec, e.Value)
	}
	return dirty, nil
}

func applyJobField(j *Job, spec *config.FieldSchema, value string) {
	switch spec.Key {
	case "uuid":
		j.UUID = value
	case "name":
		if s, err := config.ParseQuotedString(value); err == nil {
			j.Name = s
		}
	case "jobType":
		j.JobType = JobType(value)
	case "slaveHostName":
		j.SlaveHost.Name = value
	case "slaveHostPort":
		if n, err := strconv.Atoi(value); err == nil {
			j.SlaveHost.Port = n
		}
	case "slaveHostTLSMode":
		j.SlaveHost.TLSMode = parseTLSMode(value)
	case "archiveFileMode":
		j.ArchiveFileMode = parseArchiveFileMode(value)
	case "restoreEntryMode":
		j.RestoreEntryMode = parseRestoreEntryMode(value)
	case "destination":
		if s, err := config.ParseQuotedString(value); err == nil {
			j.Destination = s
		}
	case "includePattern":
		appendPattern(&j.Include, value)
	case "excludePattern":
		appendPattern(&j.Exclude, value)
	case "compressDelta":
		j.Compression.Delta = value
	case "compressByte":
		j.Compression.Byte = value
	case "cryptType":
		j.Crypt.Type = parseCryptType(value)
	case "cryptAlgorithm":
		appendCryptAlgorithm(&j.Crypt, value)
	case "cryptPasswordMode":
		j.Crypt.PasswordMode = parsePasswordMode(value)
	case "cryptPublicKey":
		j.Crypt.PublicKey = value
	case "cryptPrivateKey":
		j.Crypt.PrivateKey = value
	case "mount":
		j.Mounts = append(j.Mounts, value)
	case "par2Enabled":
		if b, err := config.ParseBool(value, config.BoolNames{}); err == nil {
			j.PAR2.Enabled = b
		}
	case "par2BlockCount":
		if n, err := config.ParseIntWithUnits(value, config.StandardByteUnits); err == nil {
			j.PAR2.BlockCount = int(n)
		}
	case "par2SourcePercentage":
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err == nil {
			j.PAR2.SourcePercentage = f
		}
	case "comment":
		if s, err := config.ParseQuotedString(value); err == nil {
			j.Comment = s
		}
	}
}

func appendPattern(specs *[]IncludeExcludeSpec, pattern string) {
	if len(*specs) == 0 {
		*specs = append(*specs, IncludeExcludeSpec{})
	}
	(*specs)[0].Patterns = append((*specs)[0].Patterns, pattern)
}

func appendCryptAlgorithm(c *CryptConfig, alg string) {
	for i := range c.Algorithms {
		if c.Algorithms[i] == "" {
			c.Algorithms[i] = alg
			return
		}
	}
}

func parseTLSMode(s string) session.TLSMode {
	switch s {
	case "try":
		return session.TLSModeTry
	case "force":
		return session.TLSModeForce
	default:
		return session.TLSModeNone
	}
}

func parseArchiveFileMode(s string) ArchiveFileMode {
	switch s {
	case "append":
		return ArchiveFileAppend
	case "overwrite":
		return ArchiveFileOverwrite
	default:
		return ArchiveFileStop
	}
}

func parseRestoreEntryMode(s string) RestoreEntryMode {
	switch s {
	case "skip":
		return RestoreEntrySkip
	case "overwrite":
		return RestoreEntryOverwrite
	default:
		return RestoreEntryStop
	}
}

func parseCryptType(s string) CryptType {
	switch s {
	case "symmetric":
		return CryptSymmetric
	case "asymmetric":
		return CryptAsymmetric
	default:
		return CryptNone
	}
}

func parsePasswordMode(s string) PasswordMode {
	switch s {
	case "ask":
		return PasswordAsk
	case "none":
		return PasswordNone
	case "config":
		return PasswordConfig
	default:
		return PasswordDefault
	}
}

func loadSchedules(doc *config.Document) (schedules []*Schedule, dirty bool, err error) {
	for _, sec := range doc.Sections {
		if sec.Kind != "schedule" {
			continue
		}
		s := &Schedule{UUID: sec.ID, Enabled: true}
		for _, e := range sec.Entries {
			spec, known := config.ScheduleSchema[e.Key]
			if !known {
				return nil, false, fmt.Errorf("job: unknown key %q in [schedule %s]", e.Key, sec.ID)
			}
			if spec.Deprecated {
				dirty = true
			}
			if err := applyScheduleField(s, spec, e.Value); err != nil {
				return nil, false, err
			}
		}
		schedules = append(schedules, s)
	}
	return schedules, dirty, nil
}

func applyScheduleField(s *Schedule, spec *config.FieldSchema, value string) error {
	switch spec.Key {
	case "date":
		y, m, d, err := parseDateField(value)
		if err != nil {
			return err
		}
		s.Year, s.Month, s.Day = y, m, d
	case "weekdays":
		applyWeekday(&s.WeekDays, value)
	case "time":
		h, m, err := parseTimeField(value)
		if err != nil {
			return err
		}
		s.Hour, s.Minute = h, m
	case "archiveType":
		if at, ok := ParseArchiveType(value); ok {
			s.ArchiveType = at
		}
	case "interval":
		if n, err := strconv.Atoi(value); err == nil {
			s.Interval = time.Duration(n) * time.Second
		}
	case "beginTime":
		t, err := parseClockTime(value)
		if err == nil {
			s.BeginTime = &t
		}
	case "endTime":
		t, err := parseClockTime(value)
		if err == nil {
			s.EndTime = &t
		}
	case "customText":
		s.CustomText = value
	case "testCreatedArchives":
		if b, err := config.ParseBool(value, config.BoolNames{}); err == nil {
			s.TestCreatedArchives = b
		}
	case "noStorage":
		if b, err := config.ParseBool(value, config.BoolNames{}); err == nil {
			s.NoStorage = b
		}
	case "enabled":
		if b, err := config.ParseBool(value, config.BoolNames{}); err == nil {
			s.Enabled = b
		}
	case "minKeep":
		s.HasDeprecatedRetention = true
		if n, err := strconv.Atoi(value); err == nil {
			s.DeprecatedMinKeep = n
		}
	case "maxKeep":
		s.HasDeprecatedRetention = true
		n, isAll, err := config.ParseIntOrSentinel(value, config.SentinelAll)
		if err == nil {
			s.DeprecatedMaxKeep, s.DeprecatedMaxKeepAll = n, isAll
		}
	case "maxAge":
		s.HasDeprecatedRetention = true
		n, isForever, err := config.ParseIntOrSentinel(value, config.SentinelForever)
		if err == nil {
			s.DeprecatedMaxAgeDays, s.DeprecatedMaxAgeForever = n, isForever
		}
	}
	return nil
}

func parseDateField(value string) (year, month, day WildcardField, err error) {
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return WildcardField{}, WildcardField{}, WildcardField{}, fmt.Errorf("job: invalid date %q, want Y/M/D", value)
	}
	year, err = parseWildcardInt(parts[0])
	if err != nil {
		return
	}
	month, err = parseWildcardInt(parts[1])
	if err != nil {
		return
	}
	day, err = parseWildcardInt(parts[2])
	return
}

func parseTimeField(value string) (hour, minute WildcardField, err error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return WildcardField{}, WildcardField{}, fmt.Errorf("job: invalid time %q, want H:M", value)
	}
	hour, err = parseWildcardInt(parts[0])
	if err != nil {
		return
	}
	minute, err = parseWildcardInt(parts[1])
	return
}

func parseWildcardInt(s string) (WildcardField, error) {
	s = strings.TrimSpace(s)
	if s == "*" || strings.EqualFold(s, "any") {
		return Any(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return WildcardField{}, fmt.Errorf("job: invalid wildcard field %q: %w", s, err)
	}
	return Fixed(n), nil
}

func applyWeekday(set *WeekdaySet, value string) {
	if value == "*" || strings.EqualFold(value, "any") || value == "" {
		*set = AnyWeekday()
		return
	}
	if set.Days == nil {
		set.Days = make(map[time.Weekday]bool)
	}
	for _, tok := range strings.Split(value, ",") {
		if wd, ok := parseWeekdayName(strings.TrimSpace(tok)); ok {
			set.Days[wd] = true
		}
	}
}

func parseWeekdayName(s string) (time.Weekday, bool) {
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	wd, ok := names[strings.ToLower(s)]
	return wd, ok
}

func parseClockTime(value string) (time.Time, error) {
	return time.Parse("15:04", value)
}

func loadPersistence(doc *config.Document) (*PersistenceList, error) {
	var entries []*PersistenceEntry
	for _, sec := range doc.Sections {
		if sec.Kind != "persistence" {
			continue
		}
		e := &PersistenceEntry{}
		archiveTypeKnown := false
		for _, kv := range sec.Entries {
			spec, known := config.PersistenceSchema[kv.Key]
			if !known {
				return nil, fmt.Errorf("job: unknown key %q in [persistence %s]", kv.Key, sec.ID)
			}
			switch spec.Key {
			case "archiveType":
				if at, ok := ParseArchiveType(kv.Value); ok {
					e.ArchiveType = at
					archiveTypeKnown = true
				}
			case "minKeep":
				if n, err := strconv.Atoi(kv.Value); err == nil {
					e.MinKeep = n
				}
			case "maxKeep":
				n, isAll, err := config.ParseIntOrSentinel(kv.Value, config.SentinelAll)
				if err == nil {
					e.MaxKeep, e.MaxKeepAll = n, isAll
				}
			case "maxAge":
				n, isForever, err := config.ParseIntOrSentinel(kv.Value, config.SentinelForever)
				if err == nil {
					e.MaxAgeDays, e.MaxAgeForever = n, isForever
				}
			case "moveTo":
				e.MoveTo = kv.Value
			}
		}
		if !archiveTypeKnown {
			// Missing or unparseable archive type: skip the section.
			continue
		}
		entries = append(entries, e)
	}
	return NewPersistenceList(entries), nil
}

// migrateDeprecatedRetention migrates deprecated per-schedule retention
// fields forward: for each schedule carrying them, synthesize a matching
// persistence entry if one doesn't already exist.
func migrateDeprecatedRetention(j *Job, schedules []*Schedule) {
	for _, s := range schedules {
		if !s.HasDeprecatedRetention {
			continue
		}
		if existing := j.Persistence().ForArchiveType(s.ArchiveType); existing != nil &&
			existing.MinKeep == s.DeprecatedMinKeep &&
			existing.MaxKeep == s.DeprecatedMaxKeep &&
			existing.MaxKeepAll == s.DeprecatedMaxKeepAll &&
			existing.MaxAgeDays == s.DeprecatedMaxAgeDays &&
			existing.MaxAgeForever == s.DeprecatedMaxAgeForever {
			continue
		}
		j.Persistence().Insert(&PersistenceEntry{
			ArchiveType:   s.ArchiveType,
			MinKeep:       s.DeprecatedMinKeep,
			MaxKeep:       s.DeprecatedMaxKeep,
			MaxKeepAll:    s.DeprecatedMaxKeepAll,
			MaxAgeDays:    s.DeprecatedMaxAgeDays,
			MaxAgeForever: s.DeprecatedMaxAgeForever,
		})
		j.Dirty = true
	}
}

// saveFile serializes j back to its config file in the schema's order,
// atomically.
func (r *Registry) saveFile(j *Job) error {
	doc := BuildDocument(j)
	return doc.WriteAtomic(j.FilePath)
}

// BuildDocument serializes j into a config.Document using the same
// schema applyJobEntries consumes, used both by Registry.saveFile and by
// tests exercising the parse/serialize round trip.
func BuildDocument(j *Job) *config.Document {
	doc := &config.Document{}
	doc.Set("uuid", j.UUID)
	doc.Set("name", j.Name)
	doc.Set("jobType", string(j.JobType))
	if !j.SlaveHost.IsLocal() {
		doc.Set("slaveHostName", j.SlaveHost.Name)
		doc.Set("slaveHostPort", strconv.Itoa(j.SlaveHost.Port))
		doc.Set("slaveHostTLSMode", j.SlaveHost.TLSMode.String())
	}
	doc.Set("archiveFileMode", archiveFileModeName(j.ArchiveFileMode))
	doc.Set("restoreEntryMode", restoreEntryModeName(j.RestoreEntryMode))
	doc.Set("destination", config.FormatQuotedString(j.Destination))

	for _, spec := range j.Include {
		for _, p := range spec.Patterns {
			doc.Set("includePattern", p)
		}
	}
	for _, spec := range j.Exclude {
		for _, p := range spec.Patterns {
			doc.Set("excludePattern", p)
		}
	}

	if j.Compression.Delta != "" {
		doc.Set("compressDelta", j.Compression.Delta)
	}
	if j.Compression.Byte != "" {
		doc.Set("compressByte", j.Compression.Byte)
	}

	doc.Set("cryptType", cryptTypeName(j.Crypt.Type))
	for _, alg := range j.Crypt.Algorithms {
		if alg != "" {
			doc.Set("cryptAlgorithm", alg)
		}
	}
	doc.Set("cryptPasswordMode", passwordModeName(j.Crypt.PasswordMode))
	if j.Crypt.PublicKey != "" {
		doc.Set("cryptPublicKey", j.Crypt.PublicKey)
	}
	if j.Crypt.PrivateKey != "" {
		doc.Set("cryptPrivateKey", j.Crypt.PrivateKey)
	}

	for _, m := range j.Mounts {
		doc.Set("mount", m)
	}

	doc.Set("par2Enabled", config.FormatBool(j.PAR2.Enabled, config.BoolNames{}))
	if j.PAR2.BlockCount != 0 {
		doc.Set("par2BlockCount", config.FormatIntWithUnits(int64(j.PAR2.BlockCount), config.StandardByteUnits))
	}
	if j.PAR2.SourcePercentage != 0 {
		doc.Set("par2SourcePercentage", fmt.Sprintf("%g", j.PAR2.SourcePercentage))
	}
	if j.Comment != "" {
		doc.Set("comment", config.FormatQuotedString(j.Comment))
	}

	for _, s := range j.Schedules() {
		doc.Sections = append(doc.Sections, buildScheduleSection(s))
	}
	for _, e := range j.Persistence().Entries() {
		doc.Sections = append(doc.Sections, buildPersistenceSection(e))
	}

	return doc
}

func buildScheduleSection(s *Schedule) config.Section {
	sec := config.Section{Kind: "schedule", ID: s.UUID}
	add := func(k, v string) { sec.Entries = append(sec.Entries, config.Entry{Key: k, Value: v}) }
	add("date", formatDateField(s.Year, s.Month, s.Day))
	add("weekdays", formatWeekdays(s.WeekDays))
	add("time", formatTimeField(s.Hour, s.Minute))
	add("archiveType", s.ArchiveType.String())
	if s.ArchiveType == ArchiveContinuous {
		add("interval", strconv.Itoa(int(s.Interval/time.Second)))
	}
	if s.BeginTime != nil {
		add("beginTime", s.BeginTime.Format("15:04"))
	}
	if s.EndTime != nil {
		add("endTime", s.EndTime.Format("15:04"))
	}
	if s.CustomText != "" {
		add("customText", s.CustomText)
	}
	add("testCreatedArchives", config.FormatBool(s.TestCreatedArchives, config.BoolNames{}))
	add("noStorage", config.FormatBool(s.NoStorage, config.BoolNames{}))
	add("enabled", config.FormatBool(s.Enabled, config.BoolNames{}))
	return sec
}

func buildPersistenceSection(e *PersistenceEntry) config.Section {
	sec := config.Section{Kind: "persistence", ID: e.ArchiveType.String()}
	add := func(k, v string) { sec.Entries = append(sec.Entries, config.Entry{Key: k, Value: v}) }
	add("archiveType", e.ArchiveType.String())
	add("minKeep", strconv.Itoa(e.MinKeep))
	if e.MaxKeepAll {
		add("maxKeep", config.SentinelAll)
	} else {
		add("maxKeep", strconv.Itoa(e.MaxKeep))
	}
	if e.MaxAgeForever {
		add("maxAge", config.SentinelForever)
	} else {
		add("maxAge", strconv.Itoa(e.MaxAgeDays))
	}
	if e.MoveTo != "" {
		add("moveTo", e.MoveTo)
	}
	return sec
}

func formatDateField(y, m, d WildcardField) string {
	return formatWildcard(y) + "/" + formatWildcard(m) + "/" + formatWildcard(d)
}

func formatTimeField(h, m WildcardField) string {
	return formatWildcard(h) + ":" + formatWildcard(m)
}

func formatWildcard(f WildcardField) string {
	if f.Any {
		return "*"
	}
	return strconv.Itoa(f.Value)
}

func formatWeekdays(set WeekdaySet) string {
	if set.Any || len(set.Days) == 0 {
		return "*"
	}
	order := []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	names := map[time.Weekday]string{
		time.Sunday: "sun", time.Monday: "mon", time.Tuesday: "tue", time.Wednesday: "wed",
		time.Thursday: "thu", time.Friday: "fri", time.Saturday: "sat",
	}
	var parts []string
	for _, wd := range order {
		if set.Days[wd] {
			parts = append(parts, names[wd])
		}
	}
	return strings.Join(parts, ",")
}

func archiveFileModeName(m ArchiveFileMode) string {
	switch m {
	case ArchiveFileAppend:
		return "append"
	case ArchiveFileOverwrite:
		return "overwrite"
	default:
		return "stop"
	}
}

func restoreEntryModeName(m RestoreEntryMode) string {
	switch m {
	case RestoreEntrySkip:
		return "skip"
	case RestoreEntryOverwrite:
		return "overwrite"
	default:
		return "stop"
	}
}

func cryptTypeName(t CryptType) string {
	switch t {
	case CryptSymmetric:
		return "symmetric"
	case CryptAsymmetric:
		return "asymmetric"
	default:
		return "none"
	}
}

func passwordModeName(m PasswordMode) string {
	switch m {
	case PasswordAsk:
		return "ask"
	case PasswordNone:
		return "none"
	case PasswordConfig:
		return "config"
	default:
		return "default"
	}
}
