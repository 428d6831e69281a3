package config

// FieldType names the kind of value a schema entry holds.
type FieldType int

const (
	TypeInt FieldType = iota
	TypeDouble
	TypeBool
	TypeString
	TypeEnum
	TypePassword
	TypeKeyMaterial
	TypeList
	TypeSubStructure
)

// FieldSchema describes one recognized top-level key: its type, optional
// unit/enum/bool tables, a comment block written above fresh entries, and
// whether the key is deprecated (parses successfully but marks the job
// dirty for rewrite in the modern form).
type FieldSchema struct {
	Key        string
	Type       FieldType
	Units      []Unit
	EnumValues []string
	BoolNames  BoolNames
	Comment    []string
	Deprecated bool
	// ReplacesWith names the modern key a deprecated field migrates into,
	// for diagnostics only; the actual migration logic lives with the
	// field's owning type (e.g. job.Schedule's deprecated retention
	// fields, migrated in registry.go).
	ReplacesWith string
}

// Schema maps a recognized key to its FieldSchema.
type Schema map[string]*FieldSchema

// JobSchema is the top-level job field schema. Section-scoped schemas
// (schedule, persistence) are defined separately since their keys are
// only meaningful inside a `[schedule ...]`/`[persistence ...]` block.
var JobSchema = Schema{
	"uuid":    {Key: "uuid", Type: TypeString, Comment: []string{"stable job identifier, generated on first save"}},
	"name":    {Key: "name", Type: TypeString},
	"jobType": {Key: "jobType", Type: TypeEnum, EnumValues: []string{"CREATE"}},

	"slaveHostName":    {Key: "slaveHostName", Type: TypeString},
	"slaveHostPort":    {Key: "slaveHostPort", Type: TypeInt},
	"slaveHostTLSMode": {Key: "slaveHostTLSMode", Type: TypeEnum, EnumValues: []string{"none", "try", "force"}},

	"archiveFileMode":  {Key: "archiveFileMode", Type: TypeEnum, EnumValues: []string{"stop", "append", "overwrite"}},
	"restoreEntryMode": {Key: "restoreEntryMode", Type: TypeEnum, EnumValues: []string{"stop", "skip", "overwrite"}},

	"destination": {Key: "destination", Type: TypeString, Comment: []string{"typed storage URI: file://, ftp://, sftp://, webdav(s)://, smb://, device://"}},

	"includePattern": {Key: "includePattern", Type: TypeList},
	"includeCommand": {Key: "includeCommand", Type: TypeString},
	"includeFile":    {Key: "includeFile", Type: TypeString},
	"excludePattern": {Key: "excludePattern", Type: TypeList},
	"excludeCommand": {Key: "excludeCommand", Type: TypeString},
	"excludeFile":    {Key: "excludeFile", Type: TypeString},

	"compressDelta": {Key: "compressDelta", Type: TypeString},
	"compressByte":  {Key: "compressByte", Type: TypeString},

	"cryptType":         {Key: "cryptType", Type: TypeEnum, EnumValues: []string{"none", "symmetric", "asymmetric"}},
	"cryptAlgorithm":    {Key: "cryptAlgorithm", Type: TypeList},
	"cryptPasswordMode": {Key: "cryptPasswordMode", Type: TypeEnum, EnumValues: []string{"default", "ask", "none", "config"}},
	"cryptPassword":     {Key: "cryptPassword", Type: TypePassword},
	"cryptPublicKey":    {Key: "cryptPublicKey", Type: TypeKeyMaterial},
	"cryptPrivateKey":   {Key: "cryptPrivateKey", Type: TypeKeyMaterial},

	"mount": {Key: "mount", Type: TypeList},

	"par2Enabled":          {Key: "par2Enabled", Type: TypeBool},
	"par2BlockCount":       {Key: "par2BlockCount", Type: TypeInt, Units: StandardByteUnits},
	"par2SourcePercentage": {Key: "par2SourcePercentage", Type: TypeDouble},

	"comment": {Key: "comment", Type: TypeString},

	// Deprecated: replaced by archiveFileMode/restoreEntryMode spelled
	// without the "overwriteArchiveFiles"/"overwriteEntries" booleans the
	// original used before the three-way enum existed.
	"overwriteArchiveFiles": {Key: "overwriteArchiveFiles", Type: TypeBool, Deprecated: true, ReplacesWith: "archiveFileMode"},
	"overwriteEntries":      {Key: "overwriteEntries", Type: TypeBool, Deprecated: true, ReplacesWith: "restoreEntryMode"},
}

// ScheduleSchema is the key set recognized inside a `[schedule <uuid>]`
// section.
var ScheduleSchema = Schema{
	"date":                {Key: "date", Type: TypeString, Comment: []string{"year/month/day, each a number or \"*\" for any"}},
	"weekdays":            {Key: "weekdays", Type: TypeList},
	"time":                {Key: "time", Type: TypeString, Comment: []string{"hour:minute, each a number or \"*\" for any"}},
	"archiveType":         {Key: "archiveType", Type: TypeEnum, EnumValues: []string{"normal", "full", "incremental", "differential", "continuous"}},
	"interval":            {Key: "interval", Type: TypeInt, Comment: []string{"seconds, only for archiveType=continuous"}},
	"beginTime":           {Key: "beginTime", Type: TypeString},
	"endTime":             {Key: "endTime", Type: TypeString},
	"customText":          {Key: "customText", Type: TypeString},
	"testCreatedArchives": {Key: "testCreatedArchives", Type: TypeBool},
	"noStorage":           {Key: "noStorage", Type: TypeBool},
	"enabled":             {Key: "enabled", Type: TypeBool},

	// Deprecated per-schedule retention, migrated into a persistence
	// section by the registry on load.
	"minKeep": {Key: "minKeep", Type: TypeInt, Deprecated: true, ReplacesWith: "[persistence] minKeep"},
	"maxKeep": {Key: "maxKeep", Type: TypeInt, Deprecated: true, ReplacesWith: "[persistence] maxKeep"},
	"maxAge":  {Key: "maxAge", Type: TypeInt, Deprecated: true, ReplacesWith: "[persistence] maxAge"},
}

// PersistenceSchema is the key set recognized inside a
// `[persistence <uuid>]` section.
var PersistenceSchema = Schema{
	"archiveType": {Key: "archiveType", Type: TypeEnum, EnumValues: []string{"normal", "full", "incremental", "differential", "continuous"}},
	"minKeep":     {Key: "minKeep", Type: TypeInt},
	"maxKeep":     {Key: "maxKeep", Type: TypeString, Comment: []string{"integer, or \"all\" for unlimited"}},
	"maxAge":      {Key: "maxAge", Type: TypeString, Comment: []string{"days, or \"forever\" for unlimited"}},
	"moveTo":      {Key: "moveTo", Type: TypeString},
}
