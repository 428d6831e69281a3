package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/job/config"
)

func TestDocumentRoundTripPreservesEntriesAndSections(t *testing.T) {
	src := `# stable job identifier
uuid = abc-123
name = "nightly backup"
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
maxKeep = all
maxAge = forever
`
	doc, err := config.Parse(strings.NewReader(src))
	require.NoError(t, err)

	require.Len(t, doc.Entries, 3)
	assert.Equal(t, "uuid", doc.Entries[0].Key)
	assert.Equal(t, "abc-123", doc.Entries[0].Value)
	assert.Equal(t, []string{"stable job identifier"}, doc.Entries[0].Comment)

	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "schedule", doc.Sections[0].Kind)
	assert.Equal(t, "sched-1", doc.Sections[0].ID)
	assert.Equal(t, "persistence", doc.Sections[1].Kind)

	var out strings.Builder
	require.NoError(t, doc.Write(&out))

	reparsed, err := config.Parse(strings.NewReader(out.String()))
	require.NoError(t, err)
	assert.Equal(t, doc.Entries, reparsed.Entries)
	assert.Equal(t, doc.Sections, reparsed.Sections)
}

func TestDocumentGetAndGetAll(t *testing.T) {
	doc := &config.Document{}
	doc.Set("includePattern", "*.go")
	doc.Set("includePattern", "*.md")
	doc.Set("name", "job-a")

	v, ok := doc.Get("name")
	require.True(t, ok)
	assert.Equal(t, "job-a", v)

	assert.Equal(t, []string{"*.go", "*.md"}, doc.GetAll("includePattern"))

	_, ok = doc.Get("missing")
	assert.False(t, ok)
}

func TestParseRejectsMissingEquals(t *testing.T) {
	_, err := config.Parse(strings.NewReader("not-a-valid-line\n"))
	assert.Error(t, err)
}

func TestIntWithUnitsRoundTrip(t *testing.T) {
	n, err := config.ParseIntWithUnits("4K", config.StandardByteUnits)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, n)
	assert.Equal(t, "4K", config.FormatIntWithUnits(n, config.StandardByteUnits))

	n, err = config.ParseIntWithUnits("100", config.StandardByteUnits)
	require.NoError(t, err)
	assert.EqualValues(t, 100, n)
}

func TestBoolNamedSets(t *testing.T) {
	b, err := config.ParseBool("yes", config.BoolNames{})
	require.NoError(t, err)
	assert.True(t, b)

	b, err = config.ParseBool("off", config.BoolNames{})
	require.NoError(t, err)
	assert.False(t, b)

	_, err = config.ParseBool("maybe", config.BoolNames{})
	assert.Error(t, err)
}

func TestIntOrSentinel(t *testing.T) {
	n, isAll, err := config.ParseIntOrSentinel("all", config.SentinelAll)
	require.NoError(t, err)
	assert.True(t, isAll)
	assert.Zero(t, n)

	n, isAll, err = config.ParseIntOrSentinel("7", config.SentinelAll)
	require.NoError(t, err)
	assert.False(t, isAll)
	assert.Equal(t, 7, n)
}
