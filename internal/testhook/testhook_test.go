package testhook_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/testhook"
)

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

func TestNewUUIDRandomByDefault(t *testing.T) {
	testhook.Reset()
	a := testhook.NewUUID()
	b := testhook.NewUUID()
	assert.NotEqual(t, a, b)
}

func TestNewUUIDFixedSequence(t *testing.T) {
	testhook.Reset()
	t.Setenv("BARC_TESTHOOK_FIXED_IDS", "true")
	testhook.Configure()

	assert.Equal(t, "00000000-0000-0000-0000-000000000001", testhook.NewUUID())
	assert.Equal(t, "00000000-0000-0000-0000-000000000002", testhook.NewUUID())
}

func TestHitRequiresNameListMembership(t *testing.T) {
	testhook.Reset()
	testhook.Configure()
	assert.False(t, testhook.Hit("retry-after-slave-disconnect"))
}

func TestHitEnabledBySkippedBySkipList(t *testing.T) {
	dir := t.TempDir()
	namesPath := filepath.Join(dir, "names")
	skipPath := filepath.Join(dir, "skip")
	require.NoError(t, os.WriteFile(namesPath, []byte("retry-after-slave-disconnect\nforce-par2-failure\n"), 0o644))
	require.NoError(t, os.WriteFile(skipPath, []byte("force-par2-failure\n"), 0o644))

	testhook.Reset()
	t.Setenv("BARC_TESTHOOK_NAMES", namesPath)
	t.Setenv("BARC_TESTHOOK_SKIP", skipPath)
	testhook.Configure()

	assert.True(t, testhook.Hit("retry-after-slave-disconnect"))
	assert.False(t, testhook.Hit("force-par2-failure"))
	assert.False(t, testhook.Hit("unlisted-point"))
}

func TestHitRecordsToDoneList(t *testing.T) {
	dir := t.TempDir()
	namesPath := filepath.Join(dir, "names")
	donePath := filepath.Join(dir, "done")
	require.NoError(t, os.WriteFile(namesPath, []byte("retry-after-slave-disconnect\n"), 0o644))

	testhook.Reset()
	t.Setenv("BARC_TESTHOOK_NAMES", namesPath)
	t.Setenv("BARC_TESTHOOK_DONE", donePath)
	testhook.Configure()

	require.True(t, testhook.Hit("retry-after-slave-disconnect"))
	require.True(t, testhook.Hit("retry-after-slave-disconnect"))

	assert.Equal(t, 2, testhook.HitCount("retry-after-slave-disconnect"))

	contents, err := os.ReadFile(donePath)
	require.NoError(t, err)
	assert.Equal(t, "retry-after-slave-disconnect\nretry-after-slave-disconnect\n", string(contents))
}
