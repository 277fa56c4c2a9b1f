package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir string, debug bool) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := "logging:\n  debug_mode: " + boolStr(debug) + "\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestInitializeDisabledByDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, ""))
	require.False(t, IsDebugMode())

	// No-op logger must not panic and must not create a logs directory.
	Get(CategoryScheduler).Info("noop")
	_, err := os.Stat(filepath.Join(dir, "logs"))
	require.True(t, os.IsNotExist(err))
}

func TestInitializeCreatesLogFileWhenDebugEnabled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, true)
	require.NoError(t, Initialize(dir, cfgPath))
	require.True(t, IsDebugMode())

	Scheduler("hello %s", "world")

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestTimerStop(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, true)
	require.NoError(t, Initialize(dir, cfgPath))

	timer := StartTimer(CategoryFetch, "unit-test-op")
	elapsed := timer.Stop()
	require.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}

func TestCategoryDisabledSuppressesLogging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "logging:\n  debug_mode: true\n  level: debug\n  categories:\n    scheduler: false\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Initialize(dir, path))

	require.False(t, IsCategoryEnabled(CategoryScheduler))
	require.True(t, IsCategoryEnabled(CategoryFetch))
}
