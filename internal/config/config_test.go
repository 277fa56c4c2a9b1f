package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1, cfg.Scheduler.GPUSlots)
	require.Equal(t, 1, cfg.Scheduler.BrowserHeadfulSlots)
	require.Equal(t, 4, cfg.Scheduler.NetworkClientSlots)
	require.Equal(t, 2, cfg.Policy.ConsecutiveFailuresToOpen)
	require.Equal(t, 0.8, cfg.Policy.SatisfactionThreshold)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Scheduler.NetworkClientSlots, cfg.Scheduler.NetworkClientSlots)
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "scheduler:\n  network_client_slots: 8\npolicy:\n  satisfaction_threshold: 0.9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Scheduler.NetworkClientSlots)
	require.Equal(t, 0.9, cfg.Policy.SatisfactionThreshold)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Scheduler.SerpMaxPages = 5
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, loaded.Scheduler.SerpMaxPages)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RESEARCH_DB", "/tmp/override.db")
	t.Setenv("RESEARCH_GENAI_API_KEY", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/override.db", cfg.Store.Path)
	require.Equal(t, "genai", cfg.Inference.Provider)
	require.Equal(t, "secret", cfg.Inference.GenAIAPIKey)
}
