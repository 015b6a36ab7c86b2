package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 12*time.Hour, cfg.Retention.CleanupInterval())
	assert.Equal(t, "~/.local/share/memento", cfg.Storage.Path)
	assert.Equal(t, "memento.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, "videos", cfg.Storage.SegmentDir)
	assert.Equal(t, ".mp4", cfg.Storage.VideoExtension)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.BusyTimeout())
	assert.Equal(t, 5, cfg.Segments.FramesPerSegment)
	assert.Equal(t, 50, cfg.Search.Limit)
	assert.Equal(t, 20, cfg.Search.TopK)
	assert.False(t, cfg.Embeddings.Enabled)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.Embeddings.OllamaURL)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.True(t, cfg.Embeddings.Quantize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memento.log", cfg.Logging.File)
	assert.Equal(t, 10, cfg.Logging.MaxSize)
	assert.Equal(t, 3, cfg.Logging.MaxBackups)

	assert.NoError(t, cfg.Validate())
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  days: 90
  cleanup_interval_hours: 6
storage:
  driver: "sqlite3"
segments:
  frames_per_segment: 10
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, 6, cfg.Retention.CleanupIntervalHours)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Segments.FramesPerSegment)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Non-overridden values remain defaults
	assert.Equal(t, "memento.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "~/.local/share/memento", cfg.Storage.Path)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  days: -1
storage:
  driver: "postgres"
  video_extension: "mp4"
segments:
  frames_per_segment: 0
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlContent), 0644))

	_, err := Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention.days")
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "storage.video_extension")
	assert.Contains(t, err.Error(), "segments.frames_per_segment")
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	// Should return defaults
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, "videos", cfg.Storage.SegmentDir)

	// File should now exist on disk
	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	// File should be valid YAML loadable again
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
retention:
  days: 7
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retention.Days)
	// Other fields remain defaults
	assert.Equal(t, 5, cfg.Segments.FramesPerSegment)
}

func TestLoadPartialYAMLMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	// Only override one nested field
	yamlContent := `
embeddings:
  enabled: true
  model: "all-minilm"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.True(t, cfg.Embeddings.Enabled)
	assert.Equal(t, "all-minilm", cfg.Embeddings.Model)
	// Other embeddings fields remain default
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.Embeddings.OllamaURL)
	assert.True(t, cfg.Embeddings.Quantize)
}

func TestSaveRoundTripsAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Storage.Path = "/data/memento"
	require.NoError(t, Save(cfgPath, cfg))

	loaded, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "/data/memento", loaded.Storage.Path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.config/memento")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/memento"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
