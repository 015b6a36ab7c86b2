package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/memento/internal/config"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetup_ConsoleOnly(t *testing.T) {
	var stderr bytes.Buffer
	logger, closer, err := Setup(config.LoggingConfig{Level: "warn"}, t.TempDir(), false, &stderr)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "shown")
	assert.Contains(t, stderr.String(), "k=1")
}

func TestSetup_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", File: "logs/memento.log", MaxSize: 1, MaxBackups: 1}

	logger, closer, err := Setup(cfg, dir, true, &stderr)
	require.NoError(t, err)

	logger.Debug("console only")
	logger.With("component", "retention").Info("cleanup finished", "deleted_frames", 3)
	require.NoError(t, closer.Close())

	assert.Contains(t, stderr.String(), "console only", "verbose raises console level")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "memento.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "debug record stays out of the file")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "cleanup finished", rec["msg"])
	assert.Equal(t, "retention", rec["component"])
	assert.EqualValues(t, 3, rec["deleted_frames"])
}

func TestSetup_BadLevel(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "chatty"}, t.TempDir(), false, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFilePath(t *testing.T) {
	assert.Equal(t, "", FilePath(config.LoggingConfig{}, "/data"))
	assert.Equal(t, filepath.Join("/data", "memento.log"), FilePath(config.LoggingConfig{File: "memento.log"}, "/data"))
	assert.Equal(t, "/var/log/memento.log", FilePath(config.LoggingConfig{File: "/var/log/memento.log"}, "/data"))
}
