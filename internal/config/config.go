package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/memento/config.yaml"

// Config holds all Memento configuration.
type Config struct {
	Retention  RetentionConfig  `yaml:"retention"`
	Storage    StorageConfig    `yaml:"storage"`
	Segments   SegmentsConfig   `yaml:"segments"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type RetentionConfig struct {
	// Days of history to keep. 0 keeps everything.
	Days                 int `yaml:"days"`
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"`
}

// CleanupInterval is the minimum spacing between two cleanup runs.
func (r RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(r.CleanupIntervalHours) * time.Hour
}

type StorageConfig struct {
	Path           string `yaml:"path"`
	SQLiteFile     string `yaml:"sqlite_file"`
	SegmentDir     string `yaml:"segment_dir"`
	VideoExtension string `yaml:"video_extension"`
	Driver         string `yaml:"driver"`
	BusyTimeoutMS  int    `yaml:"busy_timeout_ms"`
}

// BusyTimeout is how long SQLite waits on a locked database.
func (s StorageConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMS) * time.Millisecond
}

type SegmentsConfig struct {
	FramesPerSegment int `yaml:"frames_per_segment"`
}

type SearchConfig struct {
	Limit         int     `yaml:"limit"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float32 `yaml:"min_similarity"`
}

type EmbeddingsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider"`
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
	Quantize  bool   `yaml:"quantize"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File is relative to the storage root unless absolute. Empty disables it.
	File string `yaml:"file"`
	// MaxSize is megabytes per log file before rotation.
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the store.
func (c *Config) Validate() error {
	var errs []error
	if c.Retention.Days < 0 {
		errs = append(errs, fmt.Errorf("retention.days must not be negative, got %d", c.Retention.Days))
	}
	if c.Retention.CleanupIntervalHours < 0 {
		errs = append(errs, fmt.Errorf("retention.cleanup_interval_hours must not be negative, got %d", c.Retention.CleanupIntervalHours))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.SQLiteFile == "" {
		errs = append(errs, errors.New("storage.sqlite_file is required"))
	}
	if !strings.HasPrefix(c.Storage.VideoExtension, ".") {
		errs = append(errs, fmt.Errorf("storage.video_extension must start with a dot, got %q", c.Storage.VideoExtension))
	}
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or sqlite3, got %q", c.Storage.Driver))
	}
	if c.Segments.FramesPerSegment < 1 {
		errs = append(errs, fmt.Errorf("segments.frames_per_segment must be at least 1, got %d", c.Segments.FramesPerSegment))
	}
	if c.Search.MinSimilarity < -1 || c.Search.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("search.min_similarity must be within [-1, 1], got %g", c.Search.MinSimilarity))
	}
	return errors.Join(errs...)
}

// StorageRoot is storage.path with ~ expanded.
func (c *Config) StorageRoot() (string, error) {
	return ExpandPath(c.Storage.Path)
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ExpandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return Load(path)
}

// Save writes cfg to path, replacing the file atomically.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
