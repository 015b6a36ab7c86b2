// Package logging builds the process logger: human-readable text on stderr
// and, when a log file is configured, JSON lines to a size-rotated file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/runnerr0/memento/internal/config"
)

// ParseLevel maps a config level name to a slog level. Unknown names are an
// error so a typo in the config does not silently change verbosity.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup returns a logger for cfg. A relative cfg.File is placed under dir.
// verbose forces debug level on stderr. The returned Closer flushes and
// closes the log file and must be called on exit.
func Setup(cfg config.LoggingConfig, dir string, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	consoleLevel := level
	if verbose {
		consoleLevel = slog.LevelDebug
	}

	console := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: consoleLevel})
	if cfg.File == "" {
		return slog.New(console), nopCloser{}, nil
	}

	path := FilePath(cfg, dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
	file := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})

	return slog.New(fanout{console, file}), rotator, nil
}

// FilePath is where Setup writes the log file, or "" when file logging is off.
func FilePath(cfg config.LoggingConfig, dir string) string {
	if cfg.File == "" || filepath.IsAbs(cfg.File) {
		return cfg.File
	}
	return filepath.Join(dir, cfg.File)
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
