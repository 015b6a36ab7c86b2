package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/memento/internal/config"
	"github.com/runnerr0/memento/internal/embedder"
	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/logging"
)

// env is the loaded configuration and logger shared by one command run.
type env struct {
	cfg     *config.Config
	cfgPath string
	root    string
	logger  *slog.Logger
	logPath string
	logFile io.Closer
}

// loadEnv resolves the config file (--config or the default path, created
// with defaults when missing) and sets up logging.
func loadEnv(globals *GlobalFlags) (*env, error) {
	path := globals.Config
	if path == "" {
		var err error
		path, err = config.ExpandPath(config.DefaultConfigPath)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadOrCreateAt(path)
	if err != nil {
		return nil, err
	}
	root, err := cfg.StorageRoot()
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.Setup(cfg.Logging, root, globals.Verbose, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	slog.SetDefault(logger)

	return &env{
		cfg:     cfg,
		cfgPath: path,
		root:    root,
		logger:  logger,
		logPath: logging.FilePath(cfg.Logging, root),
		logFile: closer,
	}, nil
}

func (e *env) Close() {
	e.logFile.Close()
}

// openLibrary opens the configured storage root. A read-only open falls
// back to a writer when the database does not exist yet, so a first
// status or search on a fresh install creates an empty store.
func (e *env) openLibrary(ctx context.Context, readOnly bool) (*library.Library, error) {
	opts, err := library.OptionsFromConfig(e.cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = e.logger

	if readOnly {
		if _, err := os.Stat(opts.Layout.DBPath()); err == nil {
			opts.ReadOnly = true
		}
	}
	return library.Open(ctx, opts)
}

// newEmbedder returns the configured embedding client.
func (e *env) newEmbedder() (*embedder.Ollama, error) {
	ec := e.cfg.Embeddings
	if !ec.Enabled {
		return nil, errEmbeddingsDisabled
	}
	if ec.Provider != "" && ec.Provider != "ollama" {
		return nil, fmt.Errorf("unsupported embeddings provider %q", ec.Provider)
	}
	return embedder.NewOllama(ec.OllamaURL, ec.Model), nil
}

var errEmbeddingsDisabled = errors.New("embeddings are disabled; set embeddings.enabled: true in the config")

var errNotConfirmed = errors.New("aborted: confirmation text did not match")

// confirm prints prompt and reads one line from in, which must equal want.
func confirm(in io.Reader, prompt, want string) error {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return fmt.Errorf("aborted: no input received")
	}
	if strings.TrimSpace(scanner.Text()) != want {
		return errNotConfirmed
	}
	return nil
}

// writeJSON prints v as indented JSON on stdout.
func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
