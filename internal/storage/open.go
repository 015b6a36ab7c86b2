package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
	_ "modernc.org/sqlite"          // registers "sqlite"
)

// Supported database/sql driver names.
const (
	// DriverPureGo is modernc.org/sqlite. FTS5 is compiled in.
	DriverPureGo = "sqlite"
	// DriverCGO is mattn/go-sqlite3. It needs cgo and the sqlite_fts5 build tag.
	DriverCGO = "sqlite3"
)

// ErrFTS5Unavailable is returned by Open when the selected driver was built
// without the FTS5 extension the text index needs.
var ErrFTS5Unavailable = errors.New("sqlite driver lacks FTS5")

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Options configure Open.
type Options struct {
	Path        string
	Driver      string
	BusyTimeout time.Duration

	// ReadOnly opens a query-only handle for a viewer process. Migrations
	// are not run and the file must already exist.
	ReadOnly bool

	Logger *slog.Logger
}

// Open opens (creating if needed) the database at opts.Path, applies
// migrations unless read-only, and returns a ready store. The returned store
// owns the database handle and closes it in Close.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}
	if opts.Driver == "" {
		opts.Driver = DriverPureGo
	}
	if opts.Driver != DriverPureGo && opts.Driver != DriverCGO {
		return nil, fmt.Errorf("open store: unsupported driver %q", opts.Driver)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.ReadOnly {
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open(opts.Driver, buildDSN(opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if !opts.ReadOnly {
		if err := NewMigrationRunner(db).Run(ctx); err != nil {
			db.Close()
			if missingFTS5(err) {
				return nil, fmt.Errorf("%w: driver %q (build with -tags sqlite_fts5 or use driver %q): %v",
					ErrFTS5Unavailable, opts.Driver, DriverPureGo, err)
			}
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	s.readOnly = opts.ReadOnly
	s.logger = opts.Logger

	opts.Logger.Debug("frame store opened",
		"path", opts.Path, "driver", opts.Driver, "read_only", opts.ReadOnly)
	return s, nil
}

func missingFTS5(err error) bool {
	return strings.Contains(err.Error(), "no such module: fts5")
}

// buildDSN renders the per-connection pragmas in each driver's own syntax.
// Pragmas must live in the DSN because database/sql pools connections.
func buildDSN(opts Options) string {
	ms := opts.BusyTimeout.Milliseconds()

	var params []string
	switch opts.Driver {
	case DriverCGO:
		params = append(params, fmt.Sprintf("_busy_timeout=%d", ms))
		if opts.ReadOnly {
			params = append(params, "mode=ro", "_query_only=1")
		} else {
			params = append(params, "_journal_mode=WAL", "_txlock=immediate")
		}
	default:
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", ms))
		if opts.ReadOnly {
			params = append(params, "mode=ro", "_pragma=query_only(1)")
		} else {
			params = append(params, "_pragma=journal_mode(WAL)", "_txlock=immediate")
		}
	}

	return "file:" + opts.Path + "?" + strings.Join(params, "&")
}
