package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/runnerr0/memento/internal/relocate"
)

// Relocate moves the whole storage root to dst and reopens the library
// there. Capture must be stopped first; every other library call blocks
// until Relocate returns.
//
// If the move fails part way the library stays closed and returns
// ErrClosed: files are split between both roots and only a re-run of
// the migration, which resumes where it stopped, makes either usable.
// Errors found before anything moved reopen the old root.
func (l *Library) Relocate(ctx context.Context, dst string, m *relocate.Migrator) (relocate.Result, error) {
	if m == nil {
		m = relocate.New(l.logger)
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return relocate.Result{}, fmt.Errorf("relocate: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return relocate.Result{}, ErrClosed
	}
	if l.opts.ReadOnly {
		return relocate.Result{}, errors.New("relocate: library is read-only")
	}

	src := l.opts.Layout.Root
	if err := l.store.Close(); err != nil {
		return relocate.Result{}, fmt.Errorf("relocate: close store: %w", err)
	}
	l.closed = true

	res, err := m.Migrate(ctx, src, abs)
	if err != nil {
		if errors.Is(err, relocate.ErrDestinationInsideSource) {
			if reopenErr := l.open(ctx); reopenErr != nil {
				return res, errors.Join(err, reopenErr)
			}
		}
		return res, fmt.Errorf("relocate: %w", err)
	}

	l.opts.Layout.Root = abs
	if err := l.open(ctx); err != nil {
		return res, fmt.Errorf("relocate: reopen at %s: %w", abs, err)
	}

	detail := map[string]any{
		"from":             src,
		"to":               abs,
		"moved":            res.Moved,
		"copied":           res.Copied,
		"conflict_renamed": res.ConflictRenamed,
		"skipped":          res.Skipped,
	}
	if err := l.store.LogMaintenance(ctx, "relocate", detail); err != nil {
		l.logger.Warn("write maintenance log failed", "error", err)
	}
	l.logger.Info("storage relocated", "from", src, "to", abs)
	return res, nil
}
