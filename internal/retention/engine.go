// Package retention deletes old frames together with the video segments that
// no longer hold any live frame.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/memento/internal/segment"
)

// fileWorkers bounds concurrent segment file removals.
const fileWorkers = 4

// FrameStore is the subset of the frame store the engine needs.
type FrameStore interface {
	FrameIDsBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
	CountFramesInRange(ctx context.Context, lo, hi int64) (int, error)
	DeleteFrames(ctx context.Context, ids []int64) (int64, error)
	DeleteAllFrames(ctx context.Context) (int64, error)
}

// Segments is the subset of the segment index the engine needs.
type Segments interface {
	Dir() string
	Ext() string
	Starts() []int64
	Members(start int64) (lo, hi int64, ok bool)
	Path(start int64) string
	Remove(starts ...int64)
	Reset()
}

// Request selects what a cleanup removes: frames older than Cutoff, or
// everything when DeleteAll is set.
type Request struct {
	Cutoff    time.Time `json:"cutoff,omitzero"`
	DeleteAll bool      `json:"delete_all,omitempty"`
}

// Result reports what a cleanup removed.
type Result struct {
	DeletedFrames int64 `json:"deleted_frames"`
	DeletedVideos int   `json:"deleted_videos"`
	Skipped       bool  `json:"skipped,omitempty"`
}

// Engine runs cleanups against one store and its segment directory.
type Engine struct {
	store    FrameStore
	segments Segments
	guard    Guard
	logger   *slog.Logger

	// remove deletes one file; replaced in tests.
	remove func(path string) error
}

// NewEngine creates an Engine. A zero guard interval means DefaultInterval.
func NewEngine(store FrameStore, segments Segments, guard Guard, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if guard.Interval == 0 {
		guard.Interval = DefaultInterval
	}
	return &Engine{
		store:    store,
		segments: segments,
		guard:    guard,
		logger:   logger,
		remove:   os.Remove,
	}
}

// Guard returns the engine's run guard.
func (e *Engine) Guard() Guard { return e.guard }

// CleanupIfDue runs Cleanup unless the guard says the last run was too
// recent, in which case it returns a Result with Skipped set.
func (e *Engine) CleanupIfDue(ctx context.Context, req Request, lastRun, now time.Time) (Result, error) {
	if !e.guard.Due(lastRun, now) {
		e.logger.Debug("cleanup skipped", "last_run", lastRun, "next_due", e.guard.NextDue(lastRun))
		return Result{Skipped: true}, nil
	}
	return e.Cleanup(ctx, req)
}

// Cleanup deletes the selected frames and then their segment files. Row
// deletion is a single transaction; if it fails nothing is removed from disk.
// File removal failures are logged, joined into the returned error and do
// not undo the committed row deletion.
func (e *Engine) Cleanup(ctx context.Context, req Request) (Result, error) {
	if req.DeleteAll {
		return e.cleanupAll(ctx)
	}
	if req.Cutoff.IsZero() {
		return Result{}, fmt.Errorf("cleanup: zero cutoff")
	}

	ids, err := e.store.FrameIDsBefore(ctx, req.Cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("select expired frames: %w", err)
	}
	if len(ids) == 0 {
		return Result{}, nil
	}

	n, err := e.store.DeleteFrames(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("delete expired frames: %w", err)
	}
	res := Result{DeletedFrames: n}

	deleted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		deleted[id] = struct{}{}
	}

	var candidates []int64
	for _, start := range e.segments.Starts() {
		lo, hi, ok := e.segments.Members(start)
		if !ok || !anyIn(deleted, lo, hi) {
			continue
		}
		live, err := e.store.CountFramesInRange(ctx, lo, hi)
		if err != nil {
			return res, fmt.Errorf("count live frames in segment %d: %w", start, err)
		}
		if live == 0 {
			candidates = append(candidates, start)
		}
	}

	gone, count, err := e.removeSegments(ctx, candidates)
	res.DeletedVideos = count
	e.segments.Remove(gone...)

	e.logger.Info("cleanup finished",
		"cutoff", req.Cutoff, "deleted_frames", res.DeletedFrames, "deleted_videos", res.DeletedVideos)
	return res, err
}

func (e *Engine) cleanupAll(ctx context.Context) (Result, error) {
	n, err := e.store.DeleteAllFrames(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("delete all frames: %w", err)
	}
	res := Result{DeletedFrames: n}

	names, err := segment.ListFiles(e.segments.Dir(), e.segments.Ext())
	if err != nil {
		return res, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(e.segments.Dir(), name)
	}

	count, err := e.removeFiles(ctx, paths)
	res.DeletedVideos = count
	e.segments.Reset()

	e.logger.Info("cleanup of all data finished",
		"deleted_frames", res.DeletedFrames, "deleted_videos", res.DeletedVideos)
	return res, err
}

// removeSegments deletes the files of the given starts. It returns the starts
// no longer on disk, including ones that were already missing, and the number
// of files it actually removed.
func (e *Engine) removeSegments(ctx context.Context, starts []int64) ([]int64, int, error) {
	if len(starts) == 0 {
		return nil, 0, nil
	}

	var (
		mu    sync.Mutex
		gone  []int64
		count int
		errs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileWorkers)
	for _, start := range starts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := e.segments.Path(start)
			err := e.remove(path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				gone = append(gone, start)
				count++
			case errors.Is(err, os.ErrNotExist):
				e.logger.Warn("segment already missing", "path", path)
				gone = append(gone, start)
			default:
				e.logger.Error("remove segment failed", "path", path, "error", err)
				errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	return gone, count, errors.Join(errs...)
}

// removeFiles deletes paths with bounded parallelism and returns how many
// were actually removed.
func (e *Engine) removeFiles(ctx context.Context, paths []string) (int, error) {
	var (
		mu    sync.Mutex
		count int
		errs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileWorkers)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := e.remove(path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				count++
			case errors.Is(err, os.ErrNotExist):
			default:
				e.logger.Error("remove segment failed", "path", path, "error", err)
				errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return count, errors.Join(errs...)
}

// anyIn reports whether any id in [lo, hi) is in set.
func anyIn(set map[int64]struct{}, lo, hi int64) bool {
	for id := lo; id < hi; id++ {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
