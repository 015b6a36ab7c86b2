package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/runnerr0/memento/internal/storage"
)

// LastRunKey is the settings key holding the last completed cleanup time.
const LastRunKey = "retention.last_run"

// DefaultTick is how often the runner wakes up to ask the guard.
const DefaultTick = 15 * time.Minute

// Cleaner runs a guarded cleanup. *Engine implements it.
type Cleaner interface {
	CleanupIfDue(ctx context.Context, req Request, lastRun, now time.Time) (Result, error)
}

// StateStore persists the runner's last-run marker and outcome log.
type StateStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	LogMaintenance(ctx context.Context, action string, detail any) error
}

// Runner periodically applies the retention window in the background.
type Runner struct {
	cleaner Cleaner
	state   StateStore
	tick    time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	days int
}

// NewRunner creates a Runner keeping days of history. Zero days disables
// cutoff cleanup.
func NewRunner(cleaner Cleaner, state StateStore, days int, tick time.Duration, logger *slog.Logger) *Runner {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cleaner: cleaner,
		state:   state,
		tick:    tick,
		logger:  logger,
		now:     time.Now,
		days:    days,
	}
}

// SetRetentionDays changes the retention window, e.g. after a config reload.
func (r *Runner) SetRetentionDays(days int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if days != r.days {
		r.logger.Info("retention window changed", "from_days", r.days, "to_days", days)
	}
	r.days = days
}

// RetentionDays returns the current retention window.
func (r *Runner) RetentionDays() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.days
}

// LastRun reads the persisted last-run time. A missing marker is the zero time.
func (r *Runner) LastRun(ctx context.Context) (time.Time, error) {
	v, err := r.state.GetSetting(ctx, LastRunKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		r.logger.Warn("ignoring unreadable last-run marker", "value", v, "error", err)
		return time.Time{}, nil
	}
	return t, nil
}

// RunOnce performs one guarded cleanup. The last-run marker advances only
// when the cleanup completed without error.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	days := r.RetentionDays()
	if days <= 0 {
		return Result{Skipped: true}, nil
	}

	lastRun, err := r.LastRun(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read last run: %w", err)
	}

	now := r.now()
	req := Request{Cutoff: now.Add(-time.Duration(days) * 24 * time.Hour)}
	res, err := r.cleaner.CleanupIfDue(ctx, req, lastRun, now)
	if res.Skipped {
		return res, err
	}

	detail := map[string]any{
		"cutoff":         req.Cutoff.UTC().Format(time.RFC3339),
		"deleted_frames": res.DeletedFrames,
		"deleted_videos": res.DeletedVideos,
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	if logErr := r.state.LogMaintenance(ctx, "cleanup", detail); logErr != nil {
		r.logger.Warn("write maintenance log failed", "error", logErr)
	}
	if err != nil {
		return res, err
	}

	if err := r.state.SetSetting(ctx, LastRunKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return res, fmt.Errorf("record last run: %w", err)
	}
	return res, nil
}

// Run calls RunOnce immediately and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("retention runner started", "tick", r.tick, "days", r.RetentionDays())

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		if res, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("retention cleanup failed", "error", err)
		} else if !res.Skipped {
			r.logger.Info("retention cleanup done",
				"deleted_frames", res.DeletedFrames, "deleted_videos", res.DeletedVideos)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("retention runner stopped")
			return
		case <-ticker.C:
		}
	}
}
