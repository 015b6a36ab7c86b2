package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/retention"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	period := time.Duration(e.cfg.Retention.Days) * 24 * time.Hour
	if c.OlderThan != "" {
		period, err = parseDuration(c.OlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
	}
	if period <= 0 {
		fmt.Println("Retention is disabled (retention.days is 0); nothing to prune.")
		return nil
	}

	ctx := context.Background()
	lib, err := e.openLibrary(ctx, c.DryRun)
	if err != nil {
		return err
	}
	defer lib.Close()

	return c.executeWithLibrary(ctx, lib, period, time.Now())
}

func (c *PruneCommand) executeWithLibrary(ctx context.Context, lib *library.Library, period time.Duration, now time.Time) error {
	cutoff := now.Add(-period)

	if c.DryRun {
		n, err := lib.CountExpired(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("count expired frames: %w", err)
		}
		if c.globals.JSON {
			return writeJSON(map[string]any{
				"dry_run": true,
				"cutoff":  cutoff.UTC().Format(time.RFC3339),
				"frames":  n,
			})
		}
		fmt.Printf("Would delete %s %s older than %s (before %s).\n",
			formatNumber(int64(n)), plural(n, "frame", "frames"), formatDurationHuman(period), cutoff.Local().Format("2006-01-02 15:04"))
		return nil
	}

	res, err := lib.Cleanup(ctx, retention.Request{Cutoff: cutoff})
	detail := map[string]any{
		"cutoff":         cutoff.UTC().Format(time.RFC3339),
		"deleted_frames": res.DeletedFrames,
		"deleted_videos": res.DeletedVideos,
		"manual":         true,
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	if logErr := lib.LogMaintenance(ctx, "cleanup", detail); logErr != nil {
		fmt.Printf("warning: could not write maintenance log: %v\n", logErr)
	}
	if err != nil {
		return fmt.Errorf("prune failed after deleting %d frames: %w", res.DeletedFrames, err)
	}

	if c.globals.JSON {
		return writeJSON(res)
	}
	fmt.Printf("Pruned %s %s and %d video %s older than %s.\n",
		formatNumber(res.DeletedFrames), plural(int(res.DeletedFrames), "frame", "frames"),
		res.DeletedVideos, plural(res.DeletedVideos, "segment", "segments"), formatDurationHuman(period))
	return nil
}
