package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/memento/internal/config"
	"github.com/runnerr0/memento/internal/retention"
)

// Execute implements the go-flags Commander interface for DaemonCommand.
func (c *DaemonCommand) Execute(args []string) error {
	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, e)
}

// run blocks until ctx is cancelled.
func (c *DaemonCommand) run(ctx context.Context, e *env) error {
	lib, err := e.openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer lib.Close()

	logger := e.logger.With("component", "daemon")
	runner := retention.NewRunner(lib, lib, e.cfg.Retention.Days, c.Tick, e.logger.With("component", "retention"))

	watcher, err := config.NewWatcher(e.cfgPath, logger)
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	defer watcher.Stop()
	watchedRoot := e.cfg.Storage.Path
	watcher.OnChange(func(prev, next *config.Config) {
		if prev == nil || prev.Retention.Days != next.Retention.Days {
			runner.SetRetentionDays(next.Retention.Days)
			logger.Info("retention days updated", "days", next.Retention.Days)
		}
		if next.Storage.Path != watchedRoot {
			logger.Warn("storage.path changed; restart the daemon to use it",
				"running", watchedRoot, "configured", next.Storage.Path)
		}
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	}

	logger.Info("daemon started", "version", c.version, "root", lib.Layout().Root,
		"retention_days", runner.RetentionDays(), "tick", c.Tick)
	runner.Run(ctx)
	logger.Info("daemon stopped")
	return nil
}
