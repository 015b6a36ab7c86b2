package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/runnerr0/memento/internal/config"
	"github.com/runnerr0/memento/internal/relocate"
)

// Execute implements the go-flags Commander interface for MigrateCommand.
func (c *MigrateCommand) Execute(args []string) error {
	if c.To == "" {
		return fmt.Errorf("--to is required for migrate command")
	}
	dst, err := config.ExpandPath(c.To)
	if err != nil {
		return err
	}
	dst, err = filepath.Abs(dst)
	if err != nil {
		return err
	}

	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	// Ctrl-C stops between entries; re-running the command resumes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, err := e.openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer lib.Close()

	m := relocate.New(e.logger)
	// The config file and the open log may live under the storage root.
	if err := m.Keep(e.cfgPath, e.logPath); err != nil {
		return err
	}
	if c.globals.Verbose && !c.globals.JSON {
		m.Progress = func(ev relocate.Event) {
			if ev.Destination == "" {
				fmt.Printf("  %-16s %s\n", ev.Kind, ev.Source)
				return
			}
			fmt.Printf("  %-16s %s -> %s\n", ev.Kind, ev.Source, ev.Destination)
		}
	}

	src := lib.Layout().Root
	res, err := lib.Relocate(ctx, dst, m)
	if err != nil {
		return fmt.Errorf("migration from %s to %s stopped: %w (run the same command again to resume)", src, dst, err)
	}

	e.cfg.Storage.Path = dst
	if err := config.Save(e.cfgPath, e.cfg); err != nil {
		return fmt.Errorf("data moved to %s but updating %s failed: %w", dst, e.cfgPath, err)
	}

	if c.globals.JSON {
		return writeJSON(map[string]any{
			"from":   src,
			"to":     dst,
			"result": res,
		})
	}

	fmt.Printf("Moved storage from %s to %s\n", src, dst)
	fmt.Printf("  Moved: %d  Copied: %d  Renamed on conflict: %d  Already present: %d\n",
		res.Moved, res.Copied, res.ConflictRenamed, res.Skipped)
	fmt.Printf("  Config updated: %s\n", e.cfgPath)
	return nil
}
