package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/retention"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL Memento data.")
		fmt.Println("  - All recorded frames")
		fmt.Println("  - All recognized text")
		fmt.Println("  - All embeddings")
		fmt.Println("  - All video segment files")
		fmt.Println()
		fmt.Println("This action cannot be undone.")
		fmt.Println()

		var in io.Reader = os.Stdin
		if c.stdin != nil {
			in = c.stdin
		}
		if err := confirm(in, `Type "PURGE" to confirm: `, "PURGE"); err != nil {
			return err
		}
	}

	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	lib, err := e.openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer lib.Close()

	return c.executeWithLibrary(ctx, lib)
}

func (c *PurgeCommand) executeWithLibrary(ctx context.Context, lib *library.Library) error {
	res, err := lib.Cleanup(ctx, retention.Request{DeleteAll: true})
	if logErr := lib.LogMaintenance(ctx, "purge", res); logErr != nil {
		fmt.Printf("warning: could not write maintenance log: %v\n", logErr)
	}
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	// Output
	if c.globals.JSON {
		return writeJSON(map[string]any{
			"purged":         true,
			"deleted_frames": res.DeletedFrames,
			"deleted_videos": res.DeletedVideos,
		})
	}

	fmt.Printf("Purged %s frames and %d video segments. Memento is empty.\n",
		formatNumber(res.DeletedFrames), res.DeletedVideos)
	return nil
}
