package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/retention"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version             string            `json:"version"`
	Root                string            `json:"storage_root"`
	DatabasePath        string            `json:"database_path"`
	DatabaseSizeBytes   int64             `json:"database_size_bytes"`
	TotalFrames         int64             `json:"total_frames"`
	TotalBlocks         int64             `json:"total_blocks"`
	TotalEmbeddings     int64             `json:"total_embeddings"`
	QuantizedEmbeddings int64             `json:"quantized_embeddings"`
	MaxFrameID          int64             `json:"max_frame_id"`
	OldestFrame         string            `json:"oldest_frame,omitempty"`
	NewestFrame         string            `json:"newest_frame,omitempty"`
	Segments            int               `json:"segments"`
	SegmentBytes        int64             `json:"segment_bytes"`
	RetentionDays       int               `json:"retention_days"`
	LastCleanup         string            `json:"last_cleanup,omitempty"`
	TopWindows          []windowCountJSON `json:"top_windows"`
	EmbeddingsEnabled   bool              `json:"embeddings_enabled"`
	EmbeddingsModel     string            `json:"embeddings_model,omitempty"`
}

type windowCountJSON struct {
	WindowTitle string `json:"window_title"`
	Count       int64  `json:"count"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	lib, err := e.openLibrary(ctx, true)
	if err != nil {
		return err
	}
	defer lib.Close()

	return c.executeWithLibrary(ctx, e, lib)
}

func (c *StatusCommand) executeWithLibrary(ctx context.Context, e *env, lib *library.Library) error {
	stats, err := lib.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	var lastRun time.Time
	if v, err := lib.GetSetting(ctx, retention.LastRunKey); err == nil {
		lastRun, _ = time.Parse(time.RFC3339Nano, v)
	}

	if c.globals.JSON {
		return c.printStatusJSON(e, lib, stats, lastRun)
	}
	return c.printStatusHuman(e, lib, stats, lastRun)
}

func (c *StatusCommand) printStatusHuman(e *env, lib *library.Library, stats *library.Stats, lastRun time.Time) error {
	fmt.Println("Memento Status")
	fmt.Println("==============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Storage:       %s\n", stats.Root)
	fmt.Printf("Database:      %s (%s)\n", lib.Layout().DBPath(), formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Frames:        %s\n", formatNumber(stats.TotalFrames))
	fmt.Printf("Text blocks:   %s\n", formatNumber(stats.TotalBlocks))

	// Embeddings with coverage percentage
	if stats.TotalFrames > 0 {
		pct := float64(stats.TotalEmbeddings) / float64(stats.TotalFrames) * 100
		fmt.Printf("Embedded:      %s (%.1f%%)\n", formatNumber(stats.TotalEmbeddings), pct)
	} else {
		fmt.Printf("Embedded:      %s\n", formatNumber(stats.TotalEmbeddings))
	}
	fmt.Printf("Segments:      %d (%s)\n", stats.Segments, formatBytes(stats.SegmentBytes))

	// Time range
	if stats.TotalFrames > 0 {
		fmt.Printf("Oldest:        %s\n", stats.OldestFrame.Local().Format("2006-01-02 15:04"))
		fmt.Printf("Newest:        %s\n", stats.NewestFrame.Local().Format("2006-01-02 15:04"))
		fmt.Printf("Next frame ID: %d\n", stats.MaxFrameID+1)
	}

	if days := e.cfg.Retention.Days; days > 0 {
		fmt.Printf("Retention:     %d days\n", days)
	} else {
		fmt.Println("Retention:     keep everything")
	}
	if lastRun.IsZero() {
		fmt.Println("Last cleanup:  never")
	} else {
		fmt.Printf("Last cleanup:  %s\n", lastRun.Local().Format("2006-01-02 15:04"))
	}

	// Top windows
	if len(stats.TopWindows) > 0 {
		fmt.Println()
		fmt.Println("Top Windows:")
		for _, w := range stats.TopWindows {
			fmt.Printf("  %-30s %s\n", w.WindowTitle, formatNumber(w.Count))
		}
	}

	fmt.Println()
	if e.cfg.Embeddings.Enabled {
		fmt.Printf("Embeddings:    enabled (%s)\n", e.cfg.Embeddings.Model)
	} else {
		fmt.Println("Embeddings:    disabled")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(e *env, lib *library.Library, stats *library.Stats, lastRun time.Time) error {
	out := statusJSON{
		Version:             c.version,
		Root:                stats.Root,
		DatabasePath:        lib.Layout().DBPath(),
		DatabaseSizeBytes:   stats.DatabaseSizeBytes,
		TotalFrames:         stats.TotalFrames,
		TotalBlocks:         stats.TotalBlocks,
		TotalEmbeddings:     stats.TotalEmbeddings,
		QuantizedEmbeddings: stats.QuantizedEmbeddings,
		MaxFrameID:          stats.MaxFrameID,
		Segments:            stats.Segments,
		SegmentBytes:        stats.SegmentBytes,
		RetentionDays:       e.cfg.Retention.Days,
		TopWindows:          make([]windowCountJSON, len(stats.TopWindows)),
		EmbeddingsEnabled:   e.cfg.Embeddings.Enabled,
	}
	if e.cfg.Embeddings.Enabled {
		out.EmbeddingsModel = e.cfg.Embeddings.Model
	}

	if stats.TotalFrames > 0 {
		out.OldestFrame = stats.OldestFrame.UTC().Format(time.RFC3339)
		out.NewestFrame = stats.NewestFrame.UTC().Format(time.RFC3339)
	}
	if !lastRun.IsZero() {
		out.LastCleanup = lastRun.UTC().Format(time.RFC3339)
	}

	for i, w := range stats.TopWindows {
		out.TopWindows[i] = windowCountJSON{WindowTitle: w.WindowTitle, Count: w.Count}
	}

	return writeJSON(out)
}
