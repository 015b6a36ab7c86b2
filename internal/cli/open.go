package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/segment"
	"github.com/runnerr0/memento/internal/storage"
)

// Execute implements the go-flags Commander interface for OpenCommand.
func (c *OpenCommand) Execute(args []string) error {
	if c.ID < 0 {
		return fmt.Errorf("--id is required for open command")
	}
	switch c.Format {
	case "full", "text", "json":
	default:
		return fmt.Errorf("unknown --format %q (use full, text or json)", c.Format)
	}

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

	return c.executeWithLibrary(ctx, lib)
}

func (c *OpenCommand) executeWithLibrary(ctx context.Context, lib *library.Library) error {
	frame, blocks, err := lib.Frame(ctx, c.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("frame not found: %d", c.ID)
	}
	if err != nil {
		return fmt.Errorf("load frame %d: %w", c.ID, err)
	}
	loc, hasVideo := lib.Locate(c.ID)

	// JSON output (--json global flag)
	if c.globals.JSON || c.Format == "json" {
		return c.outputJSON(frame, blocks, loc, hasVideo)
	}

	if c.Format == "text" {
		for _, b := range blocks {
			fmt.Println(b.Text)
		}
		return nil
	}

	c.outputFull(frame, blocks, loc, hasVideo)
	return nil
}

func (c *OpenCommand) outputFull(frame *storage.Frame, blocks []storage.ContentBlock, loc segment.Location, hasVideo bool) {
	fmt.Printf("Frame %d\n", frame.ID)
	fmt.Printf("Window:    %s\n", frame.WindowTitle)
	fmt.Printf("Captured:  %s\n", frame.Time.Local().Format("2006-01-02 15:04:05"))
	if hasVideo {
		fmt.Printf("Segment:   %s (frame %d of the file)\n", loc.Path, loc.Offset)
	} else {
		fmt.Println("Segment:   none")
	}
	fmt.Println()
	fmt.Println("--- Text ---")
	if len(blocks) == 0 {
		fmt.Println("No text recognized")
		return
	}
	for _, b := range blocks {
		fmt.Printf("[%4.0f,%4.0f %4.0fx%-4.0f] %s\n", b.X, b.Y, b.W, b.H, b.Text)
	}
}

type jsonBlock struct {
	ID   int64   `json:"id"`
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

type jsonFrame struct {
	ID          int64             `json:"id"`
	WindowTitle string            `json:"window_title"`
	Captured    string            `json:"captured"`
	Blocks      []jsonBlock       `json:"blocks"`
	Segment     *segment.Location `json:"segment,omitempty"`
}

func (c *OpenCommand) outputJSON(frame *storage.Frame, blocks []storage.ContentBlock, loc segment.Location, hasVideo bool) error {
	out := jsonFrame{
		ID:          frame.ID,
		WindowTitle: frame.WindowTitle,
		Captured:    frame.Time.UTC().Format(time.RFC3339Nano),
		Blocks:      make([]jsonBlock, len(blocks)),
	}
	for i, b := range blocks {
		out.Blocks[i] = jsonBlock{ID: b.ID, Text: b.Text, X: b.X, Y: b.Y, W: b.W, H: b.H}
	}
	if hasVideo {
		out.Segment = &loc
	}
	return writeJSON(out)
}
