package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/runnerr0/memento/internal/library"
)

type segmentJSON struct {
	Start     int64  `json:"start"`
	LastFrame int64  `json:"last_frame"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Execute implements the go-flags Commander interface for SegmentsCommand.
func (c *SegmentsCommand) Execute(args []string) error {
	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	lib, err := e.openLibrary(context.Background(), true)
	if err != nil {
		return err
	}
	defer lib.Close()

	return c.executeWithLibrary(lib)
}

// segmentRows describes indexed segments; a short segment ends where the
// next one starts.
func segmentRows(lib *library.Library) []segmentJSON {
	starts := lib.SegmentStarts()
	size := int64(lib.FramesPerSegment())

	rows := make([]segmentJSON, len(starts))
	for i, start := range starts {
		end := start + size
		if i+1 < len(starts) && starts[i+1] < end {
			end = starts[i+1]
		}
		rows[i] = segmentJSON{Start: start, LastFrame: end - 1, Path: lib.SegmentPath(start)}
		if info, err := os.Stat(rows[i].Path); err == nil {
			rows[i].SizeBytes = info.Size()
		}
	}
	return rows
}

func (c *SegmentsCommand) executeWithLibrary(lib *library.Library) error {
	if c.Frame >= 0 {
		loc, ok := lib.Locate(c.Frame)
		if !ok {
			return fmt.Errorf("frame %d is not in any indexed segment", c.Frame)
		}
		if c.globals.JSON {
			return writeJSON(loc)
		}
		fmt.Printf("Frame %d: %s (frame %d of the file, timeline position %d)\n",
			c.Frame, loc.Path, loc.Offset, loc.DisplayIndex)
		return nil
	}

	rows := segmentRows(lib)
	if c.globals.JSON {
		return writeJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No video segments.")
		return nil
	}
	fmt.Printf("%d video %s (%d frames each):\n", len(rows), plural(len(rows), "segment", "segments"), lib.FramesPerSegment())
	for _, r := range rows {
		fmt.Printf("  %8d-%-8d %10s  %s\n", r.Start, r.LastFrame, formatBytes(r.SizeBytes), r.Path)
	}
	return nil
}
