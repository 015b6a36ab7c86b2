package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/memento/internal/embedder"
	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/storage"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.Title == "" {
		return fmt.Errorf("--title is required for add command")
	}

	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	lib, err := e.openLibrary(ctx, false)
	if err != nil {
		return fmt.Errorf("opening library: %w", err)
	}
	defer lib.Close()

	return c.executeWithLibrary(ctx, e, lib)
}

// texts collects --text values and --text-file lines, skipping blank lines.
func (c *AddCommand) texts() ([]string, error) {
	out := append([]string(nil), c.Text...)
	if c.TextFile == "" {
		return out, nil
	}

	f, err := os.Open(c.TextFile)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	return out, nil
}

// nextID is where capture would resume: 0 on an empty store, else max+1.
func nextID(ctx context.Context, lib *library.Library) (int64, error) {
	stats, err := lib.Stats(ctx)
	if err != nil {
		return 0, err
	}
	if stats.TotalFrames == 0 {
		return 0, nil
	}
	return stats.MaxFrameID + 1, nil
}

func (c *AddCommand) executeWithLibrary(ctx context.Context, e *env, lib *library.Library) error {
	texts, err := c.texts()
	if err != nil {
		return err
	}

	at := time.Now()
	if c.At != "" {
		at, err = time.Parse(time.RFC3339, c.At)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: %w", c.At, err)
		}
	}

	var client *embedder.Ollama
	if c.Embed {
		if client, err = e.newEmbedder(); err != nil {
			return err
		}
	}

	id := c.ID
	if id < 0 {
		id, err = nextID(ctx, lib)
		if err != nil {
			return fmt.Errorf("choosing frame id: %w", err)
		}
	}

	// Manual frames have no pixels; blocks are stacked one line apart.
	blocks := make([]storage.ContentBlock, len(texts))
	for i, text := range texts {
		blocks[i] = storage.ContentBlock{Text: text, Y: float64(i * 20), W: float64(len(text) * 8), H: 20}
	}

	if err := lib.Record(ctx, library.Capture{FrameID: id, WindowTitle: c.Title, Time: at, Blocks: blocks}); err != nil {
		return fmt.Errorf("storing frame: %w", err)
	}

	embedded := false
	if client != nil && len(texts) > 0 {
		summary := summarize(texts)
		vec, err := client.Embed(ctx, summary)
		if err != nil {
			return fmt.Errorf("frame %d stored, embedding failed: %w", id, err)
		}
		if err := lib.RecordEmbedding(ctx, id, vec, e.cfg.Embeddings.Quantize, summary); err != nil {
			return fmt.Errorf("frame %d stored, saving embedding failed: %w", id, err)
		}
		embedded = true
	}

	// Output confirmation
	if c.globals.JSON {
		return writeJSON(map[string]any{
			"id":     id,
			"title":  c.Title,
			"ts":     at.UTC().Format(time.RFC3339),
			"blocks": len(blocks),
			"embed":  embedded,
		})
	}

	hasEmbedding := "no"
	if embedded {
		hasEmbedding = "yes"
	}

	fmt.Printf("Added frame %d (%s)\n", id, at.Format(time.RFC3339))
	fmt.Printf("  Window: %s\n", c.Title)
	fmt.Printf("  Text blocks: %d\n", len(blocks))
	fmt.Printf("  Embedding: %s\n", hasEmbedding)

	return nil
}
