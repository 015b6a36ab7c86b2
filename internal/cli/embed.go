package cli

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/runnerr0/memento/internal/embedder"
	"github.com/runnerr0/memento/internal/library"
)

// maxSummaryRunes caps the text sent to the embedding model per frame.
const maxSummaryRunes = 2000

// summarize joins a frame's text blocks into the string that gets embedded.
func summarize(texts []string) string {
	s := strings.Join(strings.Fields(strings.Join(texts, " ")), " ")
	if utf8.RuneCountInString(s) <= maxSummaryRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxSummaryRunes])
}

// Execute implements the go-flags Commander interface for EmbedCommand.
func (c *EmbedCommand) Execute(args []string) error {
	e, err := loadEnv(c.globals)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.newEmbedder()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if !client.IsRunning(ctx) {
		return fmt.Errorf("embedding server not reachable at %s", e.cfg.Embeddings.OllamaURL)
	}

	lib, err := e.openLibrary(ctx, false)
	if err != nil {
		return err
	}
	defer lib.Close()

	return c.executeWithLibrary(ctx, e, lib, client)
}

func (c *EmbedCommand) executeWithLibrary(ctx context.Context, e *env, lib *library.Library, client embedder.Embedder) error {
	ids, err := lib.PendingEmbeddings(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("listing frames: %w", err)
	}

	batch := e.cfg.Embeddings.BatchSize
	if batch <= 0 {
		batch = 16
	}

	done := 0
	for lo := 0; lo < len(ids); lo += batch {
		chunk := ids[lo:min(lo+batch, len(ids))]

		summaries := make([]string, len(chunk))
		for i, id := range chunk {
			_, blocks, err := lib.Frame(ctx, id)
			if err != nil {
				return fmt.Errorf("load frame %d: %w", id, err)
			}
			texts := make([]string, len(blocks))
			for j, b := range blocks {
				texts[j] = b.Text
			}
			summaries[i] = summarize(texts)
		}

		vecs, err := embedder.EmbedBatch(ctx, client, summaries)
		if err != nil {
			return fmt.Errorf("embedded %d of %d frames: %w", done, len(ids), err)
		}
		for i, id := range chunk {
			if err := lib.RecordEmbedding(ctx, id, vecs[i], e.cfg.Embeddings.Quantize, summaries[i]); err != nil {
				return fmt.Errorf("save embedding for frame %d: %w", id, err)
			}
			done++
		}
		e.logger.Debug("embedded batch", "frames", len(chunk), "done", done, "total", len(ids))
	}

	if c.globals.JSON {
		return writeJSON(map[string]any{"embedded": done, "quantized": e.cfg.Embeddings.Quantize})
	}
	if done == 0 {
		fmt.Println("All frames with text already have embeddings.")
		return nil
	}
	fmt.Printf("Embedded %d %s with %s.\n", done, plural(done, "frame", "frames"), e.cfg.Embeddings.Model)
	return nil
}
