package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/memento/internal/library"
	"github.com/runnerr0/memento/internal/storage"
)

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("a search query is required")
	}
	if c.Offset < 0 {
		return fmt.Errorf("--offset must not be negative, got %d", c.Offset)
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

	if c.Semantic {
		return c.semantic(ctx, e, lib, query)
	}
	return c.keyword(ctx, e, lib, query)
}

func (c *SearchCommand) keyword(ctx context.Context, e *env, lib *library.Library, query string) error {
	now := time.Now()
	var since time.Time
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		since = now.Add(-dur)
	}

	var until time.Time
	if c.Until != "" {
		dur, err := parseDuration(c.Until)
		if err != nil {
			return fmt.Errorf("invalid --until value %q: %w", c.Until, err)
		}
		until = now.Add(-dur)
	}

	limit := c.Limit
	if limit <= 0 {
		limit = e.cfg.Search.Limit
	}

	hits := lib.SearchText(ctx, storage.TextQuery{
		Query:  query,
		Since:  since,
		Until:  until,
		Limit:  limit,
		Offset: c.Offset,
	})

	if c.globals.JSON {
		return c.printTextJSON(lib, query, hits)
	}
	return c.printTextHuman(lib, query, hits)
}

func (c *SearchCommand) semantic(ctx context.Context, e *env, lib *library.Library, query string) error {
	client, err := e.newEmbedder()
	if err != nil {
		return err
	}
	vec, err := client.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}

	topK := c.Limit
	if topK <= 0 {
		topK = e.cfg.Search.TopK
	}
	floor := c.MinSimilarity
	if floor <= -1 {
		floor = e.cfg.Search.MinSimilarity
	}

	hits := lib.SearchEmbeddings(ctx, vec, topK+c.Offset, floor)
	if c.Offset >= len(hits) {
		hits = hits[:0]
	} else {
		hits = hits[c.Offset:]
	}

	if c.globals.JSON {
		return c.printSemanticJSON(lib, query, hits)
	}
	return c.printSemanticHuman(lib, query, hits)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// locationLine describes where a frame's pixels live, or that they are gone.
func locationLine(lib *library.Library, frameID int64) string {
	loc, ok := lib.Locate(frameID)
	if !ok {
		return "no video segment"
	}
	return fmt.Sprintf("%s @ frame %d", loc.Path, loc.Offset)
}

func (c *SearchCommand) printTextHuman(lib *library.Library, query string, hits []storage.TextHit) error {
	if len(hits) == 0 {
		fmt.Printf("No results found for %q (since %s)\n", query, c.Since)
		return nil
	}

	fmt.Printf("Found %d %s for %q (since %s)\n\n", len(hits), plural(len(hits), "result", "results"), query, c.Since)

	for i, h := range hits {
		fmt.Printf("%d. [frame %d] %s\n", i+1+c.Offset, h.FrameID, h.WindowTitle)
		fmt.Printf("   %s\n", h.Text)
		fmt.Printf("   %s · %s\n", h.Time.Local().Format("2006-01-02 15:04:05"), locationLine(lib, h.FrameID))

		if i < len(hits)-1 {
			fmt.Println()
		}
	}

	return nil
}

type jsonTextHit struct {
	storage.TextHit
	Segment string `json:"segment,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type jsonSemanticHit struct {
	storage.EmbeddingHit
	Segment string `json:"segment,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type jsonSearchOutput struct {
	Count   int    `json:"count"`
	Query   string `json:"query"`
	Mode    string `json:"mode"`
	Results any    `json:"results"`
}

func (c *SearchCommand) printTextJSON(lib *library.Library, query string, hits []storage.TextHit) error {
	results := make([]jsonTextHit, len(hits))
	for i, h := range hits {
		results[i] = jsonTextHit{TextHit: h}
		if loc, ok := lib.Locate(h.FrameID); ok {
			results[i].Segment = loc.Path
			results[i].Offset = loc.Offset
		}
	}
	return writeJSON(jsonSearchOutput{Count: len(hits), Query: query, Mode: "keyword", Results: results})
}

func (c *SearchCommand) printSemanticHuman(lib *library.Library, query string, hits []storage.EmbeddingHit) error {
	if len(hits) == 0 {
		fmt.Printf("No similar frames found for %q\n", query)
		return nil
	}

	fmt.Printf("Found %d similar %s for %q\n\n", len(hits), plural(len(hits), "frame", "frames"), query)
	for i, h := range hits {
		fmt.Printf("%d. [frame %d] similarity %.3f\n", i+1+c.Offset, h.FrameID, h.Similarity)
		if h.Summary != "" {
			fmt.Printf("   %s\n", h.Summary)
		}
		fmt.Printf("   %s\n", locationLine(lib, h.FrameID))

		if i < len(hits)-1 {
			fmt.Println()
		}
	}
	return nil
}

func (c *SearchCommand) printSemanticJSON(lib *library.Library, query string, hits []storage.EmbeddingHit) error {
	results := make([]jsonSemanticHit, len(hits))
	for i, h := range hits {
		results[i] = jsonSemanticHit{EmbeddingHit: h}
		if loc, ok := lib.Locate(h.FrameID); ok {
			results[i].Segment = loc.Path
			results[i].Offset = loc.Offset
		}
	}
	return writeJSON(jsonSearchOutput{Count: len(hits), Query: query, Mode: "semantic", Results: results})
}
