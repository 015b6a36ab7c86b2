package storage

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/runnerr0/memento/internal/embedding"
)

// DefaultSearchLimit caps text results when the query leaves Limit unset.
const DefaultSearchLimit = 50

// ftsQuery converts a user search string into an FTS5 query. Each word
// becomes a quoted prefix token and all of them must match.
func ftsQuery(input string) string {
	words := strings.Fields(input)
	if len(words) == 0 {
		return ""
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, `"`+strings.ReplaceAll(w, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " ")
}

// SearchText runs a keyword search over content blocks. Results are ordered
// by bm25 relevance, ties broken by the most recent frame first. An empty
// query matches nothing.
func (s *SQLiteStore) SearchText(ctx context.Context, q TextQuery) ([]TextHit, error) {
	match := ftsQuery(q.Query)
	if match == "" {
		return []TextHit{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var clauses []string
	var args []any
	args = append(args, match)

	if !q.Since.IsZero() {
		clauses = append(clauses, "fr.time >= ?")
		args = append(args, FormatTime(q.Since))
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "fr.time <= ?")
		args = append(args, FormatTime(q.Until))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	query := `
		SELECT b.id, b.frame_id, b.text, m.score, fr.window_title, fr.time
		FROM (
			SELECT rowid, bm25(content_blocks_fts) AS score
			FROM content_blocks_fts
			WHERE content_blocks_fts MATCH ?
		) m
		JOIN content_blocks b ON b.id = m.rowid
		JOIN frames fr ON fr.id = b.frame_id` +
		where +
		" ORDER BY m.score, b.frame_id DESC, b.id LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search text: %w", err)
	}
	defer rows.Close()

	hits := []TextHit{}
	for rows.Next() {
		var h TextHit
		var ts string
		if err := rows.Scan(&h.BlockID, &h.FrameID, &h.Text, &h.Rank, &h.WindowTitle, &ts); err != nil {
			return nil, fmt.Errorf("scan text hit: %w", err)
		}
		h.Time, _ = parseTimestamp(ts)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// hitHeap is a min-heap of the current top-K candidates. The root is the
// weakest: lowest similarity, then lowest frame id.
type hitHeap []EmbeddingHit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Similarity != h[j].Similarity {
		return h[i].Similarity < h[j].Similarity
	}
	return h[i].FrameID < h[j].FrameID
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(EmbeddingHit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// beats reports whether a candidate outranks the weakest kept hit.
func beats(c, weakest EmbeddingHit) bool {
	if c.Similarity != weakest.Similarity {
		return c.Similarity > weakest.Similarity
	}
	return c.FrameID > weakest.FrameID
}

// SearchEmbeddings scans every stored embedding and returns up to topK frames
// whose similarity to query is at least minSimilarity, sorted by similarity
// then most recent frame first. Each row is scored in the encoding it was
// stored with. Rows with a different dimensionality or an unreadable blob are
// skipped.
func (s *SQLiteStore) SearchEmbeddings(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]EmbeddingHit, error) {
	if topK <= 0 || len(query) == 0 {
		return []EmbeddingHit{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT frame_id, vector, quantized, text_summary FROM embeddings",
	)
	if err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	defer rows.Close()

	q := embedding.NewQuery(query)
	h := make(hitHeap, 0, topK)
	skipped := 0

	for rows.Next() {
		var (
			id        int64
			blob      []byte
			quantized bool
			summary   string
		)
		if err := rows.Scan(&id, &blob, &quantized, &summary); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}

		sim, err := q.Score(blob, quantized)
		if err != nil {
			skipped++
			s.logger.Debug("skipping embedding", "frame_id", id, "error", err)
			continue
		}
		if sim < minSimilarity {
			continue
		}

		c := EmbeddingHit{FrameID: id, Similarity: sim, Summary: summary}
		if h.Len() < topK {
			heap.Push(&h, c)
		} else if beats(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Debug("embedding scan skipped rows", "count", skipped)
	}

	hits := []EmbeddingHit(h)
	sort.Slice(hits, func(i, j int) bool { return beats(hits[i], hits[j]) })
	return hits, nil
}
