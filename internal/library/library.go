// Package library ties the frame store, segment index and retention engine
// to one storage root and is the entry point the capture pipeline, the
// viewer and the CLI use.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runnerr0/memento/internal/config"
	"github.com/runnerr0/memento/internal/embedding"
	"github.com/runnerr0/memento/internal/retention"
	"github.com/runnerr0/memento/internal/segment"
	"github.com/runnerr0/memento/internal/storage"
)

// ErrClosed is returned by every method after Close, or after a failed
// Relocate left the library without an open store.
var ErrClosed = errors.New("library is closed")

// Layout names the files under a storage root.
type Layout struct {
	Root       string
	DBFile     string
	SegmentDir string
}

// DBPath is the database file.
func (l Layout) DBPath() string { return filepath.Join(l.Root, l.DBFile) }

// SegmentPath is the directory holding segment files.
func (l Layout) SegmentPath() string { return filepath.Join(l.Root, l.SegmentDir) }

// Options configure Open.
type Options struct {
	Layout           Layout
	Driver           string
	BusyTimeout      time.Duration
	FramesPerSegment int
	VideoExtension   string
	CleanupInterval  time.Duration
	ReadOnly         bool
	Logger           *slog.Logger
}

// OptionsFromConfig maps the storage, segments and retention sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	root, err := cfg.StorageRoot()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Layout: Layout{
			Root:       root,
			DBFile:     cfg.Storage.SQLiteFile,
			SegmentDir: cfg.Storage.SegmentDir,
		},
		Driver:           cfg.Storage.Driver,
		BusyTimeout:      cfg.Storage.BusyTimeout(),
		FramesPerSegment: cfg.Segments.FramesPerSegment,
		VideoExtension:   cfg.Storage.VideoExtension,
		CleanupInterval:  cfg.Retention.CleanupInterval(),
	}, nil
}

// Capture is one frame handed over by the capture pipeline.
type Capture struct {
	FrameID     int64
	WindowTitle string
	Time        time.Time
	Blocks      []storage.ContentBlock
}

// Stats extends the store statistics with segment directory totals.
type Stats struct {
	storage.Stats
	Root         string `json:"root"`
	Segments     int    `json:"segments"`
	SegmentBytes int64  `json:"segment_bytes"`
}

// Library is one open storage root. Methods are safe for concurrent use;
// Relocate excludes every other call while it runs.
type Library struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	closed   bool
	store    *storage.SQLiteStore
	segments *segment.Index
	engine   *retention.Engine
}

// Open opens the store under opts.Layout and indexes its segment directory.
func Open(ctx context.Context, opts Options) (*Library, error) {
	if opts.Layout.Root == "" {
		return nil, errors.New("open library: empty storage root")
	}
	if opts.Layout.DBFile == "" {
		opts.Layout.DBFile = "memento.db"
	}
	if opts.Layout.SegmentDir == "" {
		opts.Layout.SegmentDir = "videos"
	}
	if opts.VideoExtension == "" {
		opts.VideoExtension = ".mp4"
	}
	if opts.FramesPerSegment <= 0 {
		opts.FramesPerSegment = segment.DefaultSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l := &Library{opts: opts, logger: opts.Logger}
	if err := l.open(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// open attaches store, index and engine for l.opts.Layout. Callers hold mu
// or own l exclusively.
func (l *Library) open(ctx context.Context) error {
	layout := l.opts.Layout

	if !l.opts.ReadOnly {
		if err := os.MkdirAll(layout.SegmentPath(), 0o755); err != nil {
			return fmt.Errorf("create segment dir: %w", err)
		}
	}

	store, err := storage.Open(ctx, storage.Options{
		Path:        layout.DBPath(),
		Driver:      l.opts.Driver,
		BusyTimeout: l.opts.BusyTimeout,
		ReadOnly:    l.opts.ReadOnly,
		Logger:      l.logger,
	})
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}

	index, err := segment.LoadIndex(layout.SegmentPath(), l.opts.VideoExtension, l.opts.FramesPerSegment)
	if err != nil {
		store.Close()
		return fmt.Errorf("open library: %w", err)
	}

	l.store = store
	l.segments = index
	l.engine = retention.NewEngine(store, index,
		retention.Guard{Interval: l.opts.CleanupInterval}, l.logger.With("component", "retention"))
	l.closed = false

	l.logger.Debug("library opened", "root", layout.Root, "segments", index.Len())
	return nil
}

// Layout returns the current storage layout.
func (l *Library) Layout() Layout {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.opts.Layout
}

// Record stores a frame and its content blocks atomically.
func (l *Library) Record(ctx context.Context, c Capture) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.store.InsertCapture(ctx,
		storage.Frame{ID: c.FrameID, WindowTitle: c.WindowTitle, Time: c.Time}, c.Blocks)
}

// RecordEmbedding stores the vector of an already recorded frame,
// normalized and, when quantize is set, reduced to int8 components.
func (l *Library) RecordEmbedding(ctx context.Context, frameID int64, vector []float32, quantize bool, summary string) error {
	if len(vector) == 0 {
		return errors.New("record embedding: empty vector")
	}
	blob, dims := embedding.Blob(vector, quantize)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.store.InsertEmbedding(ctx, storage.Embedding{
		FrameID:     frameID,
		Vector:      blob,
		Quantized:   quantize,
		Dimensions:  dims,
		TextSummary: summary,
	})
}

// SegmentFinalized tells the library the encoder closed the segment file
// starting at start.
func (l *Library) SegmentFinalized(start int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.segments.Append(start)
}

// MaxFrameID is the highest stored frame id, 0 when empty. Capture resumes
// at MaxFrameID()+1.
func (l *Library) MaxFrameID(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.store.GetMaxFrameID(ctx)
}

// SearchText runs a keyword search. Failures are logged and yield no hits.
func (l *Library) SearchText(ctx context.Context, q storage.TextQuery) []storage.TextHit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("text search on closed library")
		return []storage.TextHit{}
	}
	hits, err := l.store.SearchText(ctx, q)
	if err != nil {
		l.logger.Error("text search failed", "query", q.Query, "error", err)
		return []storage.TextHit{}
	}
	return hits
}

// SearchEmbeddings runs a vector search. Failures are logged and yield no hits.
func (l *Library) SearchEmbeddings(ctx context.Context, query []float32, topK int, minSimilarity float32) []storage.EmbeddingHit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("embedding search on closed library")
		return []storage.EmbeddingHit{}
	}
	hits, err := l.store.SearchEmbeddings(ctx, query, topK, minSimilarity)
	if err != nil {
		l.logger.Error("embedding search failed", "error", err)
		return []storage.EmbeddingHit{}
	}
	return hits
}

// Frame returns a frame with its content blocks.
func (l *Library) Frame(ctx context.Context, id int64) (*storage.Frame, []storage.ContentBlock, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, nil, ErrClosed
	}
	f, err := l.store.GetFrame(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := l.store.GetContentBlocks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return f, blocks, nil
}

// PendingEmbeddings returns up to limit frames with text but no embedding.
func (l *Library) PendingEmbeddings(ctx context.Context, limit int) ([]int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.store.FramesWithoutEmbedding(ctx, limit)
}

// Locate maps a frame id to its segment file and offset.
func (l *Library) Locate(frameID int64) (segment.Location, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return segment.Location{}, false
	}
	return l.segments.Locate(frameID)
}

// FrameAt maps a timeline position to a frame id.
func (l *Library) FrameAt(displayIndex int) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, false
	}
	return l.segments.FrameAt(displayIndex)
}

// SegmentStarts lists the indexed segment starts in ascending order.
func (l *Library) SegmentStarts() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	return l.segments.Starts()
}

// SegmentPath is the file a segment start maps to.
func (l *Library) SegmentPath(start int64) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return filepath.Join(l.opts.Layout.SegmentPath(), segment.FileName(start, l.opts.VideoExtension))
}

// FramesPerSegment is the configured segment size.
func (l *Library) FramesPerSegment() int { return l.opts.FramesPerSegment }

// CountExpired counts frames captured before cutoff.
func (l *Library) CountExpired(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	ids, err := l.store.FrameIDsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Cleanup runs retention unconditionally.
func (l *Library) Cleanup(ctx context.Context, req retention.Request) (retention.Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return retention.Result{}, ErrClosed
	}
	return l.engine.Cleanup(ctx, req)
}

// CleanupIfDue runs retention when the guard allows it. Together with the
// settings methods below it lets a retention.Runner drive the library
// across Relocate calls.
func (l *Library) CleanupIfDue(ctx context.Context, req retention.Request, lastRun, now time.Time) (retention.Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return retention.Result{}, ErrClosed
	}
	return l.engine.CleanupIfDue(ctx, req, lastRun, now)
}

// GetSetting reads a key from the store settings table.
func (l *Library) GetSetting(ctx context.Context, key string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return "", ErrClosed
	}
	return l.store.GetSetting(ctx, key)
}

// SetSetting writes a key to the store settings table.
func (l *Library) SetSetting(ctx context.Context, key, value string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.store.SetSetting(ctx, key, value)
}

// LogMaintenance appends an action and its JSON-encoded detail to the
// maintenance log.
func (l *Library) LogMaintenance(ctx context.Context, action string, detail any) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return l.store.LogMaintenance(ctx, action, detail)
}

// RecentMaintenance returns the newest maintenance log entries.
func (l *Library) RecentMaintenance(ctx context.Context, limit int) ([]storage.MaintenanceEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	return l.store.RecentMaintenance(ctx, limit)
}

// Stats reports store counts plus the number and size of segment files.
func (l *Library) Stats(ctx context.Context) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	st, err := l.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Stats: *st, Root: l.opts.Layout.Root}

	for _, start := range l.segments.Starts() {
		info, err := os.Stat(l.segments.Path(start))
		if err != nil {
			continue
		}
		out.Segments++
		out.SegmentBytes += info.Size()
	}
	return out, nil
}

// Close releases the store. Further calls return ErrClosed.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.store.Close()
}
