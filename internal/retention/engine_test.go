package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/memento/internal/embedding"
	"github.com/runnerr0/memento/internal/segment"
	"github.com/runnerr0/memento/internal/storage"
)

var (
	t1 = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(24 * time.Hour)
	t3 = t2.Add(24 * time.Hour)
)

type fixture struct {
	store  *storage.SQLiteStore
	index  *segment.Index
	engine *Engine
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(context.Background(), storage.Options{Path: filepath.Join(root, "memento.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := filepath.Join(root, "videos")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	idx := segment.NewIndex(dir, ".mp4", 5, nil)
	return &fixture{
		store:  store,
		index:  idx,
		engine: NewEngine(store, idx, Guard{}, nil),
		dir:    dir,
	}
}

// frame stores a frame with one text block and an embedding.
func (f *fixture) frame(t *testing.T, id int64, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.InsertCapture(ctx,
		storage.Frame{ID: id, WindowTitle: "w", Time: at},
		[]storage.ContentBlock{{Text: "frame text"}},
	))
	blob, dims := embedding.Blob([]float32{1, 2, 3}, true)
	require.NoError(t, f.store.InsertEmbedding(ctx, storage.Embedding{
		FrameID: id, Vector: blob, Quantized: true, Dimensions: dims,
	}))
}

// segmentFile writes a finalized segment and registers it with the index.
func (f *fixture) segmentFile(t *testing.T, start int64) string {
	t.Helper()
	path := f.index.Path(start)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	f.index.Append(start)
	return path
}

func TestCleanup_SharedSegmentIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id := int64(0); id <= 4; id++ {
		f.frame(t, id, t1)
	}
	f.frame(t, 5, t2)
	f.frame(t, 6, t2)
	for id := int64(7); id <= 9; id++ {
		f.frame(t, id, t3)
	}
	first := f.segmentFile(t, 0)
	shared := f.segmentFile(t, 5)

	res, err := f.engine.Cleanup(ctx, Request{Cutoff: t3})
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedFrames: 7, DeletedVideos: 1}, res)

	assert.NoFileExists(t, first)
	assert.FileExists(t, shared, "segment 5 still holds frames 7..9")
	assert.Equal(t, []int64{5}, f.index.Starts())

	ids, err := f.store.AllFrameIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, ids)

	st, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalBlocks)
	assert.Equal(t, int64(3), st.TotalEmbeddings)
}

func TestCleanup_ShortSegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Segment 5 was cut short after frame 7; capture resumed at 8.
	for id := int64(5); id <= 7; id++ {
		f.frame(t, id, t1)
	}
	for id := int64(8); id <= 12; id++ {
		f.frame(t, id, t3)
	}
	short := f.segmentFile(t, 5)
	next := f.segmentFile(t, 8)

	res, err := f.engine.Cleanup(ctx, Request{Cutoff: t2})
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedFrames: 3, DeletedVideos: 1}, res)
	assert.NoFileExists(t, short)
	assert.FileExists(t, next)
}

func TestCleanup_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id := int64(0); id < 5; id++ {
		f.frame(t, id, t1)
	}
	f.segmentFile(t, 0)

	res, err := f.engine.Cleanup(ctx, Request{Cutoff: t2})
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedFrames: 5, DeletedVideos: 1}, res)

	res, err = f.engine.Cleanup(ctx, Request{Cutoff: t2})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestCleanup_NothingExpired(t *testing.T) {
	f := newFixture(t)
	f.frame(t, 0, t3)
	path := f.segmentFile(t, 0)

	res, err := f.engine.Cleanup(context.Background(), Request{Cutoff: t1})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.FileExists(t, path)
}

func TestCleanup_ZeroCutoff(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Cleanup(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCleanup_DeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id := int64(0); id < 12; id++ {
		f.frame(t, id, t3)
	}
	for _, start := range []int64{0, 5, 10} {
		f.segmentFile(t, start)
	}
	keep := filepath.Join(f.dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	res, err := f.engine.Cleanup(ctx, Request{DeleteAll: true})
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedFrames: 12, DeletedVideos: 3}, res)

	starts, err := segment.ScanDir(f.dir, ".mp4")
	require.NoError(t, err)
	assert.Empty(t, starts)
	assert.Empty(t, f.index.Starts())
	assert.FileExists(t, keep, "only video files are removed")

	maxID, err := f.store.GetMaxFrameID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxID)
}

func TestCleanup_DeleteAllRemovesUnindexedVideos(t *testing.T) {
	f := newFixture(t)
	stray := filepath.Join(f.dir, "0-migrated-1.mp4")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	res, err := f.engine.Cleanup(context.Background(), Request{DeleteAll: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedVideos)
	assert.NoFileExists(t, stray)
}

func TestCleanup_FileRemovalFailureKeepsRowsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id := int64(0); id < 10; id++ {
		f.frame(t, id, t1)
	}
	f.segmentFile(t, 0)
	stuck := f.segmentFile(t, 5)

	denied := errors.New("permission denied")
	f.engine.remove = func(path string) error {
		if path == stuck {
			return denied
		}
		return os.Remove(path)
	}

	res, err := f.engine.Cleanup(ctx, Request{Cutoff: t2})
	require.ErrorIs(t, err, denied)
	assert.Equal(t, Result{DeletedFrames: 10, DeletedVideos: 1}, res)
	assert.FileExists(t, stuck)
	assert.Equal(t, []int64{5}, f.index.Starts(), "failed segment stays indexed")

	ids, err := f.store.AllFrameIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCleanup_MissingFileIsNotCounted(t *testing.T) {
	f := newFixture(t)
	for id := int64(0); id < 5; id++ {
		f.frame(t, id, t1)
	}
	f.index.Append(0) // indexed but never written

	res, err := f.engine.Cleanup(context.Background(), Request{Cutoff: t2})
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedFrames: 5}, res)
	assert.Empty(t, f.index.Starts())
}

func TestCleanupIfDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.frame(t, 0, t1)

	res, err := f.engine.CleanupIfDue(ctx, Request{Cutoff: t2}, t3, t3.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	ids, err := f.store.AllFrameIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "skipped run must not delete")

	res, err = f.engine.CleanupIfDue(ctx, Request{Cutoff: t2}, t3, t3.Add(13*time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(1), res.DeletedFrames)
}
