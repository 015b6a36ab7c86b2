package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/memento/internal/embedding"
)

// --- Settings ---

func TestSettings_Upsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetSetting(ctx, "retention.last_run")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetSetting(ctx, "retention.last_run", "a"))
	require.NoError(t, store.SetSetting(ctx, "retention.last_run", "b"))

	v, err := store.GetSetting(ctx, "retention.last_run")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

// --- Maintenance log ---

func TestLogMaintenance_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogMaintenance(ctx, "cleanup", map[string]int{"deleted_frames": 3}))
	require.NoError(t, store.LogMaintenance(ctx, "relocate", "moved to /mnt/ext"))
	require.NoError(t, store.LogMaintenance(ctx, "noop", nil))

	entries, err := store.RecentMaintenance(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "noop", entries[0].Action)
	assert.Equal(t, "", entries[0].Detail)
	assert.Equal(t, "moved to /mnt/ext", entries[1].Detail)

	var detail map[string]int
	require.NoError(t, json.Unmarshal([]byte(entries[2].Detail), &detail))
	assert.Equal(t, 3, detail["deleted_frames"])
	assert.False(t, entries[2].Time.IsZero())
}

// --- GetStats ---

func TestGetStats_Empty(t *testing.T) {
	store := openTestStore(t)

	st, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalFrames)
	assert.True(t, st.OldestFrame.IsZero())
	assert.NotNil(t, st.TopWindows)
	assert.Greater(t, st.DatabaseSizeBytes, int64(0))
}

func TestGetStats_Counts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	addFrame(t, store, 1, "Slack", baseTime, "hi", "there")
	addFrame(t, store, 2, "Slack", baseTime.Add(time.Minute), "lunch?")
	addFrame(t, store, 3, "Xcode", baseTime.Add(2*time.Minute))

	fb, _ := embedding.Blob([]float32{1, 0}, false)
	qb, _ := embedding.Blob([]float32{0, 1}, true)
	require.NoError(t, store.InsertEmbedding(ctx, Embedding{FrameID: 1, Vector: fb}))
	require.NoError(t, store.InsertEmbedding(ctx, Embedding{FrameID: 2, Vector: qb, Quantized: true}))

	st, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalFrames)
	assert.Equal(t, int64(3), st.TotalBlocks)
	assert.Equal(t, int64(2), st.TotalEmbeddings)
	assert.Equal(t, int64(1), st.QuantizedEmbeddings)
	assert.Equal(t, int64(3), st.MaxFrameID)
	assert.True(t, baseTime.Equal(st.OldestFrame))
	assert.True(t, baseTime.Add(2*time.Minute).Equal(st.NewestFrame))
	require.Len(t, st.TopWindows, 2)
	assert.Equal(t, WindowCount{WindowTitle: "Slack", Count: 2}, st.TopWindows[0])
}
