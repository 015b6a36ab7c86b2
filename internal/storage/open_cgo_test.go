//go:build cgo && sqlite_fts5

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CGODriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "memento.db"), Driver: DriverCGO})
	require.NoError(t, err)
	defer store.Close()

	addFrame(t, store, 1, "Notes", baseTime, "grocery list")
	hits, err := store.SearchText(ctx, TextQuery{Query: "groc"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].FrameID)
}
