//go:build cgo && !sqlite_fts5 && !libsqlite3

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_CGODriverWithoutFTS5(t *testing.T) {
	_, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "memento.db"), Driver: DriverCGO})
	require.ErrorIs(t, err, ErrFTS5Unavailable)
	require.ErrorContains(t, err, "sqlite_fts5")
}
