package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open(DriverPureGo, buildDSN(Options{Path: path, Driver: DriverPureGo, BusyTimeout: DefaultBusyTimeout}))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_FreshDB(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	err := runner.Run(context.Background())
	require.NoError(t, err)

	expectedTables := []string{
		"frames",
		"content_blocks",
		"embeddings",
		"settings",
		"maintenance_log",
		"schema_migrations",
		"content_blocks_fts",
	}
	for _, table := range expectedTables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrationRunner_IndexesAndTriggersCreated(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	expected := map[string]string{
		"idx_frames_time":          "index",
		"idx_content_blocks_frame": "index",
		"idx_maintenance_log_ts":   "index",
		"content_blocks_ai":        "trigger",
		"content_blocks_ad":        "trigger",
		"content_blocks_au":        "trigger",
	}
	for name, kind := range expected {
		var got string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type=? AND name=?", kind, name,
		).Scan(&got)
		require.NoError(t, err, "%s %s should exist", kind, name)
	}
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runner := NewMigrationRunner(db)

	require.NoError(t, runner.Run(ctx))
	require.NoError(t, runner.Run(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	v, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrationRunner_DimensionsColumnAdded(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	_, err := db.Exec(
		"INSERT INTO embeddings (frame_id, vector, quantized, dimensions) VALUES (1, x'00', 1, 1)",
	)
	require.NoError(t, err)
}

func TestMigrationRunner_WALEnabled(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
