package storage

import "database/sql"

// migrateV001 creates the frame store schema: frames, content blocks and
// their FTS5 index, embeddings, settings and the maintenance log. Every
// statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS frames (
			id           INTEGER PRIMARY KEY,
			window_title TEXT NOT NULL DEFAULT '',
			time         TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS content_blocks (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			frame_id INTEGER NOT NULL,
			text     TEXT NOT NULL,
			x        REAL NOT NULL DEFAULT 0,
			y        REAL NOT NULL DEFAULT 0,
			w        REAL NOT NULL DEFAULT 0,
			h        REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS embeddings (
			frame_id     INTEGER PRIMARY KEY,
			vector       BLOB NOT NULL,
			quantized    BOOLEAN NOT NULL DEFAULT 0,
			text_summary TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS maintenance_log (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			ts     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// ── Full-text index ────────────────────────────────────

		`CREATE VIRTUAL TABLE IF NOT EXISTS content_blocks_fts USING fts5(
			text,
			content='content_blocks',
			content_rowid='id',
			tokenize='unicode61',
			prefix='2 3'
		)`,

		`CREATE TRIGGER IF NOT EXISTS content_blocks_ai AFTER INSERT ON content_blocks BEGIN
			INSERT INTO content_blocks_fts(rowid, text) VALUES (new.id, new.text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS content_blocks_ad AFTER DELETE ON content_blocks BEGIN
			INSERT INTO content_blocks_fts(content_blocks_fts, rowid, text) VALUES ('delete', old.id, old.text);
		END`,

		`CREATE TRIGGER IF NOT EXISTS content_blocks_au AFTER UPDATE ON content_blocks BEGIN
			INSERT INTO content_blocks_fts(content_blocks_fts, rowid, text) VALUES ('delete', old.id, old.text);
			INSERT INTO content_blocks_fts(rowid, text) VALUES (new.id, new.text);
		END`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_frames_time               ON frames(time)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_window_title       ON frames(window_title)`,
		`CREATE INDEX IF NOT EXISTS idx_content_blocks_frame      ON content_blocks(frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_quantized      ON embeddings(quantized)`,
		`CREATE INDEX IF NOT EXISTS idx_maintenance_log_ts        ON maintenance_log(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_maintenance_log_action    ON maintenance_log(action)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
