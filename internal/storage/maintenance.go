package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetSetting returns a stored setting value.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

// SetSetting upserts a setting value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// LogMaintenance appends a row to the maintenance log. detail is stored as
// JSON unless it is already a string.
func (s *SQLiteStore) LogMaintenance(ctx context.Context, action string, detail any) error {
	var text string
	switch d := detail.(type) {
	case nil:
	case string:
		text = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode maintenance detail: %w", err)
		}
		text = string(b)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO maintenance_log (action, detail) VALUES (?, ?)", action, text,
	); err != nil {
		return fmt.Errorf("log maintenance: %w", err)
	}
	return nil
}

// RecentMaintenance returns the newest maintenance log rows first.
func (s *SQLiteStore) RecentMaintenance(ctx context.Context, limit int) ([]MaintenanceEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, detail, ts FROM maintenance_log ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query maintenance log: %w", err)
	}
	defer rows.Close()

	entries := []MaintenanceEntry{}
	for rows.Next() {
		var e MaintenanceEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Action, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan maintenance entry: %w", err)
		}
		e.Time, _ = parseTimestamp(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetStats returns aggregate statistics about the store.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats

	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM frames", &st.TotalFrames},
		{"SELECT COUNT(*) FROM content_blocks", &st.TotalBlocks},
		{"SELECT COUNT(*) FROM embeddings", &st.TotalEmbeddings},
		{"SELECT COUNT(*) FROM embeddings WHERE quantized = 1", &st.QuantizedEmbeddings},
		{"SELECT COALESCE(MAX(id), 0) FROM frames", &st.MaxFrameID},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}

	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx,
		"SELECT MIN(time), MAX(time) FROM frames",
	).Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("stats time range: %w", err)
	}
	if oldest.Valid {
		st.OldestFrame, _ = parseTimestamp(oldest.String)
	}
	if newest.Valid {
		st.NewestFrame, _ = parseTimestamp(newest.String)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			st.DatabaseSizeBytes = pageCount * pageSize
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT window_title, COUNT(*) AS cnt
		FROM frames
		WHERE window_title != ''
		GROUP BY window_title
		ORDER BY cnt DESC, window_title
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("stats top windows: %w", err)
	}
	defer rows.Close()

	st.TopWindows = []WindowCount{}
	for rows.Next() {
		var wc WindowCount
		if err := rows.Scan(&wc.WindowTitle, &wc.Count); err != nil {
			return nil, fmt.Errorf("scan window count: %w", err)
		}
		st.TopWindows = append(st.TopWindows, wc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &st, nil
}
