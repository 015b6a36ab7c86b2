package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC layout frames are stored with, so that
// string comparison in SQL matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// deleteBatchSize bounds the number of ids bound into one IN (...) list.
const deleteBatchSize = 500

// Store defines the frame store operations.
type Store interface {
	InsertFrame(ctx context.Context, f Frame) error
	InsertContentBlocks(ctx context.Context, frameID int64, blocks []ContentBlock) error
	InsertCapture(ctx context.Context, f Frame, blocks []ContentBlock) error
	InsertEmbedding(ctx context.Context, e Embedding) error
	GetMaxFrameID(ctx context.Context) (int64, error)
	GetFrame(ctx context.Context, id int64) (*Frame, error)
	GetContentBlocks(ctx context.Context, frameID int64) ([]ContentBlock, error)
	GetEmbedding(ctx context.Context, frameID int64) (*Embedding, error)
	SearchText(ctx context.Context, q TextQuery) ([]TextHit, error)
	SearchEmbeddings(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]EmbeddingHit, error)
	FrameIDsBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
	AllFrameIDs(ctx context.Context) ([]int64, error)
	FramesWithoutEmbedding(ctx context.Context, limit int) ([]int64, error)
	CountFramesInRange(ctx context.Context, lo, hi int64) (int, error)
	DeleteFrames(ctx context.Context, ids []int64) (int64, error)
	DeleteAllFrames(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*Stats, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	LogMaintenance(ctx context.Context, action string, detail any) error
	RecentMaintenance(ctx context.Context, limit int) ([]MaintenanceEntry, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	ownsDB   bool
	readOnly bool
	logger   *slog.Logger

	// writeMu serializes writers inside this process so a retention delete
	// and a capture insert never contend for the SQLite write lock.
	writeMu sync.Mutex

	// Prepared statements
	insertFrame     *sql.Stmt
	insertEmbedding *sql.Stmt
	getFrame        *sql.Stmt
	getEmbedding    *sql.Stmt
	maxFrameID      *sql.Stmt

	// beforeBlockInsert runs before each content block insert when set.
	beforeBlockInsert func(i int) error
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated
// database. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: slog.Default()}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// ReadOnly reports whether the store was opened as a viewer.
func (s *SQLiteStore) ReadOnly() bool { return s.readOnly }

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertFrame, err = s.db.Prepare(`
		INSERT INTO frames (id, window_title, time) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET window_title = excluded.window_title, time = excluded.time
	`)
	if err != nil {
		return err
	}

	s.insertEmbedding, err = s.db.Prepare(`
		INSERT INTO embeddings (frame_id, vector, quantized, dimensions, text_summary)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(frame_id) DO UPDATE SET
			vector = excluded.vector,
			quantized = excluded.quantized,
			dimensions = excluded.dimensions,
			text_summary = excluded.text_summary
	`)
	if err != nil {
		return err
	}

	s.getFrame, err = s.db.Prepare(`SELECT id, window_title, time FROM frames WHERE id = ?`)
	if err != nil {
		return err
	}

	s.getEmbedding, err = s.db.Prepare(`
		SELECT frame_id, vector, quantized, dimensions, text_summary
		FROM embeddings WHERE frame_id = ?
	`)
	if err != nil {
		return err
	}

	s.maxFrameID, err = s.db.Prepare(`SELECT COALESCE(MAX(id), 0) FROM frames`)
	if err != nil {
		return err
	}

	return nil
}

// FormatTime renders t in the stored layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// parseTimestamp tries the stored layout first, then other common SQLite
// timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		TimeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// InsertFrame writes a frame, replacing the row if the id already exists so a
// capture restarted at the same id is idempotent.
func (s *SQLiteStore) InsertFrame(ctx context.Context, f Frame) error {
	if f.ID < 0 {
		return fmt.Errorf("insert frame: negative id %d", f.ID)
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.insertFrame.ExecContext(ctx, f.ID, f.WindowTitle, FormatTime(f.Time)); err != nil {
		return fmt.Errorf("insert frame %d: %w", f.ID, err)
	}
	return nil
}

// InsertContentBlocks writes all blocks of a frame in one transaction. Either
// every block is stored and indexed or none is. Empty input is a no-op.
func (s *SQLiteStore) InsertContentBlocks(ctx context.Context, frameID int64, blocks []ContentBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.insertBlocksTx(ctx, tx, frameID, blocks); err != nil {
		return err
	}

	return tx.Commit()
}

// InsertCapture writes a frame and its blocks in one transaction.
func (s *SQLiteStore) InsertCapture(ctx context.Context, f Frame, blocks []ContentBlock) error {
	if f.ID < 0 {
		return fmt.Errorf("insert capture: negative id %d", f.ID)
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.StmtContext(ctx, s.insertFrame).ExecContext(ctx,
		f.ID, f.WindowTitle, FormatTime(f.Time),
	); err != nil {
		return fmt.Errorf("insert frame %d: %w", f.ID, err)
	}

	if err := s.insertBlocksTx(ctx, tx, f.ID, blocks); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) insertBlocksTx(ctx context.Context, tx *sql.Tx, frameID int64, blocks []ContentBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO content_blocks (frame_id, text, x, y, w, h) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare block insert: %w", err)
	}
	defer stmt.Close()

	for i, b := range blocks {
		if s.beforeBlockInsert != nil {
			if err := s.beforeBlockInsert(i); err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, frameID, b.Text, b.X, b.Y, b.W, b.H); err != nil {
			return fmt.Errorf("insert content block %d of frame %d: %w", i, frameID, err)
		}
	}
	return nil
}

// InsertEmbedding writes or replaces the single embedding of a frame.
func (s *SQLiteStore) InsertEmbedding(ctx context.Context, e Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("insert embedding for frame %d: empty vector", e.FrameID)
	}
	if !e.Quantized && len(e.Vector)%4 != 0 {
		return fmt.Errorf("insert embedding for frame %d: float blob length %d is not a multiple of 4", e.FrameID, len(e.Vector))
	}
	if e.Dimensions == 0 {
		if e.Quantized {
			e.Dimensions = len(e.Vector)
		} else {
			e.Dimensions = len(e.Vector) / 4
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.insertEmbedding.ExecContext(ctx,
		e.FrameID, e.Vector, e.Quantized, e.Dimensions, e.TextSummary,
	); err != nil {
		return fmt.Errorf("insert embedding for frame %d: %w", e.FrameID, err)
	}
	return nil
}

// GetMaxFrameID returns the largest stored frame id, or 0 on an empty store.
func (s *SQLiteStore) GetMaxFrameID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.maxFrameID.QueryRowContext(ctx).Scan(&id); err != nil {
		return 0, fmt.Errorf("max frame id: %w", err)
	}
	return id, nil
}

// GetFrame retrieves a single frame by id.
func (s *SQLiteStore) GetFrame(ctx context.Context, id int64) (*Frame, error) {
	var f Frame
	var ts string
	err := s.getFrame.QueryRowContext(ctx, id).Scan(&f.ID, &f.WindowTitle, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("frame %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get frame: %w", err)
	}
	f.Time, _ = parseTimestamp(ts)
	return &f, nil
}

// GetContentBlocks returns the blocks of a frame in insertion order.
func (s *SQLiteStore) GetContentBlocks(ctx context.Context, frameID int64) ([]ContentBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, frame_id, text, x, y, w, h
		FROM content_blocks WHERE frame_id = ? ORDER BY id
	`, frameID)
	if err != nil {
		return nil, fmt.Errorf("query content blocks: %w", err)
	}
	defer rows.Close()

	blocks := []ContentBlock{}
	for rows.Next() {
		var b ContentBlock
		if err := rows.Scan(&b.ID, &b.FrameID, &b.Text, &b.X, &b.Y, &b.W, &b.H); err != nil {
			return nil, fmt.Errorf("scan content block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// GetEmbedding retrieves the embedding of a frame.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, frameID int64) (*Embedding, error) {
	var e Embedding
	err := s.getEmbedding.QueryRowContext(ctx, frameID).Scan(
		&e.FrameID, &e.Vector, &e.Quantized, &e.Dimensions, &e.TextSummary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("embedding for frame %d: %w", frameID, ErrNotFound)
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return &e, nil
}

// FrameIDsBefore returns the ids of frames captured strictly before cutoff.
func (s *SQLiteStore) FrameIDsBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM frames WHERE time < ? ORDER BY id", FormatTime(cutoff))
}

// AllFrameIDs returns every stored frame id.
func (s *SQLiteStore) AllFrameIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM frames ORDER BY id")
}

// FramesWithoutEmbedding returns up to limit ids of frames that have content
// blocks but no embedding, newest first.
func (s *SQLiteStore) FramesWithoutEmbedding(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return s.queryIDs(ctx, `
		SELECT f.id FROM frames f
		WHERE NOT EXISTS (SELECT 1 FROM embeddings e WHERE e.frame_id = f.id)
		  AND EXISTS (SELECT 1 FROM content_blocks b WHERE b.frame_id = f.id)
		ORDER BY f.id DESC
		LIMIT ?`, limit)
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query frame ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan frame id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountFramesInRange counts live frames with lo <= id < hi.
func (s *SQLiteStore) CountFramesInRange(ctx context.Context, lo, hi int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM frames WHERE id >= ? AND id < ?", lo, hi,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

// DeleteFrames removes the given frames with their embeddings and content
// blocks in one transaction, children before parents. It returns the number
// of frame rows deleted.
func (s *SQLiteStore) DeleteFrames(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var deleted int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE frame_id IN ("+placeholders+")", args...,
		); err != nil {
			return 0, fmt.Errorf("delete embeddings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM content_blocks WHERE frame_id IN ("+placeholders+")", args...,
		); err != nil {
			return 0, fmt.Errorf("delete content blocks: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM frames WHERE id IN ("+placeholders+")", args...,
		)
		if err != nil {
			return 0, fmt.Errorf("delete frames: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return deleted, nil
}

// DeleteAllFrames empties the frame tables. Settings and the maintenance log
// are kept.
func (s *SQLiteStore) DeleteAllFrames(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		"DELETE FROM embeddings",
		"DELETE FROM content_blocks",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("purge: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM frames")
	if err != nil {
		return 0, fmt.Errorf("purge frames: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return n, nil
}

// Close closes the prepared statements, and the database if the store
// opened it.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertFrame, s.insertEmbedding, s.getFrame, s.getEmbedding, s.maxFrameID,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
