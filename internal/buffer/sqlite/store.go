package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"factory-edge/internal/buffer"
)

// timeLayout is fixed-width so lexicographic TEXT comparison in SQLite
// matches chronological order. RFC3339Nano trims trailing fractional
// zeros and would sort ".15Z" after ".1Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS buffer (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	sent       INTEGER NOT NULL DEFAULT 0,
	sent_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_buffer_unsent ON buffer(sent, created_at);
`

// Store is the SQLite implementation of the durable point buffer. The
// database file survives process restarts, which is the whole point:
// anything inserted and not yet marked sent is recoverable after a
// crash.
type Store struct {
	db *sql.DB
}

// Open creates or opens the buffer database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("buffer store: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("buffer store: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("buffer store: open: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between the
	// pipeline and the backfill loop.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a record keyed by point id. Re-inserting an existing
// id is a silent no-op: the original record is kept untouched.
func (s *Store) Insert(ctx context.Context, record buffer.Record) error {
	if record.ID == "" {
		return errors.New("buffer store: empty record id")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO buffer (id, payload, created_at, sent)
VALUES (?, ?, ?, 0)
ON CONFLICT (id) DO NOTHING`,
		record.ID, string(record.Payload), createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("buffer store: insert %s: %w", record.ID, err)
	}
	return nil
}

// MarkSent sets the sent flag for a record. Absent or already-sent ids
// are a no-op; the flag never transitions back.
func (s *Store) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE buffer
SET sent = 1, sent_at = ?
WHERE id = ? AND sent = 0`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("buffer store: mark sent %s: %w", id, err)
	}
	return nil
}

// ListUnsent returns up to limit unsent records, oldest first. The
// rowid tiebreak keeps insertion order stable for records created
// within the same timestamp resolution.
func (s *Store) ListUnsent(ctx context.Context, limit int) ([]buffer.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, payload, created_at
FROM buffer
WHERE sent = 0
ORDER BY created_at ASC, rowid ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("buffer store: list unsent: %w", err)
	}
	defer rows.Close()

	var result []buffer.Record
	for rows.Next() {
		var record buffer.Record
		var payload, createdAt string
		if err := rows.Scan(&record.ID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("buffer store: scan: %w", err)
		}
		record.Payload = []byte(payload)
		record.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("buffer store: parse created_at for %s: %w", record.ID, err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buffer store: list unsent: %w", err)
	}
	return result, nil
}

// CountUnsent returns the number of records not yet delivered.
func (s *Store) CountUnsent(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM buffer WHERE sent = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("buffer store: count unsent: %w", err)
	}
	return count, nil
}

// CompactSent deletes records that were delivered more than olderThan
// ago and returns how many were removed. Unsent records are never
// touched, whatever their age.
func (s *Store) CompactSent(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := s.db.ExecContext(ctx, `
DELETE FROM buffer
WHERE sent = 1 AND sent_at IS NOT NULL AND sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("buffer store: compact: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("buffer store: compact rows affected: %w", err)
	}
	return removed, nil
}
