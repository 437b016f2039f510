package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/remotesync/internal/db"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS watermarks (
	key        TEXT PRIMARY KEY,
	synced_at  INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	synced_at  INTEGER NOT NULL,
	written_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_key ON sync_runs (key, id);
`

// Run is one successful watermark write.
type Run struct {
	Key       string
	RunID     string
	SyncedAt  time.Time
	WrittenAt time.Time
}

// SQLiteStore keeps watermarks in SQLite and records every write in a history table.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	conn, err := db.Open(db.WithPath(dbPath), db.WithSchema(sqliteSchema))
	if err != nil {
		return nil, fmt.Errorf("open watermark db: %w", err)
	}
	return newSQLiteStore(conn), nil
}

func newSQLiteStore(conn *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: conn, now: time.Now}
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM watermarks WHERE key = ?`, key); err != nil {
		return false, fmt.Errorf("check watermark %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Read(ctx context.Context, key string) (time.Time, error) {
	var ms int64
	err := s.db.GetContext(ctx, &ms, `SELECT synced_at FROM watermarks WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	} else if err != nil {
		return time.Time{}, fmt.Errorf("read watermark %q: %w", key, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Write upserts the watermark and appends a history row in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, key string, t time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO watermarks (key, synced_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET synced_at = excluded.synced_at, updated_at = excluded.updated_at`,
		key, t.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("write watermark %q: %w", key, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_runs (key, run_id, synced_at, written_at) VALUES (?, ?, ?, ?)`,
		key, RunIDFromContext(ctx), t.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}

	return tx.Commit()
}

// History returns the most recent writes for key, newest first.
func (s *SQLiteStore) History(ctx context.Context, key string, limit int) ([]Run, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT key, run_id, synced_at, written_at FROM sync_runs
		WHERE key = ? ORDER BY id DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var syncedMs, writtenMs int64
		if err := rows.Scan(&r.Key, &r.RunID, &syncedMs, &writtenMs); err != nil {
			return nil, err
		}
		r.SyncedAt = time.UnixMilli(syncedMs).UTC()
		r.WrittenAt = time.UnixMilli(writtenMs).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
