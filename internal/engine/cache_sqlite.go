package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteStore is the file-backed L2 cache tier. TTL expiry is checked lazily
// on read; expired rows are deleted in place.
type sqliteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_expires ON artifacts(expires_at);
`

func openSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// execBusyRetry retries short writes that lose the WAL write lock.
func (s *sqliteStore) execBusyRetry(ctx context.Context, query string, args ...any) error {
	delay := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= 200*time.Millisecond {
			delay = next
		}
	}
	return lastErr
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM artifacts WHERE key = ?`, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errL2Miss
	}
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= expiresAt {
		_ = s.execBusyRetry(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
		return nil, errL2Miss
	}
	return data, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()
	return s.execBusyRetry(ctx,
		`INSERT INTO artifacts (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, data, expiresAt)
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	return s.execBusyRetry(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
