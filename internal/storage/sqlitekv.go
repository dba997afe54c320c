package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// SQLiteKVAdapter stores every blob as a row in a single SQLite table,
// useful when the caller wants the entire engine state in one file instead
// of a directory of blobs.
type SQLiteKVAdapter struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteKVAdapter opens (creating if necessary) a SQLite database at
// path and ensures the blobs table exists.
func NewSQLiteKVAdapter(path string) (*SQLiteKVAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nerrors.Permanent("storage", nerrors.CodeBlobPermission,
			"cannot open sqlite database: "+err.Error(), err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, nerrors.Permanent("storage", nerrors.CodeBlobPermission,
			"cannot create blobs table: "+err.Error(), err)
	}

	return &SQLiteKVAdapter{db: db}, nil
}

func (a *SQLiteKVAdapter) GetBlob(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var value []byte
	err := a.db.QueryRowContext(ctx, `SELECT value FROM blobs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nerrors.NotFound("storage", "blob not found: "+key)
	}
	if err != nil {
		return nil, nerrors.Transient("storage", "query failed for "+key, err)
	}
	return value, nil
}

func (a *SQLiteKVAdapter) PutBlob(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO blobs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return nerrors.Transient("storage", "put failed for "+key, err)
	}
	return nil
}

func (a *SQLiteKVAdapter) DeleteBlob(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return nerrors.Transient("storage", "delete failed for "+key, err)
	}
	return nil
}

func (a *SQLiteKVAdapter) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, `SELECT key FROM blobs WHERE key >= ? AND key < ?`,
		prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, nerrors.Transient("storage", "list failed", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, nerrors.Transient("storage", "scan failed", err)
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, letting a range query approximate a prefix scan.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + "\xff"
}

func (a *SQLiteKVAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}
