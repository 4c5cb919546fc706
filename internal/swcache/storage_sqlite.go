// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" database/sql driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/taibuivan/yomira-reader/internal/platform/migration"
	"github.com/taibuivan/yomira-reader/internal/swcache/migrations"
)

// sqlitePragmas tune the cache file for one writer and many readers.
const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// sqliteStorage implements [Storage] on a local SQLite file.
type sqliteStorage struct {
	db *sql.DB
}

/*
OpenSQLiteStorage opens (creating if needed) and migrates the cache database.

Parameters:
  - path: string (SQLite file path)
  - logger: *slog.Logger (migration events)

Returns:
  - Storage: The ready storage
  - error: Wrapping [ErrUnsupported] when the file cannot be used
*/
func OpenSQLiteStorage(path string, logger *slog.Logger) (Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: cache database path is required", ErrUnsupported)
	}
	cleanPath := filepath.Clean(path)

	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create cache directory: %v", ErrUnsupported, err)
		}
	}

	if err := migration.RunUp(migrations.FS, ".", cleanPath, logger); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	db, err := sql.Open("sqlite", cleanPath+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnsupported, err)
	}

	// One connection: all statements and transactions are serialised.
	db.SetMaxOpenConns(1)

	storage := &sqliteStorage{db: db}
	if err := storage.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage, nil
}

func (storage *sqliteStorage) Open(ctx context.Context, name string) error {
	return storage.ensure(ctx, storage.db, name)
}

func (storage *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var exists int
	err := storage.db.QueryRowContext(ctx, `SELECT 1 FROM caches WHERE name = ?`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("swcache: has cache: %w", err)
	}
	return true, nil
}

func (storage *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("swcache: begin delete cache: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("swcache: delete cache entries: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("swcache: delete cache: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("swcache: commit delete cache: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (storage *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	return storage.column(ctx, `SELECT name FROM caches ORDER BY seq`)
}

func (storage *sqliteStorage) Keys(ctx context.Context, name string) ([]string, error) {
	return storage.column(ctx, `SELECT url FROM entries WHERE cache_name = ? ORDER BY seq`, name)
}

func (storage *sqliteStorage) Match(ctx context.Context, name, url string) (*Entry, bool, error) {
	row := storage.db.QueryRowContext(ctx,
		`SELECT url, status, header, body, stored_at FROM entries WHERE cache_name = ? AND url = ?`,
		name, url,
	)

	var entry Entry
	var header string
	var storedAt int64
	err := row.Scan(&entry.URL, &entry.Status, &header, &entry.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("swcache: match: %w", err)
	}

	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, false, fmt.Errorf("swcache: decode stored header: %w", err)
	}
	entry.StoredAt = time.UnixMilli(storedAt)
	return &entry, true, nil
}

func (storage *sqliteStorage) Put(ctx context.Context, name string, entry *Entry) error {
	header, err := json.Marshal(headerOrEmpty(entry.Header))
	if err != nil {
		return fmt.Errorf("swcache: encode header: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("swcache: begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := storage.ensure(ctx, tx, name); err != nil {
		return err
	}

	// Re-inserting assigns a fresh seq, moving the URL to the end of the key order.
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ? AND url = ?`, name, entry.URL); err != nil {
		return fmt.Errorf("swcache: replace entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (cache_name, url, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		name, entry.URL, entry.Status, string(header), body, storedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("swcache: insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("swcache: commit put: %w", err)
	}
	return nil
}

func (storage *sqliteStorage) Remove(ctx context.Context, name, url string) (bool, error) {
	result, err := storage.db.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ? AND url = ?`, name, url)
	if err != nil {
		return false, fmt.Errorf("swcache: remove entry: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (storage *sqliteStorage) Ping(ctx context.Context) error {
	if err := storage.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return nil
}

func (storage *sqliteStorage) Close() error {
	return storage.db.Close()
}

// # Internal Helpers

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (storage *sqliteStorage) ensure(ctx context.Context, db execer, name string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("swcache: open cache: %w", err)
	}
	return nil
}

func (storage *sqliteStorage) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := storage.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("swcache: query: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("swcache: scan: %w", err)
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// headerOrEmpty keeps stored headers non-nil.
func headerOrEmpty(header http.Header) http.Header {
	if header == nil {
		return http.Header{}
	}
	return header
}
