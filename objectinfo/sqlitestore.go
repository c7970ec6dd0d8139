package objectinfo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore persists object-info payloads in a SQLite database so a
// table fetched once survives across CLI invocations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the cache database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	var (
		raw       []byte
		fetchedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT raw, fetched_at FROM object_info WHERE key = ?`, key,
	).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("sqlitestore: get: %w", err)
	}
	return Record{
		Key:       key,
		Raw:       raw,
		FetchedAt: time.Unix(0, fetchedAt).UTC(),
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, raw []byte, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO object_info (key, raw, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET raw = excluded.raw, fetched_at = excluded.fetched_at`,
		key, raw, fetchedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
