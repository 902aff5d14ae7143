// ABOUTME: SQLite implementation of the Records interface
// ABOUTME: Single records table keyed by collection name, pure-Go driver

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT PRIMARY KEY,
	data       TEXT NOT NULL
);
`

// SQLiteStore keeps every collection as one JSON document in a records
// table. It is wire-compatible with JSONStore: the stored value is the same
// encoded array, so switching backends needs no migration of semantics.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent readers; the in-memory variant ignores it.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Read decodes the stored collection into out. A missing row reads as an
// empty array.
func (s *SQLiteStore) Read(ctx context.Context, collection string, out any) error {
	if !validCollection(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM records WHERE collection = ?", collection,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		data = "[]"
	} else if err != nil {
		return fmt.Errorf("reading collection %q: %w", collection, err)
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("decoding collection %q: %w", collection, err)
	}
	return nil
}

// Write replaces the stored collection in a single upsert statement, which
// SQLite applies atomically.
func (s *SQLiteStore) Write(ctx context.Context, collection string, records any) error {
	if !validCollection(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding collection %q: %w", collection, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (collection, data) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET data = excluded.data
	`, collection, string(data))
	if err != nil {
		return fmt.Errorf("writing collection %q: %w", collection, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
