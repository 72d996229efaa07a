// Package sqlite provides a SQLite-backed record store: one row per key in
// the documents table, written with a single-statement upsert.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/haukened/docvault/internal/app"
	"github.com/haukened/docvault/internal/store"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var (
	_ app.RecordStore = (*Store)(nil)
	_ store.Backend   = (*Store)(nil)
)

// Store implements app.RecordStore using SQLite (via database/sql). It is safe
// for concurrent use; database/sql manages connection pooling and SQLite
// serializes writers. The zero value is unopened.
type Store struct {
	db    *sql.DB
	clock app.Clock
}

// Open connects to the database named by dsn, creating the file if absent.
// A nil clock defaults to app.SystemClock.
func Open(ctx context.Context, dsn string, clock app.Clock) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, store.Wrap("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Wrap("open", err)
	}
	return New(db, clock), nil
}

// New wraps an already-open database handle.
func New(db *sql.DB, clock app.Clock) *Store {
	if clock == nil {
		clock = app.SystemClock{}
	}
	return &Store{db: db, clock: clock}
}

// DB exposes the underlying handle so other components (metrics) can share it.
func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema creates the documents table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.open(); err != nil {
		return store.Wrap("ensure schema", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS documents (
"key" TEXT PRIMARY KEY NOT NULL,
value BLOB NOT NULL,
created_at INTEGER NOT NULL,
updated_at INTEGER NOT NULL
);`
	_, err := s.db.ExecContext(ctx, schema)
	return store.Wrap("ensure schema", err)
}

// Put inserts or updates key. created_at is only written on insert.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.open(); err != nil {
		return store.Wrap("put", err)
	}
	const q = `INSERT INTO documents ("key", value, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT("key") DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	now := s.clock.Now().Unix()
	_, err := s.db.ExecContext(ctx, q, key, value, now, now)
	return store.Wrap("put", err)
}

// Get returns the value stored for key, or found=false if there is none.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.open(); err != nil {
		return nil, false, store.Wrap("get", err)
	}
	const q = `SELECT value FROM documents WHERE "key" = ?`
	var value []byte
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, store.Wrap("get", err)
	}
	return value, true, nil
}

// Record returns the full row for key including timestamps.
func (s *Store) Record(ctx context.Context, key string) (store.Record, bool, error) {
	if err := s.open(); err != nil {
		return store.Record{}, false, store.Wrap("record", err)
	}
	const q = `SELECT value, created_at, updated_at FROM documents WHERE "key" = ?`
	var (
		rec                  = store.Record{Key: key}
		createdAt, updatedAt int64
	)
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&rec.Value, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, false, nil
		}
		return store.Record{}, false, store.Wrap("record", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return rec, true, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.open(); err != nil {
		return store.Wrap("ping", err)
	}
	return store.Wrap("ping", s.db.PingContext(ctx))
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) open() error {
	if s == nil || s.db == nil {
		return store.ErrNotOpen
	}
	return nil
}
