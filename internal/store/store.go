// Package store holds the types shared by the record store adapters
// (store/sqlite, store/dynamo). Adapters satisfy app.RecordStore; callers
// outside the adapters only depend on that port plus the error types here.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/docvault/internal/app"
)

// ErrStorage is matched (via errors.Is) by every *StorageError.
var ErrStorage = errors.New("storage error")

// ErrNotOpen is the cause carried by operations on an unopened store.
var ErrNotOpen = errors.New("store not open")

// StorageError reports a failed backend operation. Err is the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

// Unwrap exposes the backend cause.
func (e *StorageError) Unwrap() error { return e.Err }

// Is reports true for ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Wrap returns nil for a nil err, otherwise a *StorageError for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Record is one persisted row: the sealed value plus its timestamps.
type Record struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Backend is the full adapter surface used by cmd/docvault: the app port
// plus schema management, inspection, and lifecycle.
type Backend interface {
	app.RecordStore
	EnsureSchema(ctx context.Context) error
	Record(ctx context.Context, key string) (Record, bool, error)
	Ping(ctx context.Context) error
	Close() error
}
