// Package app defines the application layer "ports" (interfaces) that the
// core use-cases of docvault depend upon. It follows a hexagonal (ports &
// adapters) design: this package declares what the core needs, while adapter
// packages (SQLite or DynamoDB record stores, the cipher, the HTTP layer,
// metrics) provide concrete implementations. No I/O, SQL, or network concerns
// belong here.
package app

import (
	"context"
	"time"
)

// Clock abstracts time so record timestamps can be tested deterministically.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// SystemClock implements Clock using time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RecordStore is the persistence port. Implementations map a key to one
// opaque blob and must make Put a single atomic insert-or-update.
type RecordStore interface {
	// Put inserts value for key, or overwrites the value and update time of
	// an existing record while preserving its creation time.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the stored value. A missing key yields found=false and a
	// nil error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
}

// Sealer is the encryption port satisfied by *cipher.Cipher.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(blob []byte) (string, error)
}

// Metric names recorded by Service.
const (
	CounterDocumentsStored   = "documents_stored_total"
	CounterDocumentsFetched  = "documents_fetched_total"
	CounterDocumentsNotFound = "documents_not_found_total"
	CounterRequestsRejected  = "requests_rejected_total"
	CounterInternalErrors    = "internal_errors_total"
	SummaryDocumentBytes     = "document_bytes"
)

// Recorder receives operational counters and observations. Implementations
// must not block.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, int64)     {}
func (nopRecorder) Observe(string, int64) {}
