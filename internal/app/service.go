// Package app contains the application orchestration layer for docvault. It
// wires input validation, sealing, and persistence without performing any
// I/O itself.
package app

import (
	"context"
	"errors"

	"github.com/haukened/docvault/internal/domain"
)

// ErrNotConfigured indicates the Service is missing its store or cipher.
var ErrNotConfigured = errors.New("service not properly initialized")

// Service stores and fetches sealed documents using the injected store and cipher.
type Service struct {
	Store   RecordStore
	Cipher  Sealer
	Metrics Recorder // optional
}

// New returns a Service. rec may be nil.
func New(store RecordStore, c Sealer, rec Recorder) *Service {
	return &Service{Store: store, Cipher: c, Metrics: rec}
}

// StoreDocument validates key and doc, seals doc, and upserts it under key.
// Validation failures are returned before the cipher or store is touched.
// Cipher and store errors are returned unchanged.
func (s *Service) StoreDocument(ctx context.Context, key, doc string) error {
	rec := s.recorder()
	if err := domain.ValidateStore(key, doc); err != nil {
		rec.Inc(CounterRequestsRejected, 1)
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	sealed, err := s.Cipher.Seal([]byte(doc))
	if err != nil {
		rec.Inc(CounterInternalErrors, 1)
		return err
	}
	if err := s.Store.Put(ctx, key, sealed); err != nil {
		rec.Inc(CounterInternalErrors, 1)
		return err
	}
	rec.Inc(CounterDocumentsStored, 1)
	rec.Observe(SummaryDocumentBytes, int64(len(doc)))
	return nil
}

// FetchDocument returns the opened document for key. A missing record yields
// found=false with a nil error.
func (s *Service) FetchDocument(ctx context.Context, key string) (doc string, found bool, err error) {
	rec := s.recorder()
	if err := domain.ValidateKey(key); err != nil {
		rec.Inc(CounterRequestsRejected, 1)
		return "", false, err
	}
	if err := s.ready(); err != nil {
		return "", false, err
	}
	sealed, found, err := s.Store.Get(ctx, key)
	if err != nil {
		rec.Inc(CounterInternalErrors, 1)
		return "", false, err
	}
	if !found {
		rec.Inc(CounterDocumentsNotFound, 1)
		return "", false, nil
	}
	doc, err = s.Cipher.Open(sealed)
	if err != nil {
		rec.Inc(CounterInternalErrors, 1)
		return "", false, err
	}
	rec.Inc(CounterDocumentsFetched, 1)
	return doc, true, nil
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil || s.Cipher == nil {
		return ErrNotConfigured
	}
	return nil
}

func (s *Service) recorder() Recorder {
	if s == nil || s.Metrics == nil {
		return nopRecorder{}
	}
	return s.Metrics
}
