package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/haukened/docvault/internal/cipher"
	"github.com/haukened/docvault/internal/config"
	"github.com/haukened/docvault/internal/store"
	"github.com/haukened/docvault/internal/store/dynamo"
	"github.com/haukened/docvault/internal/store/sqlite"
)

// runtime holds the opened resources shared by serve and the operator commands.
type runtime struct {
	// local is the data-dir SQLite database. It always holds the metrics
	// tables and, for the sqlite backend, the documents table as well.
	local   *sqlite.Store
	backend store.Backend
}

// ensureDataDir creates dir (0700) if missing and checks that it is a directory.
func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %q is not a directory", dir)
	}
	return nil
}

// openRuntime prepares the data directory, opens the local database and the
// configured backend, and makes sure the backend schema exists.
func openRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtime, error) {
	if err := ensureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}
	local, err := sqlite.Open(ctx, cfg.SQLiteDSN(), nil)
	if err != nil {
		return nil, err
	}
	rt := &runtime{local: local}
	rt.backend, err = openBackend(ctx, cfg, local)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	if err := rt.backend.EnsureSchema(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	log.Debug("backend ready", "backend", cfg.Backend, "data_dir", cfg.DataDir)
	return rt, nil
}

func openBackend(ctx context.Context, cfg *config.Config, local *sqlite.Store) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return local, nil
	case config.BackendDynamoDB:
		return dynamo.Open(ctx, dynamo.Options{
			Table:    cfg.DynamoTable,
			Region:   cfg.DynamoRegion,
			Endpoint: cfg.DynamoEndpoint,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Close releases the backend and the local database.
func (rt *runtime) Close() error {
	var errs []error
	if rt.backend != nil && rt.backend != store.Backend(rt.local) {
		errs = append(errs, rt.backend.Close())
	}
	if rt.local != nil {
		errs = append(errs, rt.local.Close())
	}
	return errors.Join(errs...)
}

// buildCipher installs the process key. Without a configured secret a random
// key is generated and a warning is logged, since documents sealed with it
// cannot be opened after a restart.
func buildCipher(cfg *config.Config, log *slog.Logger) (*cipher.Cipher, error) {
	c := cipher.New()
	if cfg.EncryptionKey == "" {
		log.Warn("no encryption key configured; using an ephemeral random key, documents stored now will be unreadable after restart")
		return c, c.InitializeFromSeed(nil)
	}
	if cfg.KeyDerivation == config.KeyDerivationHKDF {
		k, err := cipher.DeriveKeyHKDF([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, err
		}
		return c, c.Initialize(k)
	}
	if len(cfg.EncryptionKey) < cipher.KeySize {
		log.Warn("encryption key shorter than 32 bytes is zero-padded; consider key_derivation=hkdf or docvault keygen",
			"length", len(cfg.EncryptionKey))
	}
	return c, c.InitializeFromSeed([]byte(cfg.EncryptionKey))
}
