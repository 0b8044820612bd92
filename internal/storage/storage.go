// Package storage defines the key/value persistence contract backing the
// credential store, plus file and SQLite implementations of it.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/voyago/authkit/internal/config"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is the persistence contract a credential store provider must
// satisfy. Values are opaque byte payloads; callers own serialization.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every listed key in one operation. Providers
	// without a bulk primitive may fail partway; callers that must not
	// leave stale keys behind fall back to per-key Delete calls.
	DeleteAll(ctx context.Context, keys ...string) error
}

// New builds a KV for the configured driver.
func New(cfg *config.StorageConfig) (KV, error) {
	switch cfg.Driver {
	case config.StorageDriverSQLite:
		return NewSQLiteKV(cfg.Path)
	case config.StorageDriverFile, "":
		return NewFileKV(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
