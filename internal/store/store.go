// Package store persists editor state as key-value pairs.
package store

import (
	"context"
	"errors"
	"fmt"

	"cutout/internal/config"
)

// ErrNotFound is returned by Get for keys that were never set.
var ErrNotFound = errors.New("key not found")

// Store is a byte-valued key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// New opens the backend selected by cfg.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
