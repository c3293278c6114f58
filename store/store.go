// Package store adapts caches to a byte-oriented, context-aware contract so
// that an exact in-process cache, an approximate high-throughput cache and a
// remote Redis layer can be used interchangeably or stacked.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL is returned by Set for a negative ttl.
var ErrInvalidTTL = errors.New("store: ttl must not be negative")

// Store is a byte-valued cache.
type Store interface {
	// Get retrieves a value by key. The boolean indicates a hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key with the given TTL. A zero TTL means the
	// entry has no automatic expiration.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
