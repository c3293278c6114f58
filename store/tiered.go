package store

import (
	"context"
	"errors"
	"time"
)

// Tiered stacks two stores. Reads check the near store first, then the far
// one; a far hit is copied into the near store. Writes and deletes go to
// both, far first.
type Tiered struct {
	near Store
	far  Store

	// promoteTTL is used for far hits, whose remaining TTL is unknown.
	promoteTTL time.Duration
}

// NewTiered creates a two-level store. promoteTTL bounds how long a value
// copied from far to near lives; zero keeps it until evicted.
func NewTiered(near, far Store, promoteTTL time.Duration) *Tiered {
	return &Tiered{near: near, far: far, promoteTTL: promoteTTL}
}

// Get checks near, then far.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.near.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	v, ok, err := t.far.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.near.Set(ctx, key, v, t.promoteTTL)
	return v, true, nil
}

// Set writes the value to far, then near.
func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.Join(
		t.far.Set(ctx, key, val, ttl),
		t.near.Set(ctx, key, val, ttl),
	)
}

// Delete removes key from both layers.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	return errors.Join(
		t.far.Delete(ctx, key),
		t.near.Delete(ctx, key),
	)
}
