package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Keksclan/rawrcache/cache"
)

// Local is a Store over the exact LRU + TTL engine. Unlike L1 it never drops
// a write and evicts strictly least recently used first.
type Local struct {
	c *cache.Cache[string, []byte]
}

// NewLocal creates a Local store. opts configure the underlying engine, e.g.
// cache.WithCapacity and cache.WithSweepInterval.
func NewLocal(opts ...cache.Option) (*Local, error) {
	c, err := cache.New[string, []byte](opts...)
	if err != nil {
		return nil, err
	}
	return &Local{c: c}, nil
}

// Get retrieves a copy of the value stored under key.
func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set stores a copy of val under key.
func (l *Local) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	switch {
	case ttl < 0:
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	case ttl == 0:
		l.c.Set(key, bytes.Clone(val))
	default:
		if _, err := l.c.SetWithTTL(key, bytes.Clone(val), ttl); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes key.
func (l *Local) Delete(_ context.Context, key string) error {
	l.c.Delete(key)
	return nil
}

// Engine exposes the underlying cache for inspection.
func (l *Local) Engine() *cache.Cache[string, []byte] { return l.c }

// Close stops the engine's sweeper, if any.
func (l *Local) Close() error { return l.c.Close() }
