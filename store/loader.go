package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Keksclan/rawrcache/flight"
)

// LoadFunc produces the value for a key on a miss.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Loader reads through a Store. On a miss, concurrent callers for the same
// key share one LoadFunc invocation; a successful result is written back to
// the store, a failure is returned to every waiter and never stored.
type Loader struct {
	store Store
	group *flight.Group[[]byte]
}

// NewLoader creates a Loader over s. opts configure the deduplication group;
// flight.WithRetention is rarely useful here since s already caches.
func NewLoader(s Store, opts ...flight.Option) (*Loader, error) {
	g, err := flight.New[[]byte](opts...)
	if err != nil {
		return nil, err
	}
	return &Loader{store: s, group: g}, nil
}

// Store returns the store read through.
func (l *Loader) Store() Store { return l.store }

// Group returns the deduplication group.
func (l *Loader) Group() *flight.Group[[]byte] { return l.group }

// GetOrSet returns the value stored under key. On a miss it calls load at
// most once across concurrent callers, stores the result with ttl, and
// returns it. Store read errors count as misses.
func (l *Loader) GetOrSet(ctx context.Context, key string, ttl time.Duration, load LoadFunc) ([]byte, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	if v, ok, err := l.store.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	v, err := l.group.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		// A call that settled between the lookup above and joining the
		// group has already written the store.
		if v, ok, err := l.store.Get(ctx, key); err == nil && ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = l.store.Set(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

// Close releases the group's resources. It does not close the store.
func (l *Loader) Close() error { return l.group.Close() }
