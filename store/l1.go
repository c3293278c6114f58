package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// L1 is an in-process store backed by ristretto. Admission is approximate
// (TinyLFU), so a Set may be dropped under contention; use Local where exact
// LRU order matters.
type L1 struct {
	rc *ristretto.Cache[string, []byte]
}

// NewL1 creates an L1 store. maxCost bounds the number of entries (each
// entry has a cost of 1).
func NewL1(maxCost int64) (*L1, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("store: l1: %w", err)
	}
	return &L1{rc: rc}, nil
}

// Get retrieves a copy of the value stored under key.
func (l *L1) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set stores a copy of val and waits until the write is visible.
func (l *L1) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	l.rc.SetWithTTL(key, bytes.Clone(val), 1, ttl)
	l.rc.Wait()
	return nil
}

// Delete removes key.
func (l *L1) Delete(_ context.Context, key string) error {
	l.rc.Del(key)
	return nil
}

// Close stops ristretto's background goroutines.
func (l *L1) Close() error {
	l.rc.Close()
	return nil
}
