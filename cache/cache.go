// Package cache implements an in-process key-value cache that bounds memory
// by capacity (least-recently-used eviction) and by time (per-entry TTL).
//
// A map gives O(1) key lookup and a doubly-linked list keeps recency order,
// front = most recently used. Both are guarded by one mutex so a key is never
// observed in one structure but not the other. Expired entries are treated as
// absent by every read and reclaimed lazily, by Count/Sweep, or by the
// optional sweeper goroutine.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Keksclan/rawrcache/clock"
	"github.com/Keksclan/rawrcache/metrics"
)

var (
	// ErrInvalidCapacity is returned by New when WithCapacity is not positive.
	ErrInvalidCapacity = errors.New("cache: capacity must be positive")
	// ErrInvalidTTL is returned for negative durations.
	ErrInvalidTTL = errors.New("cache: ttl must not be negative")
)

// Cache is a concurrency-safe LRU cache with optional per-entry expiry.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*list.Element
	lru   *list.List // Front = MRU, Back = LRU

	name       string
	capacity   int // 0 = unbounded
	defaultTTL time.Duration
	clock      clock.Clock
	log        *slog.Logger
	metrics    metrics.CacheMetrics
	onEvict    func(K, V, EvictReason)

	// Sweeper ownership.
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	hasExpiry bool
}

// expired reports whether the entry is logically absent at now. The
// boundary instant counts as expired, so a zero TTL expires immediately.
func (e *entry[K, V]) expired(now time.Time) bool {
	return e.hasExpiry && !now.Before(e.expiresAt)
}

// removal records an entry taken out under the lock so callbacks and metrics
// can run after it is released.
type removal[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// New constructs a cache. It fails fast on an invalid configuration.
func New[K comparable, V any](opts ...Option) (*Cache[K, V], error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Cache[K, V]{
		items:      make(map[K]*list.Element),
		lru:        list.New(),
		name:       cfg.name,
		capacity:   cfg.capacity,
		defaultTTL: cfg.defaultTTL,
		clock:      cfg.clock,
		log:        cfg.log.With(slog.String("cache", cfg.name)),
		metrics:    cfg.metrics,
	}

	if cfg.onEvict != nil {
		fn, ok := cfg.onEvict.(func(K, V, EvictReason))
		if !ok {
			return nil, fmt.Errorf("cache: eviction callback type %T does not match the cache's key and value types", cfg.onEvict)
		}
		c.onEvict = fn
	}

	if cfg.sweepEvery > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.sweepLoop(ctx, cfg.sweepEvery)
	}

	return c, nil
}

// MustNew is like New but panics on an invalid configuration.
func MustNew[K comparable, V any](opts ...Option) *Cache[K, V] {
	c, err := New[K, V](opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the name given via WithName.
func (c *Cache[K, V]) Name() string { return c.name }

// Capacity returns the configured capacity, or 0 when unbounded.
func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Set inserts or overwrites key using the default TTL. Overwriting counts as
// a use and never evicts. When inserting a new key into a full cache the
// least recently used entry is evicted first and its key is returned.
func (c *Cache[K, V]) Set(key K, value V) (evicted K, ok bool) {
	now := c.clock.Now()

	c.mu.Lock()
	_, removed := c.setLocked(now, key, value, c.defaultTTL > 0, now.Add(c.defaultTTL))
	n := len(c.items)
	c.mu.Unlock()

	c.notify(removed, n)
	for _, r := range removed {
		if r.reason == EvictCapacity {
			return r.key, true
		}
	}
	return evicted, false
}

// SetWithTTL stores value under key so that it expires ttl from now,
// replacing any previous value and expiry. A zero ttl stores an entry that
// is already expired. It reports whether a live entry was overwritten.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		return false, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	now := c.clock.Now()

	c.mu.Lock()
	wasLive, removed := c.setLocked(now, key, value, true, now.Add(ttl))
	n := len(c.items)
	c.mu.Unlock()

	c.notify(removed, n)
	return wasLive, nil
}

// Get returns the value for key and marks it most recently used. Missing and
// expired keys report false; an expired entry is removed as a side effect.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.Miss(c.name)
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if e.expired(now) {
		r := c.removeLocked(el, EvictExpired)
		n := len(c.items)
		c.mu.Unlock()
		c.notify([]removal[K, V]{r}, n)
		c.metrics.Miss(c.name)
		var zero V
		return zero, false
	}
	c.lru.MoveToFront(el)
	v := e.value
	c.mu.Unlock()

	c.metrics.Hit(c.name)
	return v, true
}

// Peek returns the value for key without changing its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if e.expired(now) {
		r := c.removeLocked(el, EvictExpired)
		n := len(c.items)
		c.mu.Unlock()
		c.notify([]removal[K, V]{r}, n)
		var zero V
		return zero, false
	}
	v := e.value
	c.mu.Unlock()
	return v, true
}

// Has reports whether key holds a live entry. It does not change recency.
func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.Peek(key)
	return ok
}

// Delete removes key regardless of expiry and reports whether it was stored.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	r := c.removeLocked(el, EvictDeleted)
	n := len(c.items)
	c.mu.Unlock()

	c.notify([]removal[K, V]{r}, n)
	return true
}

// Len returns the number of stored entries, including expired entries that
// have not been reclaimed yet. It never exceeds the capacity.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Count returns the number of live entries, removing expired ones it finds.
func (c *Cache[K, V]) Count() int {
	_, live := c.sweep()
	return live
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) Sweep() int {
	removed, _ := c.sweep()
	return removed
}

// sweep returns the number of removed entries and the number left, both
// observed under one lock acquisition.
func (c *Cache[K, V]) sweep() (int, int) {
	now := c.clock.Now()

	c.mu.Lock()
	var removed []removal[K, V]
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[K, V]).expired(now) {
			removed = append(removed, c.removeLocked(el, EvictExpired))
		}
		el = prev
	}
	n := len(c.items)
	c.mu.Unlock()

	c.notify(removed, n)
	return len(removed), n
}

// Keys returns the live keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]K, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		if !e.expired(now) {
			out = append(out, e.key)
		}
	}
	return out
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	removed := make([]removal[K, V], 0, len(c.items))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		removed = append(removed, removal[K, V]{key: e.key, value: e.value, reason: EvictCleared})
	}
	c.items = make(map[K]*list.Element)
	c.lru.Init()
	c.mu.Unlock()

	c.notify(removed, 0)
}

// Close stops the sweeper goroutine, if any. The cache stays usable. Close
// is safe to call multiple times.
func (c *Cache[K, V]) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
	return nil
}

// setLocked writes the entry and performs any capacity eviction. It reports
// whether a live entry was overwritten.
func (c *Cache[K, V]) setLocked(now time.Time, key K, value V, hasExpiry bool, expiresAt time.Time) (bool, []removal[K, V]) {
	if !hasExpiry {
		expiresAt = time.Time{}
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		wasLive := !e.expired(now)
		e.value = value
		e.hasExpiry = hasExpiry
		e.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return wasLive, nil
	}

	var removed []removal[K, V]
	if c.capacity > 0 && len(c.items) >= c.capacity {
		if back := c.lru.Back(); back != nil {
			reason := EvictCapacity
			if back.Value.(*entry[K, V]).expired(now) {
				reason = EvictExpired
			}
			removed = append(removed, c.removeLocked(back, reason))
		}
	}

	el := c.lru.PushFront(&entry[K, V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
		hasExpiry: hasExpiry,
	})
	c.items[key] = el
	return false, removed
}

func (c *Cache[K, V]) removeLocked(el *list.Element, reason EvictReason) removal[K, V] {
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.lru.Remove(el)
	return removal[K, V]{key: e.key, value: e.value, reason: reason}
}

// notify runs callbacks and metrics for removed entries. Must be called
// without c.mu held.
func (c *Cache[K, V]) notify(removed []removal[K, V], size int) {
	c.metrics.Entries(c.name, size)
	for _, r := range removed {
		c.metrics.Evicted(c.name, r.reason.String())
		if r.reason == EvictCapacity {
			c.log.Debug("evicted least recently used entry", slog.Any("key", r.key))
		}
		if c.onEvict != nil {
			c.onEvict(r.key, r.value, r.reason)
		}
	}
}
