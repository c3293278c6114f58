package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/rawrcache/clock"
	"github.com/Keksclan/rawrcache/metrics"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity means the entry was the least recently used one when an
	// insert would have exceeded the capacity.
	EvictCapacity EvictReason = iota
	// EvictExpired means the entry's TTL elapsed and it was reclaimed on read
	// or by a sweep.
	EvictExpired
	// EvictDeleted means Delete removed the entry.
	EvictDeleted
	// EvictCleared means Clear removed the entry.
	EvictCleared
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	case EvictDeleted:
		return "deleted"
	case EvictCleared:
		return "cleared"
	default:
		return fmt.Sprintf("EvictReason(%d)", int(r))
	}
}

// Option configures a Cache.
type Option func(*config)

// config holds the settings assembled via functional options.
type config struct {
	name        string
	capacity    int
	capacitySet bool
	defaultTTL  time.Duration
	sweepEvery  time.Duration
	clock       clock.Clock
	log         *slog.Logger
	metrics     metrics.CacheMetrics
	onEvict     any
}

func defaultConfig() config {
	return config{
		name:    "cache",
		clock:   clock.Real(),
		log:     slog.Default(),
		metrics: metrics.NopCache(),
	}
}

func (c *config) validate() error {
	if c.capacitySet && c.capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.capacity)
	}
	if c.defaultTTL < 0 {
		return fmt.Errorf("%w: default ttl %s", ErrInvalidTTL, c.defaultTTL)
	}
	if c.sweepEvery < 0 {
		return fmt.Errorf("%w: sweep interval %s", ErrInvalidTTL, c.sweepEvery)
	}
	return nil
}

// WithName labels the cache in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithCapacity bounds the number of stored entries. n must be positive.
// Without this option the cache is unbounded and only TTL removes entries.
func WithCapacity(n int) Option {
	return func(c *config) {
		c.capacity = n
		c.capacitySet = true
	}
}

// WithDefaultTTL sets the TTL applied by Set. Zero means entries written by
// Set never expire.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.defaultTTL = ttl
	}
}

// WithSweepInterval starts a background goroutine that removes expired
// entries every d. Call Close to stop it. Zero disables the sweeper; lazy
// expiry on read always applies.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		c.sweepEvery = d
	}
}

// WithClock injects the time source used for expiry.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.CacheMetrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithOnEvict registers fn to be called for every entry that leaves the
// cache. fn runs after the cache lock is released, so it may call back into
// the cache. Its key and value types must match the cache's.
func WithOnEvict[K comparable, V any](fn func(key K, value V, reason EvictReason)) Option {
	return func(c *config) {
		c.onEvict = fn
	}
}
