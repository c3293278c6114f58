package rawrcache

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/Keksclan/rawrcache/breaker"
	"github.com/Keksclan/rawrcache/clock"
	"github.com/Keksclan/rawrcache/tracing"
)

// Option configures an Engine.
type Option func(*config)

// WithName labels the engine's components in logs, metrics and spans.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithCapacity bounds the number of entries in the local cache.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithTTL sets the TTL Fetch uses when called with a zero ttl. Zero means
// such entries never expire.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithSweepInterval runs a background sweep of expired local entries every
// d. Zero leaves expiry lazy.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithConcurrency bounds how many background tasks run at once.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// WithRistretto replaces the exact LRU local cache with a ristretto cache
// of the same capacity. Ristretto trades exact LRU order and guaranteed
// admission for throughput under contention.
func WithRistretto() Option {
	return func(c *config) { c.ristretto = true }
}

// WithRedis adds a Redis layer behind the local cache. Local misses fall
// through to Redis and Redis hits are promoted locally. Redis failures are
// treated as misses.
func WithRedis(addr, password string, db int) Option {
	return func(c *config) {
		c.redisAddr = addr
		c.redisPassword = password
		c.redisDB = db
	}
}

// WithRedisKeyPrefix namespaces every Redis key.
func WithRedisKeyPrefix(prefix string) Option {
	return func(c *config) { c.redisPrefix = prefix }
}

// WithRedisBreaker skips Redis while it keeps failing. Zero fields of cfg
// take breaker.DefaultConfig values.
func WithRedisBreaker(cfg breaker.Config) Option {
	return func(c *config) { c.redisBreaker = &cfg }
}

// WithRetention keeps fetched values in the deduplication layer for reuse
// after their call settled, independent of the cache. See
// flight.WithRetention.
func WithRetention(capacity int, ttl time.Duration) Option {
	return func(c *config) {
		c.retain = true
		c.retainCapacity = capacity
		c.retainTTL = ttl
	}
}

// WithRateLimit throttles how fast background tasks start.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *config) {
		c.rateLimit = perSecond
		c.rateBurst = burst
	}
}

// WithLogger sets the logger shared by every component. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics registers Prometheus metrics for the cache, deduplication and
// pool layers with reg. When reg is also a prometheus.Gatherer,
// MetricsHandler serves it.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registry = reg }
}

// WithTracing opens spans around loader calls, pool tasks and gRPC calls.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) { c.tracing = cfg }
}

// WithClock sets the time source used for expiry. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithUnaryInterceptor adds ic to the chain returned by UnaryInterceptor at
// the given order; see the Order constants.
func WithUnaryInterceptor(order int, ic grpc.UnaryServerInterceptor) Option {
	return func(c *config) {
		c.unary = append(c.unary, orderedInterceptor{order: order, ic: ic})
	}
}
