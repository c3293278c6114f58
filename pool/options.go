package pool

import (
	"log/slog"

	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/tracing"
)

// Option configures a Pool.
type Option func(*config)

type config struct {
	name    string
	log     *slog.Logger
	metrics metrics.PoolMetrics
	tracing *tracing.Config
	limiter *ratelimit.Limiter
}

func defaultConfig() config {
	return config{
		name:    "pool",
		log:     slog.Default(),
		metrics: metrics.NopPool(),
	}
}

// WithName labels the pool in logs, metrics and spans.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
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
func WithMetrics(m metrics.PoolMetrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing opens a span around every task.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) {
		c.tracing = cfg
	}
}

// WithRateLimiter throttles how fast tasks start. A task waits for a token
// only after it has taken a slot, so the limiter never lets more than the
// pool's concurrency run.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *config) {
		c.limiter = l
	}
}
