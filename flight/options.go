package flight

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/rawrcache/clock"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/tracing"
)

// Option configures a Group.
type Option func(*config)

type config struct {
	name    string
	log     *slog.Logger
	metrics metrics.FlightMetrics
	tracing *tracing.Config
	clock   clock.Clock

	retain         bool
	retainCapacity int
	retainTTL      time.Duration
}

func defaultConfig() config {
	return config{
		name:    "flight",
		log:     slog.Default(),
		metrics: metrics.NopFlight(),
		clock:   clock.Real(),
	}
}

func (c *config) validate() error {
	if !c.retain {
		return nil
	}
	if c.retainCapacity < 0 || c.retainTTL < 0 {
		return fmt.Errorf("%w: capacity %d, ttl %s", ErrInvalidRetention, c.retainCapacity, c.retainTTL)
	}
	if c.retainCapacity == 0 && c.retainTTL == 0 {
		return fmt.Errorf("%w: capacity and ttl are both zero", ErrInvalidRetention)
	}
	return nil
}

// WithName labels the group in logs, metrics and spans.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithRetention keeps successful results for reuse after their call has
// settled. capacity bounds how many results are kept (least recently used
// first out) and ttl bounds how long each one is kept. Either may be zero to
// leave that axis unbounded, but not both. Failures are never retained.
func WithRetention(capacity int, ttl time.Duration) Option {
	return func(c *config) {
		c.retain = true
		c.retainCapacity = capacity
		c.retainTTL = ttl
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
func WithMetrics(m metrics.FlightMetrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing opens a span around every producer invocation.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) {
		c.tracing = cfg
	}
}

// WithClock sets the time source of the retention window.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}
