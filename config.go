package rawrcache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/Keksclan/rawrcache/breaker"
	"github.com/Keksclan/rawrcache/clock"
	"github.com/Keksclan/rawrcache/tracing"
)

// ErrInvalidConfig is wrapped by New for every rejected option value.
var ErrInvalidConfig = errors.New("rawrcache: invalid config")

// config holds the internal configuration assembled via functional options.
type config struct {
	name          string
	capacity      int
	ttl           time.Duration
	sweepInterval time.Duration
	concurrency   int

	ristretto     bool
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	redisBreaker  *breaker.Config

	retain         bool
	retainCapacity int
	retainTTL      time.Duration

	rateLimit float64
	rateBurst int

	log      *slog.Logger
	registry prometheus.Registerer
	tracing  *tracing.Config
	clock    clock.Clock

	unary []orderedInterceptor
}

type orderedInterceptor struct {
	order int
	ic    grpc.UnaryServerInterceptor
}

func defaultConfig() config {
	return config{
		name:        "rawrcache",
		capacity:    DefaultCapacity,
		concurrency: DefaultConcurrency,
		log:         slog.Default(),
		clock:       clock.Real(),
	}
}

func (c *config) validate() error {
	switch {
	case c.capacity < 1:
		return fmt.Errorf("%w: capacity %d must be positive", ErrInvalidConfig, c.capacity)
	case c.ttl < 0:
		return fmt.Errorf("%w: ttl %s must not be negative", ErrInvalidConfig, c.ttl)
	case c.sweepInterval < 0:
		return fmt.Errorf("%w: sweep interval %s must not be negative", ErrInvalidConfig, c.sweepInterval)
	case c.concurrency < 1:
		return fmt.Errorf("%w: concurrency %d must be positive", ErrInvalidConfig, c.concurrency)
	case c.rateLimit < 0 || c.rateBurst < 0:
		return fmt.Errorf("%w: rate limit %g/s burst %d must not be negative", ErrInvalidConfig, c.rateLimit, c.rateBurst)
	}
	return nil
}
