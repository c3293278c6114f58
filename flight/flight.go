// Package flight collapses concurrent calls that share a key into a single
// producer invocation whose outcome, value or error, is handed to every
// caller. Optionally, successful results are retained for a short window so
// callers arriving just after a call settled reuse its value too.
//
// Lookup order for a key is: retention window, in-flight call, new producer.
// Failures are never retained; the next caller after a failure starts fresh.
package flight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/fingerprint"
	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/tracing"
)

// ErrInvalidRetention is returned by New when WithRetention is given neither
// a capacity nor a ttl, or a negative one.
var ErrInvalidRetention = errors.New("flight: retention needs a positive capacity or ttl")

// How a caller was served, as reported to FlightMetrics.Call.
const (
	ServedLeader   = "leader"
	ServedShared   = "shared"
	ServedRetained = "retained"
)

// minSweep bounds how often the retention window is swept.
const minSweep = time.Second

// PanicError is returned to every caller of a call whose producer panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flight: producer panicked: %v", e.Value)
}

// Producer computes the value for a key. It receives a context that carries
// the values of the caller that started the call but is never cancelled, so
// one impatient caller cannot fail the call for everyone else.
type Producer[T any] func(ctx context.Context) (T, error)

// Group deduplicates producer calls by key. The zero value is not usable;
// construct with New.
type Group[T any] struct {
	sf       singleflight.Group
	name     string
	retained *cache.Cache[string, T] // nil without WithRetention
	log      *slog.Logger
	metrics  metrics.FlightMetrics
	tracing  *tracing.Config
	inflight atomic.Int64
}

// outcome is what the leader hands to singleflight.
type outcome[T any] struct {
	val      T
	retained bool
}

// New creates a Group.
func New[T any](opts ...Option) (*Group[T], error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g := &Group[T]{
		name:    cfg.name,
		log:     cfg.log.With(slog.String("flight", cfg.name)),
		metrics: cfg.metrics,
		tracing: cfg.tracing,
	}

	if cfg.retain {
		copts := []cache.Option{
			cache.WithName(cfg.name + ".retained"),
			cache.WithClock(cfg.clock),
			cache.WithLogger(cfg.log),
			cache.WithDefaultTTL(cfg.retainTTL),
		}
		if cfg.retainCapacity > 0 {
			copts = append(copts, cache.WithCapacity(cfg.retainCapacity))
		}
		if cfg.retainTTL > 0 {
			copts = append(copts, cache.WithSweepInterval(max(cfg.retainTTL, minSweep)))
		}
		rc, err := cache.New[string, T](copts...)
		if err != nil {
			return nil, fmt.Errorf("flight: retention: %w", err)
		}
		g.retained = rc
	}

	return g, nil
}

// Name returns the name given via WithName.
func (g *Group[T]) Name() string { return g.name }

// Call fingerprints inputs and calls Do with the result as the key. An input
// that cannot be fingerprinted fails only this call with a
// *fingerprint.Error.
func (g *Group[T]) Call(ctx context.Context, producer Producer[T], inputs ...any) (T, error) {
	key, err := fingerprint.Of(inputs...)
	if err != nil {
		var zero T
		return zero, err
	}
	return g.Do(ctx, key, producer)
}

// Do returns the outcome of producer for key. If a call for key is already in
// flight, Do waits for it instead of starting another. If ctx ends first, Do
// returns ctx.Err(); the producer keeps running and its result still reaches
// the other callers and the retention window.
func (g *Group[T]) Do(ctx context.Context, key string, producer Producer[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if g.retained != nil {
		if v, ok := g.retained.Get(key); ok {
			g.metrics.Call(g.name, ServedRetained)
			return v, nil
		}
	}

	var leader bool
	ch := g.sf.DoChan(key, func() (any, error) {
		leader = true
		return g.produce(ctx, key, producer)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(outcome[T])
		switch {
		case out.retained:
			g.metrics.Call(g.name, ServedRetained)
		case leader:
			g.metrics.Call(g.name, ServedLeader)
		default:
			g.metrics.Call(g.name, ServedShared)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return out.val, nil
	}
}

// produce runs on the singleflight goroutine. It checks the retention window
// again because a call may have settled between Do's lookup and DoChan.
func (g *Group[T]) produce(ctx context.Context, key string, producer Producer[T]) (out outcome[T], err error) {
	if g.retained != nil {
		if v, ok := g.retained.Peek(key); ok {
			return outcome[T]{val: v, retained: true}, nil
		}
	}

	g.metrics.InFlight(g.name, int(g.inflight.Add(1)))
	ctx, span := g.tracing.Start(context.WithoutCancel(ctx), "flight.produce",
		tracing.AttrName.String(g.name),
		tracing.AttrKey.String(key),
	)
	timer := g.metrics.ProducerDuration(g.name)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			g.log.Error("producer panicked", slog.String("key", key), slog.Any("panic", r))
		} else if err != nil {
			g.log.Warn("producer failed", slog.String("key", key), slog.Any("error", err))
		}
		timer.ObserveDuration()
		tracing.End(span, err)

		if err != nil {
			g.metrics.ProducerFailed(g.name)
		} else if g.retained != nil {
			// Stored before singleflight releases the key.
			g.retained.Set(key, out.val)
		}
		g.metrics.InFlight(g.name, int(g.inflight.Add(-1)))
	}()

	v, err := producer(ctx)
	return outcome[T]{val: v}, err
}

// Forget drops key from the retention window and detaches any in-flight call
// for it, so the next caller starts a new producer. Callers already waiting
// on the detached call still receive its outcome.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
	if g.retained != nil {
		g.retained.Delete(key)
	}
}

// InFlight returns the number of producers currently running.
func (g *Group[T]) InFlight() int {
	return int(g.inflight.Load())
}

// Retained returns the number of live results in the retention window.
func (g *Group[T]) Retained() int {
	if g.retained == nil {
		return 0
	}
	return g.retained.Count()
}

// Purge empties the retention window.
func (g *Group[T]) Purge() {
	if g.retained != nil {
		g.retained.Clear()
	}
}

// Close stops the retention sweeper. The group stays usable.
func (g *Group[T]) Close() error {
	if g.retained != nil {
		return g.retained.Close()
	}
	return nil
}
