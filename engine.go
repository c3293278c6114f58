// Package rawrcache composes an in-process cache, request deduplication and
// a bounded task pool into one Engine.
//
// Fetch reads through the cache: on a miss, concurrent callers for the same
// key share a single loader call whose successful result is cached. Go and
// Prefetch run work in the background on a pool that never runs more than a
// fixed number of tasks at once. UnaryInterceptor exposes the same
// deduplication to gRPC servers.
//
//	e, err := rawrcache.New(rawrcache.DefaultOptions()...)
//	if err != nil { ... }
//	defer e.Close()
//	user, err := e.Fetch(ctx, "user:42", time.Minute, loadUser)
package rawrcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	promadapter "github.com/Keksclan/rawrcache/adapters/prometheus"
	"github.com/Keksclan/rawrcache/breaker"
	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/flight"
	"github.com/Keksclan/rawrcache/interceptors"
	"github.com/Keksclan/rawrcache/internal/core"
	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/pool"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/store"
	"github.com/Keksclan/rawrcache/tracing"
)

// Engine is a read-through cache with request deduplication and a bounded
// background pool. Construct with New.
type Engine struct {
	name  string
	ttl   time.Duration
	log   *slog.Logger
	cfg   config
	local *cache.Cache[string, []byte] // nil with WithRistretto

	store    store.Store
	loader   *store.Loader
	pool     *pool.Pool[[]byte]
	metrics  *promadapter.All // nil without WithMetrics
	gatherer prometheus.Gatherer

	mu      sync.Mutex
	guards  map[*policy.Resolver]*resolverGuards
	closers []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	// Entries is the number of live local entries, or -1 with WithRistretto.
	Entries  int        `json:"entries"`
	InFlight int        `json:"in_flight"`
	Pool     pool.Stats `json:"pool"`
}

// New creates an Engine by applying opts over the defaults. It fails fast on
// an invalid configuration.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		name: cfg.name,
		ttl:  cfg.ttl,
		log:  cfg.log.With(slog.String("engine", cfg.name)),
		cfg:  cfg,
	}
	if cfg.registry != nil {
		e.metrics = promadapter.NewAll(cfg.registry)
		if g, ok := cfg.registry.(prometheus.Gatherer); ok {
			e.gatherer = g
		}
	}

	st, err := e.buildStore()
	if err != nil {
		_ = e.closeAll()
		return nil, err
	}
	e.store = st

	loader, err := store.NewLoader(st, e.flightOptions(cfg.name+".fetch", cfg.retain)...)
	if err != nil {
		_ = e.closeAll()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.loader = loader

	popts := []pool.Option{
		pool.WithName(cfg.name),
		pool.WithLogger(cfg.log),
		pool.WithTracing(cfg.tracing),
	}
	if e.metrics != nil {
		popts = append(popts, pool.WithMetrics(e.metrics.Pool))
	}
	if cfg.rateLimit > 0 {
		popts = append(popts, pool.WithRateLimiter(ratelimit.NewLimiter(cfg.rateLimit, max(cfg.rateBurst, 1))))
	}
	p, err := pool.New[[]byte](cfg.concurrency, popts...)
	if err != nil {
		_ = e.closeAll()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.pool = p

	e.log.Debug("engine ready",
		slog.Int("capacity", cfg.capacity),
		slog.Duration("ttl", cfg.ttl),
		slog.Int("concurrency", cfg.concurrency),
		slog.Bool("ristretto", cfg.ristretto),
		slog.Bool("redis", cfg.redisAddr != ""),
	)
	return e, nil
}

// buildStore assembles the local layer and, with WithRedis, the tiered
// layout in front of Redis.
func (e *Engine) buildStore() (store.Store, error) {
	cfg := e.cfg

	var near store.Store
	if cfg.ristretto {
		l1, err := store.NewL1(int64(cfg.capacity))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, l1)
		near = l1
	} else {
		copts := []cache.Option{
			cache.WithName(cfg.name),
			cache.WithCapacity(cfg.capacity),
			cache.WithSweepInterval(cfg.sweepInterval),
			cache.WithClock(cfg.clock),
			cache.WithLogger(cfg.log),
		}
		if e.metrics != nil {
			copts = append(copts, cache.WithMetrics(e.metrics.Cache))
		}
		local, err := store.NewLocal(copts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		e.closers = append(e.closers, local)
		e.local = local.Engine()
		near = local
	}

	if cfg.redisAddr == "" {
		return near, nil
	}
	l2opts := []store.L2Option{
		store.WithKeyPrefix(cfg.redisPrefix),
		store.WithL2Logger(cfg.log),
	}
	if cfg.redisBreaker != nil {
		bc := *cfg.redisBreaker
		if bc.Clock == nil {
			bc.Clock = cfg.clock
		}
		if bc.OnStateChange == nil {
			log := e.log
			bc.OnStateChange = func(from, to breaker.State) {
				log.Warn("redis breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
			}
		}
		l2opts = append(l2opts, store.WithBreaker(breaker.New(bc)))
	}
	l2 := store.NewL2(cfg.redisAddr, cfg.redisPassword, cfg.redisDB, l2opts...)
	e.closers = append(e.closers, l2)
	return store.NewTiered(near, l2, cfg.ttl), nil
}

func (e *Engine) flightOptions(name string, retain bool) []flight.Option {
	opts := []flight.Option{
		flight.WithName(name),
		flight.WithLogger(e.cfg.log),
		flight.WithTracing(e.cfg.tracing),
		flight.WithClock(e.cfg.clock),
	}
	if e.metrics != nil {
		opts = append(opts, flight.WithMetrics(e.metrics.Flight))
	}
	if retain {
		opts = append(opts, flight.WithRetention(e.cfg.retainCapacity, e.cfg.retainTTL))
	}
	return opts
}

// Name returns the name given via WithName.
func (e *Engine) Name() string { return e.name }

// Fetch returns the value cached under key. On a miss it calls load at most
// once across concurrent callers for key and caches a successful result for
// ttl. A zero ttl uses WithTTL. Failures are returned to every waiting
// caller and never cached.
func (e *Engine) Fetch(ctx context.Context, key string, ttl time.Duration, load store.LoadFunc) ([]byte, error) {
	if ttl == 0 {
		ttl = e.ttl
	}
	return e.loader.GetOrSet(ctx, key, ttl, load)
}

// Set stores val under key for ttl. A zero ttl uses WithTTL.
func (e *Engine) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = e.ttl
	}
	return e.store.Set(ctx, key, val, ttl)
}

// Invalidate removes key from every layer and drops any retained or
// in-flight result for it, so the next Fetch calls its loader.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	e.loader.Group().Forget(key)
	return e.store.Delete(ctx, key)
}

// Go submits task to the background pool.
func (e *Engine) Go(ctx context.Context, task pool.Task[[]byte]) (*pool.Future[[]byte], error) {
	return e.pool.Add(ctx, task)
}

// Prefetch warms key in the background by running Fetch on the pool.
func (e *Engine) Prefetch(ctx context.Context, key string, ttl time.Duration, load store.LoadFunc) (*pool.Future[[]byte], error) {
	return e.pool.Add(ctx, func(ctx context.Context) ([]byte, error) {
		return e.Fetch(ctx, key, ttl, load)
	})
}

// Wait blocks until every background task has settled or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	return e.pool.Wait(ctx)
}

// Store returns the assembled store.
func (e *Engine) Store() store.Store { return e.store }

// Cache returns the exact LRU cache behind the local layer, or nil with
// WithRistretto.
func (e *Engine) Cache() *cache.Cache[string, []byte] { return e.local }

// Pool returns the background pool.
func (e *Engine) Pool() *pool.Pool[[]byte] { return e.pool }

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	entries := -1
	if e.local != nil {
		entries = e.local.Count()
	}
	return Stats{
		Entries:  entries,
		InFlight: e.loader.Group().InFlight(),
		Pool:     e.pool.Stats(),
	}
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics from
// the registry given to WithMetrics, or from the default registry.
func (e *Engine) MetricsHandler() http.Handler {
	if e.gatherer != nil {
		return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// UnaryInterceptor returns the engine's gRPC interceptor chain: panic
// recovery, tracing when configured, and, for the method groups r resolves,
// rate limiting and request deduplication. Interceptors added with
// WithUnaryInterceptor run at their given order.
//
// Chains built for the same resolver share their rate limiters and dedup
// tables, so identical requests arriving through two servers still collapse.
func (e *Engine) UnaryInterceptor(r *policy.Resolver) grpc.UnaryServerInterceptor {
	return interceptors.ChainUnary(e.interceptors(r))
}

// ServerOptions returns grpc.ServerOptions installing UnaryInterceptor(r).
//
//	srv := grpc.NewServer(e.ServerOptions(resolver)...)
func (e *Engine) ServerOptions(r *policy.Resolver) []grpc.ServerOption {
	return core.BuildServerOptions(e.interceptors(r), interceptors.ChainUnary)
}

func (e *Engine) interceptors(r *policy.Resolver) []grpc.UnaryServerInterceptor {
	var b core.MiddlewareBuilder
	b.Add(OrderRecovery, interceptors.RecoveryUnary(e.log))
	if e.cfg.tracing != nil {
		b.Add(OrderTracing, tracing.UnaryServerInterceptor(e.cfg.tracing))
	}
	if r != nil {
		g := e.guardsFor(r)
		b.Add(OrderRateLimit, g.rateLimit)
		b.Add(OrderDedup, g.dedup.Unary())
	}
	for _, oi := range e.cfg.unary {
		b.Add(oi.order, oi.ic)
	}
	return b.Build()
}

// resolverGuards are the per-resolver interceptors that hold state.
type resolverGuards struct {
	rateLimit grpc.UnaryServerInterceptor
	dedup     *interceptors.Dedup
}

func (e *Engine) guardsFor(r *policy.Resolver) *resolverGuards {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.guards[r]; ok {
		return g
	}
	if e.guards == nil {
		e.guards = make(map[*policy.Resolver]*resolverGuards)
	}
	g := &resolverGuards{
		rateLimit: interceptors.RateLimitUnary(nil, r),
		dedup:     interceptors.NewDedup(r, e.flightOptions(e.name+".grpc", false)...),
	}
	e.guards[r] = g
	return g
}

// Close stops the pool from accepting tasks and releases the stores and
// background sweepers. Tasks already submitted keep running; call Wait
// first to drain them. Close is safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.closeAll()
	})
	return e.closeErr
}

func (e *Engine) closeAll() error {
	var errs []error
	if e.pool != nil {
		errs = append(errs, e.pool.Close())
	}
	e.mu.Lock()
	for _, g := range e.guards {
		errs = append(errs, g.dedup.Close())
	}
	e.mu.Unlock()
	if e.loader != nil {
		errs = append(errs, e.loader.Close())
	}
	for _, c := range slices.Backward(e.closers) {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
