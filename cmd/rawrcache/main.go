// Command rawrcache runs a self-contained demo of the engine: it warms the
// cache with a batch of background tasks, then serves a burst of concurrent
// reads over gRPC and reports how many loads the cache and deduplication
// saved. Configuration comes from the environment:
//
//	RAWR_CAPACITY      local cache capacity (default 10000)
//	RAWR_TTL           entry TTL (default 1m)
//	RAWR_CONCURRENCY   background task bound (default 8)
//	RAWR_TASKS         number of items to prefetch (default 32)
//	RAWR_METRICS_ADDR  serve /metrics here and keep running until interrupted
//	RAWR_LOG_LEVEL     debug, info, warn or error (default info)
//	RAWR_REDIS_ADDR    optional Redis server behind the local cache
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Keksclan/rawrcache"
	"github.com/Keksclan/rawrcache/breaker"
	"github.com/Keksclan/rawrcache/catalog"
	"github.com/Keksclan/rawrcache/policy"
)

type settings struct {
	capacity    int
	ttl         time.Duration
	concurrency int
	tasks       int
	metricsAddr string
	logLevel    slog.Level
	redisAddr   string
}

func loadSettings() (settings, error) {
	s := settings{
		capacity:    rawrcache.DefaultCapacity,
		ttl:         time.Minute,
		concurrency: rawrcache.DefaultConcurrency,
		tasks:       32,
		metricsAddr: os.Getenv("RAWR_METRICS_ADDR"),
		redisAddr:   os.Getenv("RAWR_REDIS_ADDR"),
	}
	var errs []error
	envInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	envInt("RAWR_CAPACITY", &s.capacity)
	envInt("RAWR_CONCURRENCY", &s.concurrency)
	envInt("RAWR_TASKS", &s.tasks)
	if v := os.Getenv("RAWR_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RAWR_TTL: %w", err))
		}
		s.ttl = d
	}
	if v := os.Getenv("RAWR_LOG_LEVEL"); v != "" {
		if err := s.logLevel.UnmarshalText([]byte(v)); err != nil {
			errs = append(errs, fmt.Errorf("RAWR_LOG_LEVEL: %w", err))
		}
	}
	return s, errors.Join(errs...)
}

func main() {
	s, err := loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, log); err != nil {
		log.Error("rawrcache failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, s settings, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	opts := []rawrcache.Option{
		rawrcache.WithCapacity(s.capacity),
		rawrcache.WithTTL(s.ttl),
		rawrcache.WithSweepInterval(max(s.ttl/2, time.Second)),
		rawrcache.WithConcurrency(s.concurrency),
		rawrcache.WithLogger(log),
		rawrcache.WithMetrics(reg),
	}
	if s.redisAddr != "" {
		opts = append(opts,
			rawrcache.WithRedis(s.redisAddr, "", 0),
			rawrcache.WithRedisKeyPrefix("rawrcache:"),
			rawrcache.WithRedisBreaker(breaker.DefaultConfig()),
		)
	}
	e, err := rawrcache.New(opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	var loads atomic.Int64
	src := func(ctx context.Context, id string) ([]byte, error) {
		loads.Add(1)
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []byte("item-" + id), nil
	}

	// Warm the first half of the id space in the background.
	start := time.Now()
	for i := range s.tasks / 2 {
		id := strconv.Itoa(i)
		if _, err := e.Prefetch(ctx, "item:"+id, 0, func(ctx context.Context) ([]byte, error) {
			return src(ctx, id)
		}); err != nil {
			return err
		}
	}
	if err := e.Wait(ctx); err != nil {
		return err
	}
	log.Info("prefetch done", slog.Int("items", s.tasks/2), slog.Duration("took", time.Since(start)))

	// Serve the catalog over gRPC with request deduplication.
	resolver := policy.NewResolver(
		policy.Group("catalog").
			Prefix("/" + catalog.ServiceName + "/").
			Policy(policy.Policy{
				Dedupe:  &policy.DedupeRule{Retain: time.Second, Capacity: 1024},
				Timeout: 5 * time.Second,
			}),
	)
	srv := grpc.NewServer(e.ServerOptions(resolver)...)
	catalog.Register(srv, catalog.CachedHandler(e, 0, src))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	go func() { _ = srv.Serve(lis) }()
	defer srv.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	// Every id is requested by four concurrent clients.
	start = time.Now()
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for i := range s.tasks {
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := catalog.Lookup(ctx, conn, strconv.Itoa(i)); err != nil {
					failed.Add(1)
					log.Warn("lookup failed", slog.Int("id", i), slog.Any("error", err))
				}
			}()
		}
	}
	wg.Wait()

	st := e.Stats()
	log.Info("lookups done",
		slog.Int("requests", s.tasks*4),
		slog.Int64("failed", failed.Load()),
		slog.Int64("loads", loads.Load()),
		slog.Int("entries", st.Entries),
		slog.Int64("tasks_completed", st.Pool.Completed),
		slog.Duration("took", time.Since(start)),
	)

	if s.metricsAddr == "" {
		return nil
	}
	return serveMetrics(ctx, s.metricsAddr, e, log)
}

func serveMetrics(ctx context.Context, addr string, e *rawrcache.Engine, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.MetricsHandler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	log.Info("serving metrics", slog.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
