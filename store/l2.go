package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Keksclan/rawrcache/breaker"
)

// L2 is a Redis-backed store. Reads and writes fail soft: when Redis is
// unavailable Get reports a miss and Set discards the write, so a flaky
// remote layer degrades to extra producer calls instead of errors.
type L2 struct {
	rdb     redis.UniversalClient
	prefix  string
	log     *slog.Logger
	breaker *breaker.Breaker
}

// L2Option configures an L2.
type L2Option func(*L2)

// WithKeyPrefix namespaces every key, e.g. "rawr:".
func WithKeyPrefix(prefix string) L2Option {
	return func(l *L2) { l.prefix = prefix }
}

// WithL2Logger sets the logger that records swallowed Redis errors.
func WithL2Logger(log *slog.Logger) L2Option {
	return func(l *L2) {
		if log != nil {
			l.log = log
		}
	}
}

// WithBreaker skips Redis entirely while b is open, so an unreachable server
// costs one failed call per probe instead of one per operation.
func WithBreaker(b *breaker.Breaker) L2Option {
	return func(l *L2) { l.breaker = b }
}

// NewL2 connects an L2 to the Redis server at addr.
func NewL2(addr, password string, db int, opts ...L2Option) *L2 {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewL2FromClient(rdb, opts...)
}

// NewL2FromClient wraps an existing client, e.g. a cluster client. Close
// closes it.
func NewL2FromClient(rdb redis.UniversalClient, opts ...L2Option) *L2 {
	l := &L2{rdb: rdb, log: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With(slog.String("store", "redis"))
	return l
}

// guard runs fn through the breaker, if any.
func (l *L2) guard(fn func() error) error {
	if l.breaker == nil {
		return fn()
	}
	return l.breaker.Do(fn)
}

// Get retrieves a value by key. It returns (nil, false, nil) on a miss or
// when Redis is unreachable.
func (l *L2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
	)
	err := l.guard(func() error {
		b, err := l.rdb.Get(ctx, l.prefix+key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			return nil
		case err != nil:
			return err
		}
		val, found = b, true
		return nil
	})
	if err != nil {
		l.log.Debug("redis get failed, treating as miss", slog.String("key", key), slog.Any("error", err))
		return nil, false, nil
	}
	return val, found, nil
}

// Set stores val under key. Redis errors are logged and discarded.
func (l *L2) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	err := l.guard(func() error {
		return l.rdb.Set(ctx, l.prefix+key, val, ttl).Err()
	})
	if err != nil {
		l.log.Debug("redis set failed, write discarded", slog.String("key", key), slog.Any("error", err))
	}
	return nil
}

// Delete removes key. Redis errors are logged and discarded.
func (l *L2) Delete(ctx context.Context, key string) error {
	err := l.guard(func() error {
		return l.rdb.Del(ctx, l.prefix+key).Err()
	})
	if err != nil {
		l.log.Debug("redis del failed", slog.String("key", key), slog.Any("error", err))
	}
	return nil
}

// Ping checks the Redis connection. Unlike the data methods it reports
// failures.
func (l *L2) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (l *L2) Close() error {
	return l.rdb.Close()
}
