package retry

import (
	"context"
	"slices"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of times fn is called (including the
	// first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent retries use
	// exponential back-off: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed back-off delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64

	// RetryCodes lists the gRPC status codes that are considered retryable.
	// Used only when Retryable is nil.
	RetryCodes []codes.Code

	// Retryable decides whether an error is worth another attempt. When nil,
	// an error is retried only if it carries a gRPC status code listed in
	// RetryCodes.
	Retryable func(error) bool

	// OnRetry, when set, is called before each wait with the number of the
	// attempt that failed (starting at 1), its error and the chosen delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (c Config) retryable(err error) bool {
	if c.Retryable != nil {
		return c.Retryable(err)
	}
	st, ok := status.FromError(err)
	return ok && slices.Contains(c.RetryCodes, st.Code())
}

// Do calls fn up to cfg.MaxAttempts times, retrying only errors that
// cfg considers retryable. Between attempts an exponential back-off delay
// (with optional jitter) is applied.
//
// The context is checked before every retry; if ctx is done the function
// returns immediately with the context error.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(cfg.MaxAttempts, 1)
	for i := 0; ; i++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if i+1 >= attempts || !cfg.retryable(err) {
			var zero T
			return zero, err
		}

		delay := backoff(cfg, i)
		if cfg.OnRetry != nil {
			cfg.OnRetry(i+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wrap returns fn with the retry policy applied, ready to hand to a pool or
// a deduplication group. Each submission still settles exactly once; the
// attempts happen inside it.
func Wrap[T any](cfg Config, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, cfg, fn)
	}
}
