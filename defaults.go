package rawrcache

import "time"

// Defaults applied when the corresponding option is not given.
const (
	DefaultCapacity    = 10_000
	DefaultConcurrency = 8
)

// Interceptor orders used by UnaryInterceptor. Lower values run first, i.e.
// further from the handler. Custom interceptors added with
// WithUnaryInterceptor slot in between by picking a value in the gaps.
const (
	OrderRecovery  = 100
	OrderTracing   = 200
	OrderRateLimit = 300
	OrderDedup     = 400
)

// DefaultOptions returns the recommended set of options for a single
// process: a bounded LRU with a five minute TTL swept once a minute, and a
// pool sized for I/O-bound loaders.
func DefaultOptions() []Option {
	return []Option{
		WithCapacity(DefaultCapacity),
		WithTTL(5 * time.Minute),
		WithSweepInterval(time.Minute),
		WithConcurrency(DefaultConcurrency),
	}
}
