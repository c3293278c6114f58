// Package metrics defines the instrumentation hooks used by the cache, flight
// and pool packages. Backends (Prometheus, tests) implement these interfaces;
// the core never imports a concrete metrics library.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when the
// operation completes.
type Timer interface {
	ObserveDuration()
}

// CacheMetrics instruments a cache.Cache instance. The name argument is the
// instance name given at construction so several caches can share a backend.
type CacheMetrics interface {
	Hit(name string)
	Miss(name string)
	// Evicted counts a removal; reason is one of capacity, expired, deleted,
	// cleared.
	Evicted(name, reason string)
	Entries(name string, n int)
}

// FlightMetrics instruments a flight.Group.
type FlightMetrics interface {
	// Call counts a caller by how it was served: "leader" (ran the
	// producer), "shared" (joined an in-flight call) or "retained" (served
	// from the retention window).
	Call(name, served string)
	ProducerFailed(name string)
	ProducerDuration(name string) Timer
	InFlight(name string, n int)
}

// PoolMetrics instruments a pool.Pool.
type PoolMetrics interface {
	TaskSettled(name string, success bool)
	TaskDuration(name string) Timer
	Running(name string, n int)
	Queued(name string, n int)
}
