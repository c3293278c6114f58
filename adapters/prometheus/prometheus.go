// Package prometheus provides Prometheus implementations of the metrics
// interfaces used by the cache, flight and pool packages.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/rawrcache/metrics"
)

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// All holds the Prometheus implementations for every component.
type All struct {
	Cache  metrics.CacheMetrics
	Flight metrics.FlightMetrics
	Pool   metrics.PoolMetrics
}

// NewAll registers the metrics of every component with reg.
func NewAll(reg prometheus.Registerer) *All {
	return &All{
		Cache:  NewCacheMetrics(reg),
		Flight: NewFlightMetrics(reg),
		Pool:   NewPoolMetrics(reg),
	}
}

func boolToStr(b bool) string { return strconv.FormatBool(b) }
