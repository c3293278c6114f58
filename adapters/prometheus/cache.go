package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/rawrcache/metrics"
)

type cacheMetrics struct {
	lookups *prometheus.CounterVec
	evicted *prometheus.CounterVec
	entries *prometheus.GaugeVec
}

// NewCacheMetrics creates a Prometheus implementation of CacheMetrics.
func NewCacheMetrics(reg prometheus.Registerer) metrics.CacheMetrics {
	m := &cacheMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrcache_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		}, []string{"cache", "result"}),

		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrcache_cache_evictions_total",
			Help: "Total number of entries removed from the cache by reason",
		}, []string{"cache", "reason"}),

		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rawrcache_cache_entries",
			Help: "Number of entries currently stored",
		}, []string{"cache"}),
	}

	reg.MustRegister(m.lookups, m.evicted, m.entries)
	return m
}

func (m *cacheMetrics) Hit(name string) {
	m.lookups.WithLabelValues(name, "hit").Inc()
}

func (m *cacheMetrics) Miss(name string) {
	m.lookups.WithLabelValues(name, "miss").Inc()
}

func (m *cacheMetrics) Evicted(name, reason string) {
	m.evicted.WithLabelValues(name, reason).Inc()
}

func (m *cacheMetrics) Entries(name string, n int) {
	m.entries.WithLabelValues(name).Set(float64(n))
}
