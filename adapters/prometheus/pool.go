package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/rawrcache/metrics"
)

type poolMetrics struct {
	settled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  *prometheus.GaugeVec
	queued   *prometheus.GaugeVec
}

// NewPoolMetrics creates a Prometheus implementation of PoolMetrics.
func NewPoolMetrics(reg prometheus.Registerer) metrics.PoolMetrics {
	m := &poolMetrics{
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrcache_pool_tasks_total",
			Help: "Total number of settled tasks",
		}, []string{"pool", "success"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rawrcache_pool_task_duration_seconds",
			Help:    "Task run time in seconds",
			Buckets: defaultBuckets,
		}, []string{"pool"}),

		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rawrcache_pool_running",
			Help: "Number of tasks currently running",
		}, []string{"pool"}),

		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rawrcache_pool_queued",
			Help: "Number of tasks waiting for a slot",
		}, []string{"pool"}),
	}

	reg.MustRegister(m.settled, m.duration, m.running, m.queued)
	return m
}

func (m *poolMetrics) TaskSettled(name string, success bool) {
	m.settled.WithLabelValues(name, boolToStr(success)).Inc()
}

func (m *poolMetrics) TaskDuration(name string) metrics.Timer {
	return newTimer(m.duration.WithLabelValues(name))
}

func (m *poolMetrics) Running(name string, n int) {
	m.running.WithLabelValues(name).Set(float64(n))
}

func (m *poolMetrics) Queued(name string, n int) {
	m.queued.WithLabelValues(name).Set(float64(n))
}
