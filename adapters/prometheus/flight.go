package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/rawrcache/metrics"
)

type flightMetrics struct {
	calls            *prometheus.CounterVec
	producerFailed   *prometheus.CounterVec
	producerDuration *prometheus.HistogramVec
	inflight         *prometheus.GaugeVec
}

// NewFlightMetrics creates a Prometheus implementation of FlightMetrics.
func NewFlightMetrics(reg prometheus.Registerer) metrics.FlightMetrics {
	m := &flightMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrcache_flight_calls_total",
			Help: "Total number of deduplicated calls by how they were served",
		}, []string{"group", "served"}),

		producerFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rawrcache_flight_producer_failures_total",
			Help: "Total number of producer invocations that failed or panicked",
		}, []string{"group"}),

		producerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rawrcache_flight_producer_duration_seconds",
			Help:    "Producer run time in seconds",
			Buckets: defaultBuckets,
		}, []string{"group"}),

		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rawrcache_flight_inflight",
			Help: "Number of producers currently running",
		}, []string{"group"}),
	}

	reg.MustRegister(m.calls, m.producerFailed, m.producerDuration, m.inflight)
	return m
}

func (m *flightMetrics) Call(name, served string) {
	m.calls.WithLabelValues(name, served).Inc()
}

func (m *flightMetrics) ProducerFailed(name string) {
	m.producerFailed.WithLabelValues(name).Inc()
}

func (m *flightMetrics) ProducerDuration(name string) metrics.Timer {
	return newTimer(m.producerDuration.WithLabelValues(name))
}

func (m *flightMetrics) InFlight(name string, n int) {
	m.inflight.WithLabelValues(name).Set(float64(n))
}
