package metrics

import "github.com/prometheus/client_golang/prometheus"

// UpstreamMetrics covers calls to the football REST backend.
type UpstreamMetrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	BreakerState prometheus.Gauge
	BreakerTrips *prometheus.CounterVec
}

func NewUpstreamMetrics(reg prometheus.Registerer) *UpstreamMetrics {
	m := &UpstreamMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Backend requests by operation and status class.",
		}, []string{"operation", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Backend request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state",
			Help:      "Backend circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Backend circuit breaker state transitions by target state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.BreakerState, m.BreakerTrips)
	return m
}
