package metrics

import "github.com/prometheus/client_golang/prometheus"

// TriggerMetrics covers broadcast trigger requests.
type TriggerMetrics struct {
	Requests *prometheus.CounterVec
	Duration prometheus.Histogram
	Pending  prometheus.Gauge
}

func NewTriggerMetrics(reg prometheus.Registerer) *TriggerMetrics {
	m := &TriggerMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "requests_total",
			Help:      "Broadcast trigger calls by outcome (success/error/rejected).",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "request_duration_seconds",
			Help:      "Duration of broadcast trigger requests to the backend.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "pending",
			Help:      "Broadcast triggers currently awaiting the backend.",
		}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.Pending)
	return m
}
