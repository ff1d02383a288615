package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProgressMetrics covers the broadcast progress tracker.
type ProgressMetrics struct {
	TrackedJobs prometheus.Gauge
	Events      *prometheus.CounterVec
	Completions *prometheus.CounterVec
	Expired     prometheus.Counter
}

func NewProgressMetrics(reg prometheus.Registerer) *ProgressMetrics {
	m := &ProgressMetrics{
		TrackedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "tracked_jobs",
			Help:      "Number of broadcast jobs currently held by the tracker.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "events_total",
			Help:      "Ingested progress events by effect (created/replaced/duplicate).",
		}, []string{"effect"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "completions_total",
			Help:      "Broadcast jobs that reached completion, by outcome.",
		}, []string{"outcome"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "expired_total",
			Help:      "Completed jobs removed after the retention window.",
		}),
	}

	reg.MustRegister(m.TrackedJobs, m.Events, m.Completions, m.Expired)
	return m
}
