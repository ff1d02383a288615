package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics covers the admin progress channel connection.
type RealtimeMetrics struct {
	State               prometheus.Gauge
	ReconnectAttempts   prometheus.Counter
	ReconnectsExhausted prometheus.Counter
	Messages            *prometheus.CounterVec
	TransportErrors     prometheus.Counter
}

func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current channel state (0=disconnected, 1=connecting, 2=connected, 3=error).",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts.",
		}),
		ReconnectsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_exhausted_total",
			Help:      "Number of times the reconnect budget ran out.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "messages_total",
			Help:      "Inbound messages by result (accepted/dropped).",
		}, []string{"result"}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "transport_errors_total",
			Help:      "Dial and write failures on the channel.",
		}),
	}

	reg.MustRegister(m.State, m.ReconnectAttempts, m.ReconnectsExhausted, m.Messages, m.TransportErrors)
	return m
}
