package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for browser WebSocket connections.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesPublished *prometheus.CounterVec
}

func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of connected console viewers.",
		}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Messages published to viewers, by channel.",
		}, []string{"channel"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesPublished)
	return m
}
