package domain

import "context"

// ConnectionState is the lifecycle state of the realtime channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Gauge maps a state onto a stable numeric value for metrics.
func (s ConnectionState) Gauge() float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateError:
		return 3
	default:
		return 0
	}
}

// StatusPublisher pushes realtime channel state changes to downstream viewers.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, state ConnectionState) error
}
