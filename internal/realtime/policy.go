package realtime

import "time"

// ReconnectPolicy bounds automatic reconnection after a connection is lost.
// The n-th attempt (1-based) waits min(BaseDelay·2^n, MaxDelay).
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultReconnectPolicy waits 2s, 4s, 8s, 16s and 30s, then gives up.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for range max(attempt, 0) {
		if d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	return min(d, p.MaxDelay)
}

func (p ReconnectPolicy) isZero() bool {
	return p == ReconnectPolicy{}
}
