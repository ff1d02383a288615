// Package redis holds the Redis-backed pieces of the console: the shared
// client and the listing snapshot store.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
)

const (
	pingTimeout  = 5 * time.Second
	breakerDelay = 30 * time.Second
)

// NewClient connects to redisURL (e.g. "redis://localhost:6379/0") and
// verifies the connection. m may be nil.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewBreakerHook(breakerDelay, m))
	if m != nil {
		rdb.AddHook(&MetricsHook{metrics: m})
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
