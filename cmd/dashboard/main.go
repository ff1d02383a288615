package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/centrifugal/centrifuge"
	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tsntt/footballdash/internal/adapter/footballapi"
	"github.com/tsntt/footballdash/internal/adapter/httpserver"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	adapterredis "github.com/tsntt/footballdash/internal/adapter/redis"
	"github.com/tsntt/footballdash/internal/adapter/websocket"
	"github.com/tsntt/footballdash/internal/app"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/listing"
	"github.com/tsntt/footballdash/internal/notify"
	"github.com/tsntt/footballdash/internal/platform/config"
	"github.com/tsntt/footballdash/internal/platform/logging"
	"github.com/tsntt/footballdash/internal/platform/version"
	"github.com/tsntt/footballdash/internal/progress"
	"github.com/tsntt/footballdash/internal/realtime"
	"github.com/tsntt/footballdash/internal/session"
	"github.com/tsntt/footballdash/internal/trigger"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type componentMetrics struct {
	http     *metrics.HTTPMetrics
	realtime *metrics.RealtimeMetrics
	progress *metrics.ProgressMetrics
	trigger  *metrics.TriggerMetrics
	listing  *metrics.ListingMetrics
	ws       *metrics.WebSocketMetrics
	upstream *metrics.UpstreamMetrics
	redis    *metrics.RedisMetrics
}

func setupMetrics(reg prometheus.Registerer) componentMetrics {
	return componentMetrics{
		http:     metrics.NewHTTPMetrics(reg),
		realtime: metrics.NewRealtimeMetrics(reg),
		progress: metrics.NewProgressMetrics(reg),
		trigger:  metrics.NewTriggerMetrics(reg),
		listing:  metrics.NewListingMetrics(reg),
		ws:       metrics.NewWebSocketMetrics(reg),
		upstream: metrics.NewUpstreamMetrics(reg),
		redis:    metrics.NewRedisMetrics(reg),
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	client, err := adapterredis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupNode(cfg *config.Config, m *metrics.WebSocketMetrics, snapshot websocket.SnapshotFunc) *centrifuge.Node {
	node, err := websocket.NewNode(websocket.NodeOptions{
		LogLevel: cfg.LogLevel,
		Metrics:  m,
		Snapshot: snapshot,
	})
	if err != nil {
		slog.Error("Failed to create centrifuge node", "error", err)
		os.Exit(1)
	}

	if cfg.RedisURL != "" {
		if err := websocket.SetupRedis(node, cfg.RedisURL); err != nil {
			slog.Error("Failed to set up centrifuge redis broker", "error", err)
			os.Exit(1)
		}
	}

	if err := node.Run(); err != nil {
		slog.Error("Failed to start centrifuge node", "error", err)
		os.Exit(1)
	}
	return node
}

func listingStore(cfg *config.Config, rdb *goredis.Client, clock clockwork.Clock) domain.ListingStore {
	if rdb != nil {
		return adapterredis.NewListingStore(rdb, cfg.ListingCacheTTL)
	}
	return listing.NewMemoryStore(clock, cfg.ListingCacheTTL)
}

func healthChecks(dash *app.Dashboard, rdb *goredis.Client) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{{Name: "session", Check: dash.Ready}}
	if rdb != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping redis: %w", err)
				}
				return nil
			},
		})
	}
	return checks
}

type shutdownDeps struct {
	srv         *httpserver.Server
	dash        *app.Dashboard
	stopPolling context.CancelFunc
	node        *centrifuge.Node
}

func runGracefulShutdown(deps shutdownDeps) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		deps.stopPolling()
		deps.dash.Shutdown()

		if err := deps.node.Shutdown(shutdownCtx); err != nil {
			slog.Error("Centrifuge node shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Console starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	reg := metrics.NewRegistry()
	m := setupMetrics(reg)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStartup()

	rdb := setupRedis(startupCtx, cfg, m.redis)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	api := footballapi.NewClient(footballapi.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.HTTPTimeout,
		Clock:   clock,
	}, m.upstream)

	// The node is created before the dashboard, so the snapshot closure
	// resolves it lazily.
	var dash *app.Dashboard
	node := setupNode(cfg, m.ws, func(ctx context.Context) (any, error) {
		return dash.ViewerSnapshot(ctx)
	})
	publisher := websocket.NewPublisher(node, m.ws)

	feed := notify.NewFeed(clock, notify.DefaultLimit, publisher)
	tracker := progress.NewTracker(clock, feed, publisher, m.progress, progress.Options{
		Retention:     cfg.ProgressRetention,
		SweepInterval: cfg.ProgressSweepInterval,
	})
	cache := listing.NewCache(api, listingStore(cfg, rdb, clock), clock, m.listing, listing.Options{
		PollInterval: cfg.ListingPollInterval,
		StaleTime:    cfg.ListingStaleTime,
	})
	trig := trigger.New(api, cache, feed, clock, m.trigger)
	rt := realtime.New(&gorillaws.Dialer{HandshakeTimeout: cfg.HTTPTimeout}, clock, m.realtime)

	dash = app.New(app.Config{
		Session: session.Config{
			Token:    cfg.APIToken,
			Username: cfg.APIUsername,
			Password: cfg.APIPassword,
		},
		Endpoint:        cfg.WSURL,
		RealtimeEnabled: cfg.RealtimeEnabled,
		Policy: realtime.ReconnectPolicy{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxDelay:    cfg.ReconnectMaxDelay,
		},
	}, app.Deps{
		API:      api,
		Realtime: rt,
		Tracker:  tracker,
		Listing:  cache,
		Trigger:  trig,
		Feed:     feed,
		Status:   publisher,
		Clock:    clock,
	})

	if err := dash.Start(startupCtx); err != nil {
		slog.Error("Failed to start dashboard", "error", err)
		os.Exit(1)
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())
	go cache.Run(pollCtx)

	wsHandler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		CheckOrigin: websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
	})

	srv := httpserver.NewServer(cfg, dash, httpserver.Handlers{
		WebSocket: wsHandler,
		Metrics:   metrics.Handler(reg),
	}, m.http, healthChecks(dash, rdb))

	done := runGracefulShutdown(shutdownDeps{
		srv:         srv,
		dash:        dash,
		stopPolling: stopPolling,
		node:        node,
	})

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
