// Package httpserver serves the console's JSON API, the viewer websocket
// endpoint, health probes and Prometheus metrics over echo.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/app"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/platform/config"
)

type dashboardService interface {
	Status() app.StatusView
	Progress() ([]domain.JobProgress, error)
	Job(channelID int) (domain.JobProgress, error)
	Matches(ctx context.Context) (domain.Listing, error)
	Broadcast(ctx context.Context, matchID int) (*domain.BroadcastResponse, error)
	PendingBroadcasts() []domain.BroadcastAction
	Notifications() []domain.Notification
	DismissNotification(key string)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app dashboardService

	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// Handlers groups the optional http.Handlers mounted next to the API.
type Handlers struct {
	WebSocket http.Handler
	Metrics   http.Handler
}

// NewServer builds the server and registers its routes. httpMetrics may be nil.
func NewServer(cfg *config.Config, dashboard dashboardService, handlers Handlers, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	srv := &Server{
		echo:             e,
		config:           cfg,
		app:              dashboard,
		websocketHandler: handlers.WebSocket,
		metricsHandler:   handlers.Metrics,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
