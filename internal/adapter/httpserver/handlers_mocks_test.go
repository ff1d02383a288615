package httpserver

import (
	"context"
	"testing"
	"time"

	"github.com/tsntt/footballdash/internal/app"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/platform/config"
)

type mockDashboard struct {
	status        app.StatusView
	jobs          []domain.JobProgress
	progressErr   error
	listing       domain.Listing
	matchesErr    error
	broadcastFn   func(ctx context.Context, matchID int) (*domain.BroadcastResponse, error)
	pending       []domain.BroadcastAction
	notifications []domain.Notification
	dismissed     []string
}

func (m *mockDashboard) Status() app.StatusView { return m.status }

func (m *mockDashboard) Progress() ([]domain.JobProgress, error) {
	return m.jobs, m.progressErr
}

func (m *mockDashboard) Job(channelID int) (domain.JobProgress, error) {
	for _, j := range m.jobs {
		if j.ChannelID() == channelID {
			return j, nil
		}
	}
	return domain.JobProgress{}, domain.ErrJobNotFound
}

func (m *mockDashboard) Matches(context.Context) (domain.Listing, error) {
	return m.listing, m.matchesErr
}

func (m *mockDashboard) Broadcast(ctx context.Context, matchID int) (*domain.BroadcastResponse, error) {
	if m.broadcastFn != nil {
		return m.broadcastFn(ctx, matchID)
	}
	return &domain.BroadcastResponse{Message: "Broadcast started"}, nil
}

func (m *mockDashboard) PendingBroadcasts() []domain.BroadcastAction { return m.pending }

func (m *mockDashboard) Notifications() []domain.Notification { return m.notifications }

func (m *mockDashboard) DismissNotification(key string) {
	m.dismissed = append(m.dismissed, key)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		BroadcastRateLimit: 100,
		BroadcastRateBurst: 100,
	}
}

func newTestServer(t *testing.T, dashboard dashboardService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := NewServer(testConfig(), dashboard, Handlers{}, nil, nil)
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withStartTime(at time.Time) func(*Server) {
	return func(s *Server) {
		s.startTime = at
	}
}
