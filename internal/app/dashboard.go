package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/platform/correlation"
	"github.com/tsntt/footballdash/internal/progress"
	"github.com/tsntt/footballdash/internal/realtime"
	"github.com/tsntt/footballdash/internal/session"
)

const (
	statusPublishTimeout = 2 * time.Second

	msgConnected    = "Connected to realtime notifications"
	msgDisconnected = "Disconnected from realtime notifications"
	msgChannelError = "WebSocket connection error"
	msgExpired      = "Session expired, realtime notifications disabled"
)

type tokenClient interface {
	session.Authenticator
	SetToken(token string)
}

type realtimeClient interface {
	Start(opts realtime.Options)
	Close()
	Status() domain.ConnectionState
}

type progressTracker interface {
	Ingest(ev domain.ProgressEvent) (progress.Effect, error)
	Snapshot() ([]domain.JobProgress, error)
	Get(channelID int) (domain.JobProgress, error)
	Stop()
}

type matchListing interface {
	Get(ctx context.Context) (domain.Listing, error)
}

type broadcaster interface {
	Trigger(ctx context.Context, matchID int) (*domain.BroadcastResponse, error)
	Pending() []domain.BroadcastAction
}

type notificationFeed interface {
	domain.Notifier
	List() []domain.Notification
}

type Config struct {
	Session         session.Config
	Endpoint        string
	RealtimeEnabled bool
	Policy          realtime.ReconnectPolicy
}

// Deps are the components the dashboard drives. Status may be nil.
type Deps struct {
	API      tokenClient
	Realtime realtimeClient
	Tracker  progressTracker
	Listing  matchListing
	Trigger  broadcaster
	Feed     notificationFeed
	Status   domain.StatusPublisher
	Clock    clockwork.Clock
}

// StatusView describes the session and the realtime channel.
type StatusView struct {
	State           domain.ConnectionState `json:"state"`
	RealtimeEnabled bool                   `json:"realtime_enabled"`
	Authenticated   bool                   `json:"authenticated"`
	User            string                 `json:"user,omitempty"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
}

// Snapshot is what a viewer receives when it connects.
type Snapshot struct {
	Status        StatusView               `json:"status"`
	Jobs          []domain.JobView         `json:"jobs"`
	Notifications []domain.Notification    `json:"notifications"`
	Pending       []domain.BroadcastAction `json:"pending"`
}

type Dashboard struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	creds   *domain.Credentials
	enabled bool
	expiry  clockwork.Timer
}

func New(cfg Config, deps Deps) *Dashboard {
	if cfg.Policy == (realtime.ReconnectPolicy{}) {
		cfg.Policy = realtime.DefaultReconnectPolicy()
	}
	return &Dashboard{cfg: cfg, deps: deps}
}

// Start authenticates against the backend and opens the realtime channel when
// the session allows it. The channel is closed again once the token expires.
func (d *Dashboard) Start(ctx context.Context) error {
	creds, err := session.Authenticate(ctx, d.cfg.Session, d.deps.API, d.deps.Clock.Now())
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	d.deps.API.SetToken(creds.Token)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.creds = &creds
	d.enabled = d.cfg.RealtimeEnabled && creds.RealtimeAllowed(d.deps.Clock.Now())
	d.deps.Realtime.Start(d.realtimeOptions(creds.Token, d.enabled))

	if !creds.ExpiresAt.IsZero() {
		d.expiry = d.deps.Clock.AfterFunc(creds.ExpiresAt.Sub(d.deps.Clock.Now()), d.expire)
	}
	if !d.cfg.RealtimeEnabled {
		slog.Info("Realtime progress channel disabled by configuration")
	}
	return nil
}

// Shutdown closes the realtime channel and stops the tracker.
func (d *Dashboard) Shutdown() {
	d.mu.Lock()
	if d.expiry != nil {
		d.expiry.Stop()
	}
	d.mu.Unlock()

	d.deps.Realtime.Close()
	d.deps.Tracker.Stop()
}

func (d *Dashboard) expire() {
	d.mu.Lock()
	if d.creds == nil || !d.enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = false
	token := d.creds.Token
	d.deps.Realtime.Start(d.realtimeOptions(token, false))
	d.mu.Unlock()

	slog.Warn("Session token expired, realtime progress disabled")
	d.deps.Feed.Notify(domain.LevelWarning, msgExpired)
	// teardown is silent, so viewers learn about it here
	d.onStatus(d.deps.Realtime.Status())
}

func (d *Dashboard) realtimeOptions(token string, enabled bool) realtime.Options {
	return realtime.Options{
		Endpoint: d.cfg.Endpoint,
		Enabled:  enabled,
		Header:   http.Header{"Authorization": []string{"Bearer " + token}},
		Policy:   d.cfg.Policy,

		OnMessage: d.onMessage,
		OnConnect: func() {
			d.deps.Feed.Notify(domain.LevelSuccess, msgConnected)
		},
		OnDisconnect: func() {
			d.deps.Feed.Notify(domain.LevelWarning, msgDisconnected)
		},
		OnError: func(err error) {
			slog.Warn("Realtime channel error", "error", err)
			d.deps.Feed.Notify(domain.LevelError, msgChannelError)
		},
		OnStatus: d.onStatus,
	}
}

func (d *Dashboard) onMessage(ev domain.ProgressEvent) {
	ctx := correlation.WithID(context.Background(), correlation.NewID())
	effect, err := d.deps.Tracker.Ingest(ev)
	if err != nil {
		slog.WarnContext(ctx, "Failed to record progress event", "channel_id", ev.ChannelID, "error", err)
		return
	}
	slog.DebugContext(ctx, "Progress event received", "channel_id", ev.ChannelID, "effect", effect)
}

func (d *Dashboard) onStatus(state domain.ConnectionState) {
	if d.deps.Status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusPublishTimeout)
	defer cancel()
	if err := d.deps.Status.PublishStatus(ctx, state); err != nil {
		slog.Warn("Failed to publish realtime status", "state", state, "error", err)
	}
}

// Ready reports whether the dashboard holds a valid admin session.
func (d *Dashboard) Ready(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.creds == nil {
		return domain.ErrNotAuthenticated
	}
	if d.creds.Expired(d.deps.Clock.Now()) {
		return fmt.Errorf("%w: token expired", domain.ErrNotAuthenticated)
	}
	return nil
}

func (d *Dashboard) Status() StatusView {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := StatusView{
		State:           d.deps.Realtime.Status(),
		RealtimeEnabled: d.enabled,
	}
	if d.creds != nil {
		view.Authenticated = !d.creds.Expired(d.deps.Clock.Now())
		view.User = d.creds.Name
		if !d.creds.ExpiresAt.IsZero() {
			exp := d.creds.ExpiresAt
			view.ExpiresAt = &exp
		}
	}
	return view
}

func (d *Dashboard) Progress() ([]domain.JobProgress, error) {
	return d.deps.Tracker.Snapshot()
}

func (d *Dashboard) Job(channelID int) (domain.JobProgress, error) {
	return d.deps.Tracker.Get(channelID)
}

func (d *Dashboard) Matches(ctx context.Context) (domain.Listing, error) {
	if err := d.Ready(ctx); err != nil {
		return domain.Listing{}, err
	}
	return d.deps.Listing.Get(ctx)
}

func (d *Dashboard) Broadcast(ctx context.Context, matchID int) (*domain.BroadcastResponse, error) {
	if err := d.Ready(ctx); err != nil {
		return nil, err
	}
	return d.deps.Trigger.Trigger(ctx, matchID)
}

func (d *Dashboard) PendingBroadcasts() []domain.BroadcastAction {
	return d.deps.Trigger.Pending()
}

func (d *Dashboard) Notifications() []domain.Notification {
	return d.deps.Feed.List()
}

func (d *Dashboard) DismissNotification(key string) {
	d.deps.Feed.Dismiss(key)
}

// ViewerSnapshot is the initial state sent to a newly connected viewer.
func (d *Dashboard) ViewerSnapshot(_ context.Context) (any, error) {
	jobs, err := d.deps.Tracker.Snapshot()
	if err != nil && !errors.Is(err, domain.ErrTrackerStopped) {
		return nil, err
	}
	return Snapshot{
		Status:        d.Status(),
		Jobs:          domain.Views(jobs),
		Notifications: d.deps.Feed.List(),
		Pending:       d.deps.Trigger.Pending(),
	}, nil
}
