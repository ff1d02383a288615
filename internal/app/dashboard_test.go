package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/progress"
	"github.com/tsntt/footballdash/internal/realtime"
	"github.com/tsntt/footballdash/internal/session"
)

var epoch = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func signToken(t *testing.T, role string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 1,
		"name":    "ops",
		"role":    role,
		"exp":     exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

type fakeAPI struct {
	token    string
	loginErr error
	set      string
}

func (a *fakeAPI) Login(context.Context, string, string) (string, error) { return a.token, a.loginErr }
func (a *fakeAPI) SetToken(token string)                                { a.set = token }

type fakeRealtime struct {
	mu     sync.Mutex
	starts []realtime.Options
	closed bool
	state  domain.ConnectionState
}

func (r *fakeRealtime) Start(opts realtime.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, opts)
}

func (r *fakeRealtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *fakeRealtime) Status() domain.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == "" {
		return domain.StateDisconnected
	}
	return r.state
}

func (r *fakeRealtime) last() realtime.Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts[len(r.starts)-1]
}

func (r *fakeRealtime) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

type fakeTracker struct {
	mu      sync.Mutex
	events  []domain.ProgressEvent
	stopped bool
}

func (f *fakeTracker) Ingest(ev domain.ProgressEvent) (progress.Effect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return progress.EffectCreated, nil
}

func (f *fakeTracker) Snapshot() ([]domain.JobProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := make([]domain.JobProgress, 0, len(f.events))
	for _, ev := range f.events {
		jobs = append(jobs, domain.JobProgress{Event: ev})
	}
	return jobs, nil
}

func (f *fakeTracker) Get(int) (domain.JobProgress, error) {
	return domain.JobProgress{}, domain.ErrJobNotFound
}

func (f *fakeTracker) Stop() { f.stopped = true }

type fakeListing struct{ calls int }

func (l *fakeListing) Get(context.Context) (domain.Listing, error) {
	l.calls++
	return domain.Listing{Matches: []domain.Match{{ID: 1}}}, nil
}

type fakeTrigger struct{ calls []int }

func (f *fakeTrigger) Trigger(_ context.Context, id int) (*domain.BroadcastResponse, error) {
	f.calls = append(f.calls, id)
	return &domain.BroadcastResponse{Message: "ok"}, nil
}

func (f *fakeTrigger) Pending() []domain.BroadcastAction { return nil }

type fakeFeed struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (f *fakeFeed) Notify(level domain.NotificationLevel, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, domain.Notification{Level: level, Message: message})
}

func (f *fakeFeed) Loading(string, string) {}
func (f *fakeFeed) Dismiss(string)         {}

func (f *fakeFeed) List() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.notes...)
}

type fakeStatus struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (s *fakeStatus) PublishStatus(_ context.Context, state domain.ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *fakeStatus) all() []domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConnectionState(nil), s.states...)
}

type fixture struct {
	clock    *clockwork.FakeClock
	api      *fakeAPI
	realtime *fakeRealtime
	tracker  *fakeTracker
	listing  *fakeListing
	trigger  *fakeTrigger
	feed     *fakeFeed
	status   *fakeStatus
}

func newDashboard(t *testing.T, cfg Config) (*Dashboard, *fixture) {
	t.Helper()
	f := &fixture{
		clock:    clockwork.NewFakeClockAt(epoch),
		api:      &fakeAPI{},
		realtime: &fakeRealtime{},
		tracker:  &fakeTracker{},
		listing:  &fakeListing{},
		trigger:  &fakeTrigger{},
		feed:     &fakeFeed{},
		status:   &fakeStatus{},
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "ws://backend/api/v1/admin/"
	}
	d := New(cfg, Deps{
		API:      f.api,
		Realtime: f.realtime,
		Tracker:  f.tracker,
		Listing:  f.listing,
		Trigger:  f.trigger,
		Feed:     f.feed,
		Status:   f.status,
		Clock:    f.clock,
	})
	return d, f
}

func TestDashboard_StartOpensRealtimeForAdmin(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}, RealtimeEnabled: true})

	require.NoError(t, d.Start(context.Background()))

	assert.Equal(t, token, f.api.set)
	opts := f.realtime.last()
	assert.True(t, opts.Enabled)
	assert.Equal(t, "ws://backend/api/v1/admin/", opts.Endpoint)
	assert.Equal(t, "Bearer "+token, opts.Header.Get("Authorization"))
	assert.Equal(t, realtime.DefaultReconnectPolicy(), opts.Policy)
	assert.NoError(t, d.Ready(context.Background()))

	status := d.Status()
	assert.True(t, status.Authenticated)
	assert.True(t, status.RealtimeEnabled)
	assert.Equal(t, "ops", status.User)
}

func TestDashboard_StartLogsIn(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Username: "ops", Password: "pw"}, RealtimeEnabled: true})
	f.api.token = token

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, token, f.api.set)
}

func TestDashboard_StartRejectsNonAdmin(t *testing.T) {
	token := signToken(t, "user", epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}, RealtimeEnabled: true})

	err := d.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotAdmin)
	assert.Zero(t, f.realtime.startCount())
	assert.ErrorIs(t, d.Ready(context.Background()), domain.ErrNotAuthenticated)

	_, err = d.Broadcast(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Empty(t, f.trigger.calls)
}

func TestDashboard_RealtimeDisabledByConfig(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}})

	require.NoError(t, d.Start(context.Background()))
	assert.False(t, f.realtime.last().Enabled)
}

func TestDashboard_TokenExpiryDisablesRealtime(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Minute))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}, RealtimeEnabled: true})
	require.NoError(t, d.Start(context.Background()))

	f.clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(f.feed.List()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Notification{{Level: domain.LevelWarning, Message: msgExpired}}, f.feed.List())
	assert.Equal(t, 2, f.realtime.startCount())
	assert.False(t, f.realtime.last().Enabled)
	assert.ErrorIs(t, d.Ready(context.Background()), domain.ErrNotAuthenticated)
	assert.False(t, d.Status().RealtimeEnabled)
	require.Eventually(t, func() bool { return len(f.status.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.ConnectionState{domain.StateDisconnected}, f.status.all())
}

func TestDashboard_ShutdownCancelsExpiry(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Minute))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}, RealtimeEnabled: true})
	require.NoError(t, d.Start(context.Background()))

	d.Shutdown()
	f.clock.Advance(time.Hour)

	assert.True(t, f.realtime.closed)
	assert.True(t, f.tracker.stopped)
	assert.Equal(t, 1, f.realtime.startCount())
}

func TestDashboard_CallbacksFeedComponents(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}, RealtimeEnabled: true})
	require.NoError(t, d.Start(context.Background()))
	opts := f.realtime.last()

	opts.OnConnect()
	opts.OnDisconnect()
	opts.OnError(errors.New("boom"))
	opts.OnStatus(domain.StateConnecting)
	opts.OnMessage(domain.ProgressEvent{ChannelID: 3, ErrorDetails: []string{}})

	assert.Equal(t, []domain.Notification{
		{Level: domain.LevelSuccess, Message: msgConnected},
		{Level: domain.LevelWarning, Message: msgDisconnected},
		{Level: domain.LevelError, Message: msgChannelError},
	}, f.feed.List())
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting}, f.status.all())

	jobs, err := d.Progress()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 3, jobs[0].ChannelID())
}

func TestDashboard_DelegatesActions(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}})
	require.NoError(t, d.Start(context.Background()))

	listing, err := d.Matches(context.Background())
	require.NoError(t, err)
	assert.Len(t, listing.Matches, 1)

	resp, err := d.Broadcast(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Equal(t, []int{7}, f.trigger.calls)
}

func TestDashboard_ViewerSnapshot(t *testing.T) {
	token := signToken(t, domain.RoleAdmin, epoch.Add(time.Hour))
	d, f := newDashboard(t, Config{Session: session.Config{Token: token}, RealtimeEnabled: true})
	require.NoError(t, d.Start(context.Background()))
	f.realtime.last().OnMessage(domain.ProgressEvent{ChannelID: 9, TotalSent: 2, SentCount: 1, ErrorDetails: []string{}})

	raw, err := d.ViewerSnapshot(context.Background())
	require.NoError(t, err)

	snap, ok := raw.(Snapshot)
	require.True(t, ok)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, 50, snap.Jobs[0].Percent)
	assert.True(t, snap.Status.Authenticated)
}
