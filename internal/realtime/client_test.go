package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
)

const waitTimeout = 2 * time.Second

type testServer struct {
	url   string
	conns chan *websocket.Conn
	auth  chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		conns: make(chan *websocket.Conn, 8),
		auth:  make(chan string, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.auth <- r.Header.Get("Authorization")
		ts.conns <- conn
	}))
	t.Cleanup(srv.Close)

	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ts
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("server accepted no connection")
		return nil
	}
}

type recorder struct {
	statuses    chan domain.ConnectionState
	events      chan domain.ProgressEvent
	connects    atomic.Int32
	disconnects atomic.Int32
	errs        atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{
		statuses: make(chan domain.ConnectionState, 64),
		events:   make(chan domain.ProgressEvent, 64),
	}
}

func (r *recorder) options(endpoint string) Options {
	return Options{
		Endpoint:     endpoint,
		Enabled:      true,
		Policy:       DefaultReconnectPolicy(),
		OnMessage:    func(ev domain.ProgressEvent) { r.events <- ev },
		OnConnect:    func() { r.connects.Add(1) },
		OnDisconnect: func() { r.disconnects.Add(1) },
		OnError:      func(error) { r.errs.Add(1) },
		OnStatus:     func(s domain.ConnectionState) { r.statuses <- s },
	}
}

func (r *recorder) expectStatuses(t *testing.T, want ...domain.ConnectionState) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-r.statuses:
			require.Equal(t, w, got)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for status %q", w)
		}
	}
}

func (r *recorder) expectEvent(t *testing.T) domain.ProgressEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for progress event")
		return domain.ProgressEvent{}
	}
}

func newTestClient(t *testing.T, dialer Dialer, clock clockwork.Clock, m *metrics.RealtimeMetrics) *Client {
	t.Helper()
	c := New(dialer, clock, m)
	t.Cleanup(c.Close)
	return c
}

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errors.New("connection refused")
}

func blockUntilTimer(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestClient_ConnectAndReceive(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), nil)

	opts := rec.options(ts.url)
	opts.Header = http.Header{"Authorization": []string{"Bearer abc"}}
	client.Start(opts)

	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	server := ts.accept(t)
	assert.Equal(t, "Bearer abc", <-ts.auth)
	assert.Equal(t, domain.StateConnected, client.Status())
	assert.Equal(t, int32(1), rec.connects.Load())

	msg := `{"channel_id":3,"total_sent":4,"sent_count":2,"failed_count":0,"is_completed":false,"error_details":[]}`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(msg)))

	ev := rec.expectEvent(t)
	assert.Equal(t, 3, ev.ChannelID)
	assert.Equal(t, 2, ev.SentCount)
}

func TestClient_MalformedMessageIsDropped(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	m := metrics.NewRealtimeMetrics(prometheus.NewRegistry())
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), m)

	client.Start(rec.options(ts.url))
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	server := ts.accept(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"channel_id":`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"channel_id":9,"total_sent":1,"sent_count":1,"failed_count":0,"is_completed":true,"error_details":[]}`)))

	ev := rec.expectEvent(t)
	assert.Equal(t, 9, ev.ChannelID)
	assert.Equal(t, domain.StateConnected, client.Status())
	assert.Equal(t, int32(0), rec.disconnects.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Messages.WithLabelValues("dropped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Messages.WithLabelValues("accepted")))
}

func TestClient_DropSchedulesReconnectAfterTwoSeconds(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, websocket.DefaultDialer, clock, nil)

	client.Start(rec.options(ts.url))
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	server := ts.accept(t)

	require.NoError(t, server.Close())
	rec.expectStatuses(t, domain.StateDisconnected)
	assert.Equal(t, int32(1), rec.disconnects.Load())
	assert.Equal(t, int32(0), rec.errs.Load())

	blockUntilTimer(t, clock)
	clock.Advance(1999 * time.Millisecond)
	assert.Never(t, func() bool { return len(rec.statuses) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	clock.Advance(time.Millisecond)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	ts.accept(t)
	assert.Equal(t, int32(2), rec.connects.Load())
}

func TestClient_GivesUpAfterFiveAttempts(t *testing.T) {
	dialer := &failingDialer{}
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	m := metrics.NewRealtimeMetrics(prometheus.NewRegistry())
	client := newTestClient(t, dialer, clock, m)

	client.Start(rec.options("ws://backend.invalid/api/v1/admin/"))
	rec.expectStatuses(t, domain.StateConnecting, domain.StateError, domain.StateDisconnected)

	delays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, delay := range delays {
		blockUntilTimer(t, clock)
		clock.Advance(delay - time.Millisecond)
		assert.Never(t, func() bool { return dialer.calls.Load() > int32(i+1) }, 50*time.Millisecond, 5*time.Millisecond,
			"attempt %d fired early", i+1)

		clock.Advance(time.Millisecond)
		rec.expectStatuses(t, domain.StateConnecting, domain.StateError, domain.StateDisconnected)
		assert.Equal(t, int32(i+2), dialer.calls.Load())
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ReconnectsExhausted) == 1
	}, waitTimeout, 5*time.Millisecond)

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return dialer.calls.Load() > 6 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, domain.StateDisconnected, client.Status())
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ReconnectAttempts))
	assert.Equal(t, int32(6), rec.errs.Load())
}

func TestClient_StartAfterExhaustionRearms(t *testing.T) {
	dialer := &failingDialer{}
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, dialer, clock, nil)

	opts := rec.options("ws://backend.invalid/")
	opts.Policy = ReconnectPolicy{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Second}
	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateError, domain.StateDisconnected)

	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateError, domain.StateDisconnected)
	assert.Equal(t, int32(2), dialer.calls.Load())
}

func TestClient_StopIsIdempotentAndSilent(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), nil)

	client.Start(rec.options(ts.url))
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	server := ts.accept(t)

	client.Stop()
	client.Stop()

	assert.Equal(t, domain.StateDisconnected, client.Status())

	require.NoError(t, server.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal close frame, got %v", err)

	assert.Never(t, func() bool {
		return rec.disconnects.Load() > 0 || len(rec.statuses) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestClient_StopCancelsPendingReconnect(t *testing.T) {
	dialer := &failingDialer{}
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, dialer, clock, nil)

	client.Start(rec.options("ws://backend.invalid/"))
	rec.expectStatuses(t, domain.StateConnecting, domain.StateError, domain.StateDisconnected)
	blockUntilTimer(t, clock)

	client.Stop()
	clock.Advance(time.Minute)

	assert.Never(t, func() bool { return dialer.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestClient_DisabledNeverDials(t *testing.T) {
	dialer := &failingDialer{}
	rec := newRecorder()
	client := newTestClient(t, dialer, clockwork.NewFakeClock(), nil)

	opts := rec.options("ws://backend.invalid/")
	opts.Enabled = false
	client.Start(opts)

	assert.Equal(t, int32(0), dialer.calls.Load())
	assert.Equal(t, domain.StateDisconnected, client.Status())
}

func TestClient_DisablingTearsDownConnection(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), nil)

	opts := rec.options(ts.url)
	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	server := ts.accept(t)

	opts.Enabled = false
	client.Start(opts)

	assert.Equal(t, domain.StateDisconnected, client.Status())
	require.NoError(t, server.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := server.ReadMessage()
	assert.Error(t, err)
}

func TestClient_SameEndpointIsNoop(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), nil)

	opts := rec.options(ts.url)
	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	ts.accept(t)

	client.Start(opts)

	assert.Never(t, func() bool { return len(ts.conns) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(1), rec.connects.Load())
}

func TestClient_NewEndpointReplacesConnection(t *testing.T) {
	first := newTestServer(t)
	second := newTestServer(t)
	rec := newRecorder()
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), nil)

	client.Start(rec.options(first.url))
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	old := first.accept(t)

	client.Start(rec.options(second.url))
	second.accept(t)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)

	require.NoError(t, old.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := old.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, int32(0), rec.disconnects.Load())
}

func TestClient_CallsAfterCloseAreNoops(t *testing.T) {
	dialer := &failingDialer{}
	client := New(dialer, clockwork.NewFakeClock(), nil)

	client.Close()
	client.Close()
	client.Start(newRecorder().options("ws://backend.invalid/"))
	client.Stop()

	assert.Equal(t, int32(0), dialer.calls.Load())
	assert.Equal(t, domain.StateDisconnected, client.Status())
}

func TestClient_CallbackPanicDoesNotKillClient(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	client := newTestClient(t, websocket.DefaultDialer, clockwork.NewFakeClock(), nil)

	opts := rec.options(ts.url)
	opts.OnConnect = func() { panic("boom") }
	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	server := ts.accept(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"channel_id":1,"total_sent":1,"sent_count":0,"failed_count":0,"is_completed":false,"error_details":[]}`)))
	assert.Equal(t, 1, rec.expectEvent(t).ChannelID)
}

// serveReads runs the server side read loop so control frames get handled.
// Every ping is reported on the returned channel; answer decides whether a
// pong goes back.
func serveReads(server *websocket.Conn, answer bool) <-chan struct{} {
	pings := make(chan struct{}, 8)
	server.SetPingHandler(func(data string) error {
		pings <- struct{}{}
		if !answer {
			return nil
		}
		return server.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := server.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return pings
}

func expectPing(t *testing.T, pings <-chan struct{}) {
	t.Helper()
	select {
	case <-pings:
	case <-time.After(waitTimeout):
		t.Fatal("server received no ping")
	}
}

func TestClient_MissingPongIsTransportError(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	m := metrics.NewRealtimeMetrics(prometheus.NewRegistry())
	client := newTestClient(t, websocket.DefaultDialer, clock, m)

	opts := rec.options(ts.url)
	opts.PingInterval = 10 * time.Second
	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	pings := serveReads(ts.accept(t), false)

	blockUntilTimer(t, clock)
	clock.Advance(10 * time.Second)
	expectPing(t, pings)
	assert.Never(t, func() bool { return len(rec.statuses) > 0 }, 50*time.Millisecond, 10*time.Millisecond)

	clock.Advance(10 * time.Second)
	rec.expectStatuses(t, domain.StateError, domain.StateDisconnected)
	assert.Equal(t, int32(1), rec.errs.Load())
	assert.Equal(t, int32(1), rec.disconnects.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransportErrors))

	blockUntilTimer(t, clock)
	clock.Advance(2 * time.Second)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	ts.accept(t)
}

func TestClient_AnsweredPingsKeepConnection(t *testing.T) {
	ts := newTestServer(t)
	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, websocket.DefaultDialer, clock, nil)

	opts := rec.options(ts.url)
	opts.PingInterval = 10 * time.Second
	client.Start(opts)
	rec.expectStatuses(t, domain.StateConnecting, domain.StateConnected)
	pings := serveReads(ts.accept(t), true)

	for range 3 {
		blockUntilTimer(t, clock)
		clock.Advance(10 * time.Second)
		expectPing(t, pings)
		assert.Never(t, func() bool { return len(rec.statuses) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
	}
	assert.Equal(t, domain.StateConnected, client.Status())
	assert.Equal(t, int32(0), rec.errs.Load())
}
