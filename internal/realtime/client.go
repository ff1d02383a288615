// Package realtime keeps a single websocket connection to the backend's admin
// progress endpoint alive and turns its messages into domain.ProgressEvent
// values.
//
// A Client is an actor: one goroutine owns the connection, the reconnect
// timer, the attempt counter and the status. Dialing and reading happen in
// helper goroutines that only post events back to the actor, tagged with the
// generation of the lifecycle they belong to. Events from an older generation
// are dropped, so nothing fires for a connection that has been torn down.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
)

const (
	closeGracePeriod    = time.Second
	stopTimeout         = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures one connection lifecycle. Callbacks run on the client's
// goroutine, one at a time, and must not call back into the Client.
type Options struct {
	Endpoint string
	Enabled  bool
	Header   http.Header
	Policy   ReconnectPolicy

	// PingInterval paces keepalive pings. A connection that has not answered
	// the previous ping when the next one is due is dropped. Defaults to 30s.
	PingInterval time.Duration

	OnMessage    func(domain.ProgressEvent)
	OnConnect    func()
	OnDisconnect func()
	OnError      func(error)
	OnStatus     func(domain.ConnectionState)
}

type clientCmd interface{ isClientCmd() }

type baseClientCmd struct{}

func (baseClientCmd) isClientCmd() {}

type startCmd struct {
	baseClientCmd
	opts  Options
	reply chan struct{}
}

type stopCmd struct {
	baseClientCmd
	reply chan struct{}
}

type closeCmd struct {
	baseClientCmd
}

type clientEvent interface{ generation() uint64 }

type dialedEvent struct {
	gen  uint64
	conn *websocket.Conn
	err  error
}

type messageEvent struct {
	gen  uint64
	data []byte
}

type closedEvent struct {
	gen uint64
	err error
}

type pongEvent struct {
	gen uint64
}

func (e dialedEvent) generation() uint64  { return e.gen }
func (e messageEvent) generation() uint64 { return e.gen }
func (e closedEvent) generation() uint64  { return e.gen }
func (e pongEvent) generation() uint64    { return e.gen }

// Client is the realtime channel client.
type Client struct {
	cmdCh     chan clientCmd
	eventCh   chan clientEvent
	done      chan struct{}
	closeOnce sync.Once

	dialer  Dialer
	clock   clockwork.Clock
	metrics *metrics.RealtimeMetrics
	status  atomic.Value

	// owned by run
	opts       Options
	active     bool
	gen        uint64
	conn       *websocket.Conn
	dialCancel context.CancelFunc
	timer      clockwork.Timer
	attempts   int
	pinger     clockwork.Ticker
	awaitPong  bool
}

// New starts the client goroutine. The client stays idle until Start is called
// with Enabled set. m may be nil.
func New(dialer Dialer, clock clockwork.Clock, m *metrics.RealtimeMetrics) *Client {
	c := &Client{
		cmdCh:   make(chan clientCmd),
		eventCh: make(chan clientEvent, 16),
		done:    make(chan struct{}),
		dialer:  dialer,
		clock:   clock,
		metrics: m,
	}
	c.status.Store(domain.StateDisconnected)
	go c.run()
	return c
}

// Start arms a connection lifecycle for opts. Starting an already armed
// lifecycle for the same endpoint does nothing; a different endpoint replaces
// it. Enabled=false tears down whatever is running.
func (c *Client) Start(opts Options) {
	reply := make(chan struct{})
	c.request(startCmd{opts: opts, reply: reply}, reply)
}

// Stop tears down the current lifecycle: the reconnect timer and any dial in
// flight are cancelled and an open connection gets a close frame. No callback
// fires afterwards. Stop is idempotent.
func (c *Client) Stop() {
	reply := make(chan struct{})
	c.request(stopCmd{reply: reply}, reply)
}

// Close stops the client for good. Later calls on the client are no-ops.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		select {
		case c.cmdCh <- closeCmd{}:
		case <-c.done:
			return
		}

		timer := c.clock.NewTimer(stopTimeout)
		defer timer.Stop()

		select {
		case <-c.done:
		case <-timer.Chan():
			slog.Warn("Realtime client close timed out", "timeout", stopTimeout)
		}
	})
}

// Status returns the current connection state.
func (c *Client) Status() domain.ConnectionState {
	return c.status.Load().(domain.ConnectionState)
}

func (c *Client) request(cmd clientCmd, reply chan struct{}) {
	select {
	case c.cmdCh <- cmd:
	case <-c.done:
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// post hands an event to the actor. It reports false once the actor is gone.
func (c *Client) post(ev clientEvent) bool {
	select {
	case c.eventCh <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Realtime client panic recovered", "panic", r)
			c.teardown()
		}
	}()

	for {
		var timerCh, pingCh <-chan time.Time
		if c.timer != nil {
			timerCh = c.timer.Chan()
		}
		if c.pinger != nil {
			pingCh = c.pinger.Chan()
		}

		select {
		case cmd := <-c.cmdCh:
			switch cm := cmd.(type) {
			case startCmd:
				c.handleStart(cm.opts)
				close(cm.reply)
			case stopCmd:
				c.teardown()
				close(cm.reply)
			case closeCmd:
				c.teardown()
				return
			default:
				slog.Warn("Realtime client received unknown command", "command_type", fmt.Sprintf("%T", cmd))
			}

		case ev := <-c.eventCh:
			c.handleEvent(ev)

		case <-timerCh:
			c.timer = nil
			c.dial()

		case <-pingCh:
			c.keepalive()
		}
	}
}

func (c *Client) handleStart(opts Options) {
	if !opts.Enabled {
		if c.active {
			slog.Info("Realtime channel disabled", "endpoint", c.opts.Endpoint)
		}
		c.teardown()
		return
	}
	if c.active && c.opts.Endpoint == opts.Endpoint {
		return
	}

	c.teardown()
	if opts.Policy.isZero() {
		opts.Policy = DefaultReconnectPolicy()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	c.opts = opts
	c.active = true
	c.dial()
}

// teardown drops the current lifecycle without firing callbacks.
func (c *Client) teardown() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.stopPinger()
	if c.conn != nil {
		closeGracefully(c.conn)
		c.conn = nil
	}
	c.active = false
	c.attempts = 0
	c.setStatus(domain.StateDisconnected, false)
}

func (c *Client) dial() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	endpoint := c.opts.Endpoint
	header := c.opts.Header.Clone()

	c.setStatus(domain.StateConnecting, true)
	slog.Debug("Dialing realtime channel", "endpoint", endpoint, "attempt", c.attempts)

	go func() {
		conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
		if !c.post(dialedEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Client) handleEvent(ev clientEvent) {
	if ev.generation() != c.gen {
		if d, ok := ev.(dialedEvent); ok && d.conn != nil {
			_ = d.conn.Close()
		}
		return
	}

	switch e := ev.(type) {
	case dialedEvent:
		c.handleDialed(e)
	case messageEvent:
		c.handleMessage(e)
	case closedEvent:
		c.handleClosed(e)
	case pongEvent:
		c.awaitPong = false
	}
}

func (c *Client) handleDialed(e dialedEvent) {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if e.err != nil {
		c.transportError(fmt.Errorf("dial %s: %w", c.opts.Endpoint, e.err))
		return
	}

	c.conn = e.conn
	c.attempts = 0
	c.awaitPong = false
	c.pinger = c.clock.NewTicker(c.opts.PingInterval)
	gen := e.gen
	e.conn.SetPongHandler(func(string) error {
		c.post(pongEvent{gen: gen})
		return nil
	})
	c.setStatus(domain.StateConnected, true)
	slog.Info("Realtime channel connected", "endpoint", c.opts.Endpoint)
	c.invoke("OnConnect", func() {
		if c.opts.OnConnect != nil {
			c.opts.OnConnect()
		}
	})

	go c.readLoop(e.gen, e.conn)
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(closedEvent{gen: gen, err: err})
			return
		}
		if !c.post(messageEvent{gen: gen, data: data}) {
			return
		}
	}
}

func (c *Client) handleMessage(e messageEvent) {
	ev, err := DecodeProgressEvent(e.data)
	if err != nil {
		slog.Warn("Dropping malformed progress message", "error", err, "size", len(e.data))
		if c.metrics != nil {
			c.metrics.Messages.WithLabelValues("dropped").Inc()
		}
		return
	}

	if c.metrics != nil {
		c.metrics.Messages.WithLabelValues("accepted").Inc()
	}
	c.invoke("OnMessage", func() {
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(ev)
		}
	})
}

func (c *Client) handleClosed(e closedEvent) {
	c.stopPinger()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	slog.Info("Realtime channel closed", "endpoint", c.opts.Endpoint, "reason", e.err)
	c.handleClose()
}

// keepalive pings the open connection. A write failure or a ping left
// unanswered for a whole interval is a transport error on a connected channel.
func (c *Client) keepalive() {
	if c.conn == nil {
		c.stopPinger()
		return
	}
	if c.awaitPong {
		c.dropConnection()
		c.transportError(fmt.Errorf("no pong from %s within %s", c.opts.Endpoint, c.opts.PingInterval))
		return
	}
	// WriteControl may run concurrently with the read loop.
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGracePeriod)); err != nil {
		c.dropConnection()
		c.transportError(fmt.Errorf("ping %s: %w", c.opts.Endpoint, err))
		return
	}
	c.awaitPong = true
}

// dropConnection closes a connection the actor has given up on. Bumping the
// generation turns the read loop's final closedEvent into a stale one.
func (c *Client) dropConnection() {
	c.stopPinger()
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) stopPinger() {
	if c.pinger != nil {
		c.pinger.Stop()
		c.pinger = nil
	}
	c.awaitPong = false
}

func (c *Client) transportError(err error) {
	slog.Warn("Realtime channel transport error", "error", err)
	if c.metrics != nil {
		c.metrics.TransportErrors.Inc()
	}
	c.setStatus(domain.StateError, true)
	c.invoke("OnError", func() {
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	})
	c.handleClose()
}

func (c *Client) handleClose() {
	c.setStatus(domain.StateDisconnected, true)
	c.invoke("OnDisconnect", func() {
		if c.opts.OnDisconnect != nil {
			c.opts.OnDisconnect()
		}
	})
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if !c.active {
		return
	}
	if c.attempts >= c.opts.Policy.MaxAttempts {
		c.active = false
		slog.Warn("Realtime reconnect attempts exhausted",
			"endpoint", c.opts.Endpoint,
			"attempts", c.attempts,
		)
		if c.metrics != nil {
			c.metrics.ReconnectsExhausted.Inc()
		}
		return
	}

	c.attempts++
	delay := c.opts.Policy.Delay(c.attempts)
	c.timer = c.clock.NewTimer(delay)
	if c.metrics != nil {
		c.metrics.ReconnectAttempts.Inc()
	}
	slog.Info("Realtime reconnect scheduled", "attempt", c.attempts, "delay", delay)
}

func (c *Client) setStatus(s domain.ConnectionState, notify bool) {
	if c.Status() == s {
		return
	}
	c.status.Store(s)
	if c.metrics != nil {
		c.metrics.State.Set(s.Gauge())
	}
	if notify {
		c.invoke("OnStatus", func() {
			if c.opts.OnStatus != nil {
				c.opts.OnStatus(s)
			}
		})
	}
}

// invoke runs a user callback, keeping the actor alive if it panics.
func (c *Client) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Realtime callback panic recovered", "callback", name, "panic", r)
		}
	}()
	fn()
}

// closeGracefully sends a close frame before closing. The deadline is on the
// wall clock since it is enforced by the network stack.
func closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	_ = conn.Close()
}
