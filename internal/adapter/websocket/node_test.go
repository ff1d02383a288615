package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/centrifugal/centrifuge"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
)

type frame struct {
	ID      uint32 `json:"id"`
	Connect *struct {
		Subs map[string]json.RawMessage `json:"subs"`
		Data json.RawMessage            `json:"data"`
	} `json:"connect"`
	Push *struct {
		Channel string `json:"channel"`
		Pub     *struct {
			Data json.RawMessage `json:"data"`
		} `json:"pub"`
	} `json:"push"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type viewer struct {
	t    *testing.T
	conn *gorillaws.Conn
	buf  []frame
}

func (v *viewer) next() frame {
	v.t.Helper()
	for len(v.buf) == 0 {
		require.NoError(v.t, v.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := v.conn.ReadMessage()
		require.NoError(v.t, err)
		for _, line := range bytes.Split(data, []byte("\n")) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var f frame
			require.NoError(v.t, json.Unmarshal(line, &f))
			v.buf = append(v.buf, f)
		}
	}
	f := v.buf[0]
	v.buf = v.buf[1:]
	return f
}

func (v *viewer) nextPush(channel string) json.RawMessage {
	v.t.Helper()
	for {
		f := v.next()
		if f.Push != nil && f.Push.Channel == channel && f.Push.Pub != nil {
			return f.Push.Pub.Data
		}
	}
}

func startNode(t *testing.T, snapshot SnapshotFunc) (*centrifuge.Node, *metrics.WebSocketMetrics, string) {
	t.Helper()
	m := metrics.NewWebSocketMetrics(prometheus.NewRegistry())

	node, err := NewNode(NodeOptions{LogLevel: "error", Metrics: m, Snapshot: snapshot})
	require.NoError(t, err)
	require.NoError(t, node.Run())
	t.Cleanup(func() { _ = node.Shutdown(context.Background()) })

	handler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{})
	srv := httptest.NewServer(ViewerCredentials(handler))
	t.Cleanup(srv.Close)

	return node, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectViewer(t *testing.T, url string) (*viewer, frame) {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"id":1,"connect":{}}`)))

	v := &viewer{t: t, conn: conn}
	for {
		f := v.next()
		if f.ID == 1 {
			require.Nil(t, f.Error)
			require.NotNil(t, f.Connect)
			return v, f
		}
	}
}

func TestNode_ViewerSubscribedToAllChannels(t *testing.T) {
	_, m, url := startNode(t, nil)

	_, reply := connectViewer(t, url)

	assert.Contains(t, reply.Connect.Subs, ChannelProgress)
	assert.Contains(t, reply.Connect.Subs, ChannelNotifications)
	assert.Contains(t, reply.Connect.Subs, ChannelStatus)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ActiveConnections) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNode_ConnectReplyCarriesSnapshot(t *testing.T) {
	_, _, url := startNode(t, func(context.Context) (any, error) {
		return map[string]string{"status": string(domain.StateConnected)}, nil
	})

	_, reply := connectViewer(t, url)

	assert.JSONEq(t, `{"status":"connected"}`, string(reply.Connect.Data))
}

func TestPublisher_DeliversToViewers(t *testing.T) {
	node, m, url := startNode(t, nil)
	v, _ := connectViewer(t, url)
	pub := NewPublisher(node, m)
	ctx := context.Background()

	jobs := []domain.JobProgress{{Event: domain.ProgressEvent{
		ChannelID:    3,
		TotalSent:    4,
		SentCount:    1,
		ErrorDetails: []string{},
	}}}
	require.NoError(t, pub.PublishProgress(ctx, jobs))

	var progress progressUpdate
	require.NoError(t, json.Unmarshal(v.nextPush(ChannelProgress), &progress))
	require.Len(t, progress.Jobs, 1)
	assert.Equal(t, 3, progress.Jobs[0].ChannelID)
	assert.Equal(t, 25, progress.Jobs[0].Percent)
	assert.Equal(t, domain.JobInProgress, progress.Jobs[0].State)

	require.NoError(t, pub.PublishStatus(ctx, domain.StateConnecting))
	assert.JSONEq(t, `{"state":"connecting"}`, string(v.nextPush(ChannelStatus)))

	require.NoError(t, pub.PublishNotification(ctx, domain.NotificationEvent{
		Action:       domain.NotificationDismissed,
		Notification: domain.Notification{ID: "n1", Level: domain.LevelLoading},
	}))
	var ev domain.NotificationEvent
	require.NoError(t, json.Unmarshal(v.nextPush(ChannelNotifications), &ev))
	assert.Equal(t, domain.NotificationDismissed, ev.Action)
	assert.Equal(t, "n1", ev.Notification.ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesPublished.WithLabelValues(ChannelProgress)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesPublished.WithLabelValues(ChannelStatus)))
}

func TestPublisher_CanceledContext(t *testing.T) {
	node, m, _ := startNode(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPublisher(node, m).PublishStatus(ctx, domain.StateError)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, testutil.ToFloat64(m.MessagesPublished.WithLabelValues(ChannelStatus)))
}

func TestKnownChannel(t *testing.T) {
	assert.True(t, knownChannel(ChannelProgress))
	assert.False(t, knownChannel("scores:1"))
}

func TestParseCentrifugeLogLevel(t *testing.T) {
	assert.Equal(t, centrifuge.LogLevelDebug, parseCentrifugeLogLevel("debug"))
	assert.Equal(t, centrifuge.LogLevelError, parseCentrifugeLogLevel("error"))
	assert.Equal(t, centrifuge.LogLevelInfo, parseCentrifugeLogLevel("verbose"))
}
