// Package websocket fans console state out to browser viewers over a
// centrifuge node. Every viewer is subscribed server-side to the progress,
// notifications and status channels.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/centrifugal/centrifuge"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
)

const (
	ChannelProgress      = "progress"
	ChannelNotifications = "notifications"
	ChannelStatus        = "status"
)

var channels = []string{ChannelProgress, ChannelNotifications, ChannelStatus}

// SnapshotFunc returns the state a viewer receives in its connect reply.
type SnapshotFunc func(ctx context.Context) (any, error)

type NodeOptions struct {
	LogLevel string
	Metrics  *metrics.WebSocketMetrics
	Snapshot SnapshotFunc
}

func NewNode(opts NodeOptions) (*centrifuge.Node, error) {
	conf := centrifuge.Config{LogLevel: parseCentrifugeLogLevel(opts.LogLevel), LogHandler: slogHandler}
	node, err := centrifuge.New(conf)
	if err != nil {
		return nil, fmt.Errorf("create centrifuge node: %w", err)
	}

	node.OnConnecting(onConnecting(opts.Snapshot))
	node.OnConnect(onConnect(opts.Metrics))

	return node, nil
}

func onConnecting(snapshot SnapshotFunc) func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
	return func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		subs := make(map[string]centrifuge.SubscribeOptions, len(channels))
		for _, ch := range channels {
			subs[ch] = centrifuge.SubscribeOptions{}
		}

		reply := centrifuge.ConnectReply{Subscriptions: subs}

		if snapshot != nil {
			state, err := snapshot(ctx)
			if err != nil {
				slog.Warn("Failed to build viewer snapshot", "client_id", e.ClientID, "error", err)
				return reply, nil
			}
			data, err := json.Marshal(state)
			if err != nil {
				slog.Warn("Failed to encode viewer snapshot", "client_id", e.ClientID, "error", err)
				return reply, nil
			}
			reply.Data = data
		}
		return reply, nil
	}
}

// ViewerCredentials admits a connection as an anonymous viewer. The console
// exposes no per-user data and sits behind the operator's own access controls.
func ViewerCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := centrifuge.SetCredentials(r.Context(), &centrifuge.Credentials{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func onConnect(wsMetrics *metrics.WebSocketMetrics) func(client *centrifuge.Client) {
	return func(client *centrifuge.Client) {
		slog.Debug("Viewer connected", "client_id", client.ID())

		if wsMetrics != nil {
			wsMetrics.ActiveConnections.Inc()
		}

		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			if !knownChannel(e.Channel) {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorUnknownChannel)
				return
			}
			cb(centrifuge.SubscribeReply{}, nil)
		})

		client.OnDisconnect(func(e centrifuge.DisconnectEvent) {
			slog.Debug("Viewer disconnected", "client_id", client.ID(), "reason", e.Reason)
			if wsMetrics != nil {
				wsMetrics.ActiveConnections.Dec()
			}
		})
	}
}

func knownChannel(name string) bool {
	for _, ch := range channels {
		if ch == name {
			return true
		}
	}
	return false
}

// SetupRedis switches the node to a Redis broker so several console replicas
// share one stream of viewer updates.
func SetupRedis(node *centrifuge.Node, redisURL string) error {
	shardConfig := centrifuge.RedisShardConfig{Address: redisURL}
	shard, err := centrifuge.NewRedisShard(node, shardConfig)
	if err != nil {
		return fmt.Errorf("create redis shard: %w", err)
	}

	brokerConfig := centrifuge.RedisBrokerConfig{Prefix: "footballdash", Shards: []*centrifuge.RedisShard{shard}}
	broker, err := centrifuge.NewRedisBroker(node, brokerConfig)
	if err != nil {
		return fmt.Errorf("create redis broker: %w", err)
	}
	node.SetBroker(broker)

	return nil
}

func slogHandler(entry centrifuge.LogEntry) {
	attrs := make([]any, 0, len(entry.Fields)*2)
	for k, v := range entry.Fields {
		attrs = append(attrs, k, v)
	}
	switch entry.Level {
	case centrifuge.LogLevelTrace, centrifuge.LogLevelDebug:
		slog.Debug(entry.Message, attrs...)
	case centrifuge.LogLevelInfo:
		slog.Info(entry.Message, attrs...)
	case centrifuge.LogLevelWarn:
		slog.Warn(entry.Message, attrs...)
	case centrifuge.LogLevelError:
		slog.Error(entry.Message, attrs...)
	case centrifuge.LogLevelNone:
		// EMPTY
	}
}

func parseCentrifugeLogLevel(level string) centrifuge.LogLevel {
	switch level {
	case "debug":
		return centrifuge.LogLevelDebug
	case "warn":
		return centrifuge.LogLevelWarn
	case "error":
		return centrifuge.LogLevelError
	default:
		return centrifuge.LogLevelInfo
	}
}
