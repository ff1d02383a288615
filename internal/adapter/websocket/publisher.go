package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/centrifugal/centrifuge"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
)

type progressUpdate struct {
	Jobs []domain.JobView `json:"jobs"`
}

type statusUpdate struct {
	State domain.ConnectionState `json:"state"`
}

// Publisher pushes tracker snapshots, feed changes and channel status to
// viewers.
type Publisher struct {
	node      *centrifuge.Node
	wsMetrics *metrics.WebSocketMetrics
}

var (
	_ domain.ProgressPublisher     = (*Publisher)(nil)
	_ domain.NotificationPublisher = (*Publisher)(nil)
)

func NewPublisher(node *centrifuge.Node, wsMetrics *metrics.WebSocketMetrics) *Publisher {
	return &Publisher{node: node, wsMetrics: wsMetrics}
}

func (p *Publisher) PublishProgress(ctx context.Context, jobs []domain.JobProgress) error {
	return p.publish(ctx, ChannelProgress, progressUpdate{Jobs: domain.Views(jobs)})
}

func (p *Publisher) PublishNotification(ctx context.Context, ev domain.NotificationEvent) error {
	return p.publish(ctx, ChannelNotifications, ev)
}

func (p *Publisher) PublishStatus(ctx context.Context, state domain.ConnectionState) error {
	return p.publish(ctx, ChannelStatus, statusUpdate{State: state})
}

func (p *Publisher) publish(ctx context.Context, channel string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s update: %w", channel, err)
	}

	if _, err := p.node.Publish(channel, data); err != nil {
		return fmt.Errorf("publish to channel %s: %w", channel, err)
	}

	if p.wsMetrics != nil {
		p.wsMetrics.MessagesPublished.WithLabelValues(channel).Inc()
	}
	return nil
}
