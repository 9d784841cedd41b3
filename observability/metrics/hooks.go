package metrics

import (
	"context"

	"go.uber.org/zap"

	"github.com/infigaming-com/pubsub-gateway/pubsub"
)

const (
	PublishSuccess = "gateway.publish.success"
	PublishFailure = "gateway.publish.failure"
	PullMessages   = "gateway.pull.messages"
	PullTimeout    = "gateway.pull.timeout"
	AckMessages    = "gateway.ack.messages"
	AckFailure     = "gateway.ack.failure"
)

// PubsubHooks counts broker activity per topic or subscription.
func (mc *MetricExporter) PubsubHooks() pubsub.Hooks {
	add := func(ctx context.Context, name, description, key, value string, n int64) {
		if err := mc.RecordCounter(ctx, name, description, "1", n, map[string]string{key: value}); err != nil {
			zap.L().Warn("failed to record metric", zap.String("metric", name), zap.Error(err))
		}
	}
	return pubsub.Hooks{
		OnPublish: func(ctx context.Context, topic string, _ map[string]string) {
			add(ctx, PublishSuccess, "Messages accepted by the broker", "topic", topic, 1)
		},
		OnPublishFail: func(ctx context.Context, topic string, _ map[string]string, _ error) {
			add(ctx, PublishFailure, "Messages the broker rejected", "topic", topic, 1)
		},
		OnPull: func(ctx context.Context, subscription string, count int) {
			add(ctx, PullMessages, "Messages pulled", "subscription", subscription, int64(count))
		},
		OnPullTimeout: func(ctx context.Context, subscription string) {
			add(ctx, PullTimeout, "Pulls that hit the broker deadline", "subscription", subscription, 1)
		},
		OnAck: func(ctx context.Context, subscription string, count int) {
			add(ctx, AckMessages, "Messages acknowledged", "subscription", subscription, int64(count))
		},
		OnAckFail: func(ctx context.Context, subscription string, count int, _ error) {
			add(ctx, AckFailure, "Messages whose acknowledgement failed", "subscription", subscription, int64(count))
		},
	}
}
