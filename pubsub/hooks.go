package pubsub

import "context"

type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

type Hooks struct {
	OnPublish     func(ctx context.Context, topic string, meta map[string]string)
	OnPublishFail func(ctx context.Context, topic string, meta map[string]string, err error)
	OnPull        func(ctx context.Context, subscription string, count int)
	OnPullTimeout func(ctx context.Context, subscription string)
	OnAck         func(ctx context.Context, subscription string, count int)
	OnAckFail     func(ctx context.Context, subscription string, count int, err error)
}
