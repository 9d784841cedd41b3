package pubsub

import (
	"context"

	"go.uber.org/zap"

	"github.com/infigaming-com/pubsub-gateway/util"
)

type zapLogger struct {
	lg *zap.Logger
}

// NewZapLogger adapts lg to Logger. Entries carry the correlation id found in
// the context.
func NewZapLogger(lg *zap.Logger) Logger {
	if lg == nil {
		lg = zap.L()
	}
	return zapLogger{lg: lg.WithOptions(zap.AddCallerSkip(1))}
}

func (z zapLogger) Debug(ctx context.Context, msg string, kv ...any) {
	util.LoggerFromCtx(ctx, z.lg).Sugar().Debugw(msg, kv...)
}

func (z zapLogger) Info(ctx context.Context, msg string, kv ...any) {
	util.LoggerFromCtx(ctx, z.lg).Sugar().Infow(msg, kv...)
}

func (z zapLogger) Warn(ctx context.Context, msg string, kv ...any) {
	util.LoggerFromCtx(ctx, z.lg).Sugar().Warnw(msg, kv...)
}

func (z zapLogger) Error(ctx context.Context, msg string, kv ...any) {
	util.LoggerFromCtx(ctx, z.lg).Sugar().Errorw(msg, kv...)
}
