package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/pubsub-gateway/config"
	"github.com/infigaming-com/pubsub-gateway/internal/app"
	"github.com/infigaming-com/pubsub-gateway/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("fail to load config, error: %v", err)
	}
	level, _ := cfg.ZapLevel()
	lg, flush := util.NewLogger(level)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("fail to build gateway", zap.Error(err))
	}
	lg.Info("pubsub gateway configured",
		zap.String("driver", cfg.BrokerDriver),
		zap.String("project", cfg.ProjectID),
		zap.String("strategy", cfg.PublishStrategy),
		zap.Bool("failOnError", cfg.FailOnError),
		zap.Bool("debug", cfg.Debug),
	)

	runErr := a.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		lg.Error("fail to close gateway", zap.Error(err))
	}
	if runErr != nil {
		lg.Error("web server stopped", zap.Error(runErr))
		flush()
		log.Fatal(runErr)
	}
}
