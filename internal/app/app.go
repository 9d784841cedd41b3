// Package app wires configuration, broker client and HTTP surface together.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/infigaming-com/pubsub-gateway/config"
	"github.com/infigaming-com/pubsub-gateway/gateway"
	"github.com/infigaming-com/pubsub-gateway/observability/metrics"
	"github.com/infigaming-com/pubsub-gateway/pubsub"
	"github.com/infigaming-com/pubsub-gateway/pubsub/driver/google"
	"github.com/infigaming-com/pubsub-gateway/pubsub/driver/inmem"
	"github.com/infigaming-com/pubsub-gateway/web"
	"github.com/infigaming-com/pubsub-gateway/web/middleware"
)

const userAgent = "pubsub-gateway"

type App struct {
	cfg     config.Config
	lg      *zap.Logger
	client  *pubsub.Client
	handler *gateway.Handler
	metrics *metrics.MetricExporter
}

type Option func(*options)

type options struct {
	transport pubsub.Transport
	metrics   []metrics.Option
}

// WithTransport bypasses the configured driver.
func WithTransport(t pubsub.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithMetricOptions adds options to the metric exporter built when metrics
// are enabled.
func WithMetricOptions(opts ...metrics.Option) Option {
	return func(o *options) {
		o.metrics = append(o.metrics, opts...)
	}
}

func New(ctx context.Context, cfg config.Config, lg *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, lg: lg}

	if cfg.MetricsEnabled() || len(o.metrics) > 0 {
		mc, err := metrics.NewMetricExporter(append([]metrics.Option{
			metrics.WithServiceName(cfg.ServiceName),
			metrics.WithEnvironment(cfg.Environment),
			metrics.WithOTLPEndpoint(cfg.OTLPEndpoint),
			metrics.WithOTLPGRPCEndpoint(cfg.OTLPGRPCEndpoint),
		}, o.metrics...)...)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.metrics = mc
	}

	transport := o.transport
	if transport == nil {
		var err error
		if transport, err = newTransport(ctx, cfg, lg); err != nil {
			a.closeMetrics(ctx)
			return nil, err
		}
	}

	clientOpts := []pubsub.Option{
		pubsub.WithLogger(pubsub.NewZapLogger(lg)),
		pubsub.WithRetryPolicy(pubsub.RetryPolicy{MaxAttempts: cfg.AckMaxAttempts}),
	}
	if a.metrics != nil {
		clientOpts = append(clientOpts, pubsub.WithHooks(a.metrics.PubsubHooks()))
	}
	client, err := pubsub.New(transport, clientOpts...)
	if err != nil {
		_ = transport.Close(ctx)
		a.closeMetrics(ctx)
		return nil, err
	}
	a.client = client

	publisher := gateway.NewPublisher(client, gateway.PublisherConfig{
		PayloadKey:  cfg.PayloadKey,
		FailOnError: cfg.FailOnError,
		Strategy:    gateway.Strategy(cfg.PublishStrategy),
		Concurrency: cfg.PublishConcurrency,
	}, lg)
	puller := gateway.NewPuller(client, cfg.MaxMessages, lg)
	a.handler = gateway.NewHandler(publisher, puller, lg)
	return a, nil
}

func newTransport(ctx context.Context, cfg config.Config, lg *zap.Logger) (pubsub.Transport, error) {
	switch cfg.BrokerDriver {
	case config.DriverInmem:
		lg.Warn("using the in-memory broker, messages do not survive a restart")
		return inmem.New(inmem.WithAutoSubscribe()), nil
	case config.DriverGoogle:
		written, err := cfg.PrepareCredentials()
		if err != nil {
			return nil, err
		}
		if written {
			lg.Info("wrote service account credentials", zap.String("path", cfg.CredentialsPath))
		}
		transport, err := google.New(ctx, google.Config{
			ProjectID:       cfg.ProjectID,
			CredentialsJSON: cfg.InlineCredentials(),
			CredentialsFile: cfg.CredentialsPath,
			Endpoint:        cfg.Endpoint,
			EmulatorHost:    cfg.EmulatorHost,
			UserAgent:       userAgent,
			Logger:          pubsub.NewZapLogger(lg),
		})
		if err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}
		return transport, nil
	}
	return nil, fmt.Errorf("broker: unknown driver %q", cfg.BrokerDriver)
}

// ServerOptions returns the web server setup: middleware, routes, port,
// mode and the request concurrency limit.
func (a *App) ServerOptions() []web.Option {
	mode := gin.ReleaseMode
	limit := int64(a.cfg.WorkerThreads)
	if a.cfg.Debug {
		mode = gin.DebugMode
		limit = 1
	}

	handlers := []gin.HandlerFunc{
		middleware.CorrelationIdMiddleware(),
		middleware.LoggingMiddleware(
			middleware.WithLogger(a.lg),
			middleware.WithDebugEnabled(a.cfg.Debug),
			middleware.WithExcludePaths([]string{"/"}),
		),
		middleware.CORSMiddleware(a.cfg.CORSAllowedOrigins),
	}
	if a.metrics != nil {
		handlers = append(handlers, middleware.MetricsMiddleware(a.metrics, a.lg))
	}
	handlers = append(handlers, middleware.ConcurrencyLimitMiddleware(limit))

	return []web.Option{
		web.WithMode(mode),
		web.WithPort(a.cfg.Port),
		web.WithShutdownTimeout(a.cfg.ShutdownTimeout),
		web.WithCustomHandler(handlers...),
		web.WithRoutes(a.handler.Register),
	}
}

// Run serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return web.NewServer(a.lg, a.ServerOptions()...).ListenAndServe(ctx)
}

// Close flushes pending publishes, closes the broker and flushes metrics.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Shutdown(ctx))
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close(ctx))
	}
	return errors.Join(errs...)
}

func (a *App) closeMetrics(ctx context.Context) {
	if a.metrics != nil {
		_ = a.metrics.Close(ctx)
	}
}
