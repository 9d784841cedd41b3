// Package config loads the gateway configuration from the environment once at
// startup. The resulting Config is treated as immutable and handed to every
// component that needs it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
)

const (
	DriverGoogle = "google"
	DriverInmem  = "inmem"

	StrategySync    = "sync"
	StrategyCollect = "collect"
)

type Config struct {
	ProjectID          string `env:"PROJECT_ID"`
	CredentialsPath    string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	CredentialsContent string `env:"GOOGLE_APPLICATION_CREDENTIALS_CONTENT"`
	Endpoint           string `env:"PUBSUB_ENDPOINT"`
	EmulatorHost       string `env:"PUBSUB_EMULATOR_HOST"`
	BrokerDriver       string `env:"BROKER_DRIVER" envDefault:"google"`

	PayloadKey         string `env:"PAYLOAD_KEY"`
	FailOnError        bool   `env:"FAIL_ON_ERROR" envDefault:"false"`
	PublishStrategy    string `env:"PUBLISH_STRATEGY" envDefault:"sync"`
	PublishConcurrency int    `env:"PUBLISH_CONCURRENCY" envDefault:"100"`
	MaxMessages        int    `env:"MAX_MESSAGES" envDefault:"1000"`
	AckMaxAttempts     int    `env:"ACK_MAX_ATTEMPTS" envDefault:"3"`

	LogLevel           string        `env:"LOG_LEVEL" envDefault:"INFO"`
	Port               int64         `env:"PORT" envDefault:"5000"`
	Debug              bool          `env:"DEBUG" envDefault:"false"`
	WorkerThreads      int           `env:"WORKER_THREADS" envDefault:"10"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	ServiceName      string `env:"SERVICE_NAME" envDefault:"pubsub-gateway"`
	Environment      string `env:"ENVIRONMENT" envDefault:"development"`
	OTLPEndpoint     string `env:"OTLP_ENDPOINT"`
	OTLPGRPCEndpoint string `env:"OTLP_GRPC_ENDPOINT"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom is Load over an explicit environment instead of the process one.
func LoadFrom(environment map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environment})
	if err != nil {
		return cfg, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.BrokerDriver {
	case DriverGoogle:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID is required"))
		}
	case DriverInmem:
	default:
		errs = append(errs, fmt.Errorf("unknown BROKER_DRIVER %q", c.BrokerDriver))
	}
	switch c.PublishStrategy {
	case StrategySync, StrategyCollect:
	default:
		errs = append(errs, fmt.Errorf("unknown PUBLISH_STRATEGY %q", c.PublishStrategy))
	}
	if c.PublishConcurrency <= 0 {
		errs = append(errs, errors.New("PUBLISH_CONCURRENCY must be positive"))
	}
	if c.MaxMessages <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGES must be positive"))
	}
	if c.AckMaxAttempts <= 0 {
		errs = append(errs, errors.New("ACK_MAX_ATTEMPTS must be positive"))
	}
	if c.WorkerThreads <= 0 {
		errs = append(errs, errors.New("WORKER_THREADS must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if _, err := c.ZapLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ZapLevel maps LOG_LEVEL. WARNING and CRITICAL are accepted next to zap
// names and numeric zap levels.
func (c Config) ZapLevel() (zapcore.Level, error) {
	raw := strings.TrimSpace(c.LogLevel)
	if raw == "" {
		return zapcore.InfoLevel, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		lvl := zapcore.Level(n)
		if lvl < zapcore.DebugLevel || lvl > zapcore.FatalLevel {
			return zapcore.InfoLevel, fmt.Errorf("LOG_LEVEL %d out of range", n)
		}
		return lvl, nil
	}
	switch strings.ToUpper(raw) {
	case "WARNING":
		return zapcore.WarnLevel, nil
	case "CRITICAL":
		return zapcore.FatalLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// PrepareCredentials writes inline credentials to CredentialsPath when both
// are configured, so that the broker client picks them up from disk.
// It reports whether the file was written.
func (c Config) PrepareCredentials() (bool, error) {
	if c.CredentialsContent == "" || c.CredentialsPath == "" {
		return false, nil
	}
	if dir := filepath.Dir(c.CredentialsPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return false, fmt.Errorf("config: create credentials dir: %w", err)
		}
	}
	if err := os.WriteFile(c.CredentialsPath, []byte(c.CredentialsContent), 0o600); err != nil {
		return false, fmt.Errorf("config: write credentials: %w", err)
	}
	return true, nil
}

// InlineCredentials returns credentials to hand to the client in memory, i.e.
// content configured without a path to write it to.
func (c Config) InlineCredentials() []byte {
	if c.CredentialsContent == "" || c.CredentialsPath != "" {
		return nil
	}
	return []byte(c.CredentialsContent)
}

// MetricsEnabled reports whether an OTLP endpoint is configured.
func (c Config) MetricsEnabled() bool {
	return c.OTLPEndpoint != "" || c.OTLPGRPCEndpoint != ""
}
