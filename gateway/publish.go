package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	gwerrors "github.com/infigaming-com/pubsub-gateway/errors"
	"github.com/infigaming-com/pubsub-gateway/internal/worker"
	"github.com/infigaming-com/pubsub-gateway/pubsub"
	"github.com/infigaming-com/pubsub-gateway/util"
)

// Strategy selects how a batch waits for its publishes.
type Strategy string

const (
	// StrategySync waits for each publish before submitting the next one and
	// emits outcomes as they resolve.
	StrategySync Strategy = "sync"
	// StrategyCollect submits publishes concurrently, bounded by
	// PublisherConfig.Concurrency, and emits all outcomes in input order once
	// every publish resolved.
	StrategyCollect Strategy = "collect"
)

const CorrelationIdAttribute = "x-correlation-id"

// MessagePublisher is the publishing side of the broker client.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...pubsub.PublishOption) pubsub.PublishResult
}

type PublisherConfig struct {
	// PayloadKey, when set, publishes only that field of each record.
	PayloadKey string
	// FailOnError aborts the batch on the first failed publish.
	FailOnError bool
	Strategy    Strategy
	Concurrency int
}

type Publisher struct {
	broker MessagePublisher
	cfg    PublisherConfig
	lg     *zap.Logger
}

func NewPublisher(broker MessagePublisher, cfg PublisherConfig, lg *zap.Logger) *Publisher {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySync
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if lg == nil {
		lg = zap.L()
	}
	return &Publisher{broker: broker, cfg: cfg, lg: lg}
}

// PublishBatch publishes every record to topic and calls emit once per record,
// in input order. A nil return means emit saw exactly len(records) outcomes.
//
// Records are validated before anything is published. With FailOnError the
// first failed publish is returned as a 500 error; outcomes emitted before it
// stay emitted. Publishes already handed to the broker are not cancelled when
// ctx is.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, records []Record, emit func(Outcome) error) error {
	if err := validateRecords(records, p.cfg.PayloadKey); err != nil {
		return err
	}
	lg := util.LoggerFromCtx(ctx, p.lg).With(zap.String("topic", topic), zap.Int("records", len(records)))
	if len(records) == 0 {
		return nil
	}

	var err error
	switch p.cfg.Strategy {
	case StrategyCollect:
		err = p.publishCollect(ctx, topic, records, emit)
	default:
		err = p.publishSync(ctx, topic, records, emit)
	}
	if err != nil {
		lg.Warn("publish batch aborted", zap.Error(err))
		return err
	}
	lg.Debug("publish batch done")
	return nil
}

func (p *Publisher) publishSync(ctx context.Context, topic string, records []Record, emit func(Outcome) error) error {
	pubCtx := context.WithoutCancel(ctx)
	for i, r := range records {
		id, err := p.publishOne(pubCtx, topic, r)
		if err != nil && p.cfg.FailOnError {
			return publishFailed(i, r, err)
		}
		if err := emit(newOutcome(r, id, err)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishCollect(ctx context.Context, topic string, records []Record, emit func(Outcome) error) error {
	pubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	outcomes := make([]Outcome, len(records))
	var (
		mu       sync.Mutex
		firstErr error
	)
	pool := worker.New(min(p.cfg.Concurrency, len(records)), p.cfg.Concurrency)
	for i, r := range records {
		err := pool.Submit(pubCtx, func(jobCtx context.Context) {
			if jobCtx.Err() != nil {
				return
			}
			id, err := p.publishOne(jobCtx, topic, r)
			outcomes[i] = newOutcome(r, id, err)
			if err != nil && p.cfg.FailOnError {
				mu.Lock()
				if firstErr == nil {
					firstErr = publishFailed(i, r, err)
					cancel()
				}
				mu.Unlock()
			}
		})
		if err != nil {
			// only fails once a fail-fast cancel happened
			break
		}
	}
	pool.Close()
	pool.Wait()

	if firstErr != nil {
		return firstErr
	}
	for _, o := range outcomes {
		if err := emit(o); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, topic string, r Record) (string, error) {
	var opts []pubsub.PublishOption
	if correlationId, err := util.CorrelationIdFromCtx(ctx); err == nil {
		opts = append(opts, pubsub.WithAttributes(map[string]string{CorrelationIdAttribute: correlationId}))
	}
	return p.broker.Publish(ctx, topic, r.payload(p.cfg.PayloadKey), opts...).Get(ctx)
}

func publishFailed(index int, r Record, cause error) error {
	return gwerrors.Internal(gwerrors.ErrCodePublishFailed, fmt.Sprintf("publish of record %d failed", index), cause).
		WithDetails(map[string]any{"index": index, IDField: r.ID()})
}
