package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	gwerrors "github.com/infigaming-com/pubsub-gateway/errors"
	"github.com/infigaming-com/pubsub-gateway/pubsub"
	"github.com/infigaming-com/pubsub-gateway/util"
)

const DefaultMaxMessages = 1000

var emptyArray = []byte("[]")

// MessagePuller is the consuming side of the broker client.
type MessagePuller interface {
	Pull(ctx context.Context, subscription string, maxMessages int) ([]*pubsub.Message, error)
	Acknowledge(ctx context.Context, subscription string, msgs []*pubsub.Message) error
}

// AckError reports that a batch reached the caller but could not be
// acknowledged. The broker will deliver the batch again.
type AckError struct {
	Delivered int
	Err       error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("acknowledge of %d delivered messages failed: %v", e.Delivered, e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

type Puller struct {
	broker      MessagePuller
	maxMessages int
	lg          *zap.Logger
}

func NewPuller(broker MessagePuller, maxMessages int, lg *zap.Logger) *Puller {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if lg == nil {
		lg = zap.L()
	}
	return &Puller{broker: broker, maxMessages: maxMessages, lg: lg}
}

// Deliver pulls one batch from subscription, renders it as a JSON array and
// passes the complete body to deliver. The batch is acknowledged with a single
// call only after deliver returned nil; on any earlier failure nothing is
// acknowledged and the broker redelivers the batch after its ack deadline.
//
// A broker deadline is not an error: deliver receives [] and nothing is
// acknowledged. It returns the number of acknowledged messages.
func (p *Puller) Deliver(ctx context.Context, subscription string, deliver func(body []byte) error) (int, error) {
	lg := util.LoggerFromCtx(ctx, p.lg).With(zap.String("subscription", subscription))

	msgs, err := p.broker.Pull(ctx, subscription, p.maxMessages)
	if err != nil {
		if errors.Is(err, pubsub.ErrPullTimeout) {
			lg.Warn("pull timed out, returning no messages", zap.Error(err))
			return 0, deliver(emptyArray)
		}
		return 0, gwerrors.Internal(gwerrors.ErrCodePullFailed, "pull failed", err)
	}

	body, err := renderBatch(msgs)
	if err != nil {
		lg.Error("batch left unacknowledged", zap.Int("messages", len(msgs)), zap.Error(err))
		return 0, err
	}
	if err := deliver(body); err != nil {
		lg.Warn("delivery failed, batch left unacknowledged", zap.Int("messages", len(msgs)), zap.Error(err))
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	// the caller has the batch; a disconnect now must not skip the ack
	if err := p.broker.Acknowledge(context.WithoutCancel(ctx), subscription, msgs); err != nil {
		lg.Error("acknowledge failed, batch will be redelivered", zap.Int("messages", len(msgs)), zap.Error(err))
		return 0, &AckError{Delivered: len(msgs), Err: err}
	}
	lg.Debug("batch delivered", zap.Int("messages", len(msgs)), zap.Int("redelivered", countRedelivered(msgs)))
	return len(msgs), nil
}

// countRedelivered counts messages the broker handed out more than once.
func countRedelivered(msgs []*pubsub.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Attempt() > 1 {
			n++
		}
	}
	return n
}

func renderBatch(msgs []*pubsub.Message) ([]byte, error) {
	records := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		rec, err := toRecord(m)
		if err != nil {
			return nil, gwerrors.Internal(gwerrors.ErrCodeMalformedMessage, fmt.Sprintf("message %s is not valid JSON", m.ID()), err).
				WithDetails(map[string]any{IDField: m.ID()})
		}
		records = append(records, rec)
	}
	body, err := json.Marshal(records)
	if err != nil {
		return nil, gwerrors.Internal(gwerrors.ErrCodeMalformedMessage, "render batch", err)
	}
	return body, nil
}

// toRecord decodes the message body; values that are not JSON objects are
// wrapped under "data". Broker metadata overrides same-named payload fields.
func toRecord(m *pubsub.Message) (map[string]any, error) {
	var value any
	if err := m.Decode(&value); err != nil {
		return nil, err
	}
	rec, ok := value.(map[string]any)
	if !ok {
		rec = map[string]any{DataField: value}
	}
	rec[IDField] = m.ID()
	rec[UpdatedField] = m.PublishTime().Unix()
	return rec, nil
}
