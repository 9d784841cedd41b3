package pubsub

import (
	"context"
	"time"
)

// Transport represents a concrete broker implementation.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Publish submits envelope without waiting for the broker.
	Publish(ctx context.Context, topic string, envelope *Envelope) PublishResult
	// Pull fetches at most maxMessages pending messages and returns immediately,
	// possibly with none.
	Pull(ctx context.Context, subscription string, maxMessages int) ([]*ReceivedMessage, error)
	Acknowledge(ctx context.Context, subscription string, ackIDs []string) error
	Close(ctx context.Context) error
}

// PublishResult is the handle of one asynchronous publish.
type PublishResult interface {
	// Ready is closed once the publish resolved.
	Ready() <-chan struct{}
	// Get blocks until the publish resolved and returns the broker message id.
	Get(ctx context.Context) (string, error)
}

// Envelope holds the broker-facing message.
type Envelope struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
	Attempt     int
}

// ReceivedMessage is one message delivered by a pull.
type ReceivedMessage struct {
	Envelope
	AckID       string
	PublishTime time.Time
}
