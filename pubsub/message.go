package pubsub

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrPullTimeout reports that the broker gave up waiting for messages.
var ErrPullTimeout = errors.New("pubsub: pull deadline exceeded")

// decodeJSON keeps numbers as json.Number so integer payloads survive a
// publish and pull round trip unchanged.
func decodeJSON(data []byte, into any) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(into)
}

type permanentError struct{ Err error }

func (p permanentError) Error() string { return p.Err.Error() }

func (p permanentError) Unwrap() error { return p.Err }

// ErrPermanent marks err as not worth retrying.
func ErrPermanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{Err: err}
}

type Message struct {
	id          string
	ackID       string
	data        []byte
	attributes  map[string]string
	attempt     int
	publishTime time.Time
}

func newMessage(src *ReceivedMessage) *Message {
	return &Message{
		id:          src.ID,
		ackID:       src.AckID,
		data:        src.Data,
		attributes:  cloneMap(src.Attributes),
		attempt:     src.Attempt,
		publishTime: src.PublishTime,
	}
}

func (m *Message) ID() string { return m.id }

func (m *Message) AckID() string { return m.ackID }

// Attempt is the delivery attempt reported by the broker, or 0 when the
// broker does not track it.
func (m *Message) Attempt() int { return m.attempt }

func (m *Message) Attributes() map[string]string { return cloneMap(m.attributes) }

func (m *Message) PublishTime() time.Time { return m.publishTime }

func (m *Message) Data() []byte { return append([]byte(nil), m.data...) }

func (m *Message) Decode(into any) error {
	return decodeJSON(m.data, into)
}

// failedResult is a publish that was rejected before reaching the transport.
type failedResult struct {
	err   error
	ready chan struct{}
}

func newFailedResult(err error) *failedResult {
	ready := make(chan struct{})
	close(ready)
	return &failedResult{err: err, ready: ready}
}

func (r *failedResult) Ready() <-chan struct{} { return r.ready }

func (r *failedResult) Get(context.Context) (string, error) { return "", r.err }

// observedResult reports the resolution of a transport result exactly once.
type observedResult struct {
	PublishResult
	once      sync.Once
	onResolve func(id string, err error)
}

func (r *observedResult) Get(ctx context.Context) (string, error) {
	id, err := r.PublishResult.Get(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// the caller stopped waiting, the publish itself is still pending
		return id, err
	}
	r.once.Do(func() {
		r.onResolve(id, err)
	})
	return id, err
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(src))
	for k, v := range src {
		cloned[k] = v
	}
	return cloned
}
