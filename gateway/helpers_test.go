package gateway

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infigaming-com/pubsub-gateway/pubsub"
	"github.com/infigaming-com/pubsub-gateway/pubsub/driver/inmem"
)

// recordingTransport counts acknowledge calls on top of a real transport.
type recordingTransport struct {
	pubsub.Transport
	mu       sync.Mutex
	ackCalls [][]string
	ackErr   error
	pullErr  error
	onAck    func()
}

func (r *recordingTransport) Pull(ctx context.Context, subscription string, maxMessages int) ([]*pubsub.ReceivedMessage, error) {
	if r.pullErr != nil {
		return nil, r.pullErr
	}
	return r.Transport.Pull(ctx, subscription, maxMessages)
}

func (r *recordingTransport) Acknowledge(ctx context.Context, subscription string, ackIDs []string) error {
	r.mu.Lock()
	r.ackCalls = append(r.ackCalls, append([]string(nil), ackIDs...))
	onAck := r.onAck
	r.mu.Unlock()
	if onAck != nil {
		onAck()
	}
	if r.ackErr != nil {
		return r.ackErr
	}
	return r.Transport.Acknowledge(ctx, subscription, ackIDs)
}

func (r *recordingTransport) acks() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.ackCalls...)
}

type fixture struct {
	broker    *inmem.Transport
	transport *recordingTransport
	client    *pubsub.Client
}

func newFixture(t *testing.T, opts ...inmem.Option) *fixture {
	t.Helper()
	broker := inmem.New(append([]inmem.Option{inmem.WithAutoSubscribe()}, opts...)...)
	transport := &recordingTransport{Transport: broker}
	client, err := pubsub.New(transport, pubsub.WithRetryPolicy(pubsub.RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}))
	require.NoError(t, err)
	return &fixture{broker: broker, transport: transport, client: client}
}

// failFor fails publishes whose JSON payload carries one of the given _id values.
func failFor(ids ...string) inmem.Option {
	return inmem.WithPublishFailure(func(_ string, env *pubsub.Envelope) error {
		for _, id := range ids {
			if bytes.Contains(env.Data, []byte(`"_id":"`+id+`"`)) {
				return errBroker
			}
		}
		return nil
	})
}

var errBroker = errorString("broker rejected message")

type errorString string

func (e errorString) Error() string { return string(e) }

func records(ids ...string) []Record {
	out := make([]Record, 0, len(ids))
	for i, id := range ids {
		out = append(out, Record{IDField: id, "seq": json.Number(string(rune('0' + i%10)))})
	}
	return out
}

func collectOutcomes(t *testing.T, p *Publisher, topic string, recs []Record) ([]Outcome, error) {
	t.Helper()
	var got []Outcome
	err := p.PublishBatch(context.Background(), topic, recs, func(o Outcome) error {
		got = append(got, o)
		return nil
	})
	return got, err
}

func decodeArray(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out []map[string]any
	require.NoError(t, dec.Decode(&out))
	return out
}

func testLogger() *zap.Logger { return zap.NewNop() }
