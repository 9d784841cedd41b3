// Package inmem is an in-process broker with pull and acknowledge semantics.
// Messages that are pulled but not acknowledged within the ack deadline are
// delivered again.
package inmem

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/infigaming-com/pubsub-gateway/pubsub"
	"github.com/infigaming-com/pubsub-gateway/util"
)

var (
	ErrTopicNotFound        = errors.New("inmem: topic not found")
	ErrSubscriptionNotFound = errors.New("inmem: subscription not found")
	ErrClosed               = errors.New("inmem: transport closed")
)

type Option func(*Transport)

// WithAckDeadline sets how long a pulled message stays outstanding.
func WithAckDeadline(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.ackDeadline = d
		}
	}
}

// WithAutoSubscribe creates unknown topics on publish together with a
// subscription of the same name.
func WithAutoSubscribe() Option {
	return func(t *Transport) {
		t.autoSubscribe = true
	}
}

// WithPublishFailure makes every publish for which fn returns an error fail.
func WithPublishFailure(fn func(topic string, env *pubsub.Envelope) error) Option {
	return func(t *Transport) {
		t.publishFailure = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
	}
}

type Transport struct {
	mu             sync.Mutex
	topics         map[string][]string
	subs           map[string]*subscription
	seq            int64
	closed         bool
	ackDeadline    time.Duration
	autoSubscribe  bool
	publishFailure func(topic string, env *pubsub.Envelope) error
	now            func() time.Time
}

type subscription struct {
	pending     []*entry
	outstanding map[string]*entry
}

type entry struct {
	seq        int64
	msg        pubsub.ReceivedMessage
	deliveries int
	deadline   time.Time
}

func New(opts ...Option) *Transport {
	t := &Transport{
		topics:      map[string][]string{},
		subs:        map[string]*subscription{},
		ackDeadline: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) CreateTopic(topic string) error {
	if topic == "" {
		return errors.New("inmem: topic required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.topics[topic]; !ok {
		t.topics[topic] = nil
	}
	return nil
}

func (t *Transport) CreateSubscription(name, topic string) error {
	if name == "" {
		return errors.New("inmem: subscription required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.topics[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	if _, ok := t.subs[name]; ok {
		return fmt.Errorf("inmem: subscription %s already exists", name)
	}
	t.subs[name] = &subscription{outstanding: map[string]*entry{}}
	t.topics[topic] = append(t.topics[topic], name)
	return nil
}

func (t *Transport) Publish(ctx context.Context, topic string, env *pubsub.Envelope) pubsub.PublishResult {
	res := &result{ready: make(chan struct{})}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	if err := ctx.Err(); err != nil {
		res.resolve("", err)
		return res
	}
	data := append([]byte(nil), env.Data...)
	attrs := clone(env.Attributes)
	orderingKey := env.OrderingKey
	go func() {
		res.resolve(t.deliver(topic, &pubsub.Envelope{Data: data, Attributes: attrs, OrderingKey: orderingKey}))
	}()
	return res
}

func (t *Transport) deliver(topic string, env *pubsub.Envelope) (string, error) {
	if t.publishFailure != nil {
		if err := t.publishFailure(topic, env); err != nil {
			return "", err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	names, ok := t.topics[topic]
	if !ok {
		if !t.autoSubscribe {
			return "", fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
		}
		names = []string{topic}
		t.topics[topic] = names
		if _, exists := t.subs[topic]; !exists {
			t.subs[topic] = &subscription{outstanding: map[string]*entry{}}
		}
	}
	t.seq++
	id := strconv.FormatInt(t.seq, 10)
	publishedAt := t.now()
	for _, name := range names {
		sub := t.subs[name]
		sub.pending = append(sub.pending, &entry{seq: t.seq, msg: pubsub.ReceivedMessage{
			Envelope: pubsub.Envelope{
				ID:          id,
				Data:        append([]byte(nil), env.Data...),
				Attributes:  clone(env.Attributes),
				OrderingKey: env.OrderingKey,
			},
			PublishTime: publishedAt,
		}})
	}
	return id, nil
}

func (t *Transport) Pull(ctx context.Context, name string, maxMessages int) ([]*pubsub.ReceivedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	sub, ok := t.subs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, name)
	}
	now := t.now()
	t.expire(sub, now)

	n := min(maxMessages, len(sub.pending))
	out := make([]*pubsub.ReceivedMessage, 0, n)
	for _, e := range sub.pending[:n] {
		e.deliveries++
		e.deadline = now.Add(t.ackDeadline)
		e.msg.AckID = util.NewUUID()
		e.msg.Attempt = e.deliveries
		sub.outstanding[e.msg.AckID] = e
		delivered := e.msg
		delivered.Data = append([]byte(nil), e.msg.Data...)
		delivered.Attributes = clone(e.msg.Attributes)
		out = append(out, &delivered)
	}
	sub.pending = sub.pending[n:]
	return out, nil
}

// expire moves outstanding entries past their deadline back to the front of
// the pending queue, oldest publish first.
func (t *Transport) expire(sub *subscription, now time.Time) {
	var expired []*entry
	for ackID, e := range sub.outstanding {
		if !now.Before(e.deadline) {
			expired = append(expired, e)
			delete(sub.outstanding, ackID)
		}
	}
	if len(expired) == 0 {
		return
	}
	slices.SortFunc(expired, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })
	sub.pending = append(expired, sub.pending...)
}

// Acknowledge ignores ack ids that are unknown or already expired, like a
// real broker does.
func (t *Transport) Acknowledge(ctx context.Context, name string, ackIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	sub, ok := t.subs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, name)
	}
	for _, ackID := range ackIDs {
		delete(sub.outstanding, ackID)
	}
	return nil
}

// Backlog reports pending and outstanding message counts of a subscription.
func (t *Transport) Backlog(name string) (pending int, outstanding int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[name]
	if !ok {
		return 0, 0
	}
	return len(sub.pending), len(sub.outstanding)
}

func (t *Transport) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type result struct {
	ready chan struct{}
	id    string
	err   error
}

func (r *result) resolve(id string, err error) {
	r.id, r.err = id, err
	close(r.ready)
}

func (r *result) Ready() <-chan struct{} { return r.ready }

func (r *result) Get(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.ready:
		return r.id, r.err
	}
}

func clone(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
