package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/infigaming-com/pubsub-gateway/pubsub/internal/backoff"
)

// Client is safe for concurrent use by overlapping requests; it holds no
// per-request state.
type Client struct {
	transport Transport
	opts      options

	mu     sync.RWMutex
	closed bool
}

func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("pubsub: transport required")
	}
	base := defaultOptions()
	for _, opt := range opts {
		opt(&base)
	}
	return &Client{
		transport: transport,
		opts:      base,
	}, nil
}

// Publish encodes payload as JSON and hands it to the transport without
// waiting. Encoding and validation failures come back as an already resolved
// result.
func (c *Client) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) PublishResult {
	if topic == "" {
		return newFailedResult(errors.New("pubsub: topic required"))
	}
	if err := c.guard(); err != nil {
		return newFailedResult(err)
	}
	po := defaultPublishOptions()
	for _, opt := range opts {
		opt(&po)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return newFailedResult(fmt.Errorf("pubsub: encode: %w", err))
	}
	env := &Envelope{Data: data, Attributes: po.attributes}
	attrs := cloneMap(env.Attributes)
	return &observedResult{
		PublishResult: c.transport.Publish(ctx, topic, env),
		onResolve: func(_ string, err error) {
			if err == nil {
				if c.opts.hooks.OnPublish != nil {
					c.opts.hooks.OnPublish(ctx, topic, attrs)
				}
				return
			}
			c.logger().Warn(ctx, "publish failed", "topic", topic, "err", err)
			if c.opts.hooks.OnPublishFail != nil {
				c.opts.hooks.OnPublishFail(ctx, topic, attrs, err)
			}
		},
	}
}

// Pull performs one non-blocking pull. A broker side deadline is reported as
// ErrPullTimeout.
func (c *Client) Pull(ctx context.Context, subscription string, maxMessages int) ([]*Message, error) {
	if subscription == "" {
		return nil, errors.New("pubsub: subscription required")
	}
	if maxMessages <= 0 {
		return nil, errors.New("pubsub: max messages must be positive")
	}
	if err := c.guard(); err != nil {
		return nil, err
	}
	received, err := c.transport.Pull(ctx, subscription, maxMessages)
	if err != nil {
		if errors.Is(err, ErrPullTimeout) || errors.Is(err, context.DeadlineExceeded) {
			if c.opts.hooks.OnPullTimeout != nil {
				c.opts.hooks.OnPullTimeout(ctx, subscription)
			}
			return nil, fmt.Errorf("%w: %v", ErrPullTimeout, err)
		}
		return nil, err
	}
	msgs := make([]*Message, 0, len(received))
	for _, rm := range received {
		if rm == nil {
			continue
		}
		msgs = append(msgs, newMessage(rm))
	}
	if c.opts.hooks.OnPull != nil {
		c.opts.hooks.OnPull(ctx, subscription, len(msgs))
	}
	return msgs, nil
}

// Acknowledge acknowledges all msgs with a single transport call. A transient
// failure retries that call for the whole set, so one batch can still cost up
// to RetryPolicy.MaxAttempts acknowledge calls; messages are never acknowledged
// one by one.
func (c *Client) Acknowledge(ctx context.Context, subscription string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if subscription == "" {
		return errors.New("pubsub: subscription required")
	}
	ackIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ackIDs = append(ackIDs, m.AckID())
	}
	policy := c.opts.retryPolicy
	bo := backoff.New(backoff.Config{Initial: policy.InitialBackoff, Max: policy.MaxBackoff, Multiplier: policy.Multiplier, Jitter: policy.Jitter})
	var attempt int
	for {
		attempt++
		err := c.transport.Acknowledge(ctx, subscription, ackIDs)
		if err == nil {
			if c.opts.hooks.OnAck != nil {
				c.opts.hooks.OnAck(ctx, subscription, len(ackIDs))
			}
			return nil
		}
		if isPermanent(err) || attempt >= policy.MaxAttempts {
			if c.opts.hooks.OnAckFail != nil {
				c.opts.hooks.OnAckFail(ctx, subscription, len(ackIDs), err)
			}
			return err
		}
		delay := bo.Next()
		c.logger().Warn(ctx, "acknowledge retry", "subscription", subscription, "attempt", attempt, "delay", delay.String(), "err", err)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
}

func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.transport.Close(ctx)
}

func (c *Client) guard() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("pubsub: client closed")
	}
	return nil
}

func (c *Client) logger() Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func isPermanent(err error) bool {
	var perm permanentError
	return errors.As(err, &perm)
}
