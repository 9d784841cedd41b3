package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	subscriber "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/infigaming-com/pubsub-gateway/pubsub"
)

type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	CredentialsFile string
	Endpoint        string
	EmulatorHost    string
	UserAgent       string
	// ClientOptions are applied to both the publisher and the subscriber client.
	ClientOptions []option.ClientOption
	Client        *gcppubsub.Client
	Subscriber    *subscriber.SubscriberClient
	Logger        pubsub.Logger
	Publish       *PublishSettings
}

// PublishSettings overrides the batching of the SDK publisher.
type PublishSettings struct {
	DelayThreshold time.Duration
	CountThreshold int
	ByteThreshold  int
	Timeout        time.Duration
}

type topicKey struct {
	name    string
	ordered bool
}

type transport struct {
	client         *gcppubsub.Client
	subscriber     *subscriber.SubscriberClient
	projectID      string
	ownsClient     bool
	ownsSubscriber bool
	logger         pubsub.Logger
	publish        *PublishSettings

	mu     sync.Mutex
	topics map[topicKey]*gcppubsub.Topic
}

func New(ctx context.Context, cfg Config) (pubsub.Transport, error) {
	projectID := cfg.ProjectID
	if projectID == "" && cfg.Client != nil {
		projectID = cfg.Client.Project()
	}
	if projectID == "" {
		return nil, errors.New("googlepubsub: project id required")
	}
	opts := clientOptions(cfg)

	t := &transport{
		client:     cfg.Client,
		subscriber: cfg.Subscriber,
		projectID:  projectID,
		logger:     cfg.Logger,
		publish:    cfg.Publish,
		topics:     map[topicKey]*gcppubsub.Topic{},
	}
	if t.logger == nil {
		t.logger = noopLogger{}
	}

	if t.client == nil {
		client, err := gcppubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("googlepubsub: create client: %w", err)
		}
		t.client = client
		t.ownsClient = true
	}
	if t.subscriber == nil {
		sub, err := subscriber.NewSubscriberClient(ctx, opts...)
		if err != nil {
			if t.ownsClient {
				_ = t.client.Close()
			}
			return nil, fmt.Errorf("googlepubsub: create subscriber client: %w", err)
		}
		t.subscriber = sub
		t.ownsSubscriber = true
	}
	return t, nil
}

func clientOptions(cfg Config) []option.ClientOption {
	opts := make([]option.ClientOption, 0, 5+len(cfg.ClientOptions))
	if cfg.EmulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	} else {
		if len(cfg.CredentialsJSON) > 0 {
			opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
		} else if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
	}
	if cfg.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(cfg.UserAgent))
	}
	return append(opts, cfg.ClientOptions...)
}

func (t *transport) Publish(ctx context.Context, topic string, env *pubsub.Envelope) pubsub.PublishResult {
	if topic == "" {
		return failed(errors.New("googlepubsub: topic required"))
	}
	if env == nil {
		env = &pubsub.Envelope{}
	}
	msg := &gcppubsub.Message{
		Data:        append([]byte(nil), env.Data...),
		Attributes:  cloneMap(env.Attributes),
		OrderingKey: env.OrderingKey,
	}
	res := t.topic(topic, env.OrderingKey != "").Publish(ctx, msg)
	return &publishResult{res: res, topic: topic}
}

// topic returns the cached handle so that publishes to one topic share the
// SDK's batching and goroutines.
func (t *transport) topic(name string, ordered bool) *gcppubsub.Topic {
	key := topicKey{name: name, ordered: ordered}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tp, ok := t.topics[key]; ok {
		return tp
	}
	var tp *gcppubsub.Topic
	if project, id, ok := splitResource(name, "topics"); ok {
		tp = t.client.TopicInProject(id, project)
	} else {
		tp = t.client.Topic(name)
	}
	tp.EnableMessageOrdering = ordered
	if s := t.publish; s != nil {
		if s.DelayThreshold > 0 {
			tp.PublishSettings.DelayThreshold = s.DelayThreshold
		}
		if s.CountThreshold > 0 {
			tp.PublishSettings.CountThreshold = s.CountThreshold
		}
		if s.ByteThreshold > 0 {
			tp.PublishSettings.ByteThreshold = s.ByteThreshold
		}
		if s.Timeout > 0 {
			tp.PublishSettings.Timeout = s.Timeout
		}
	}
	t.topics[key] = tp
	return tp
}

func (t *transport) Pull(ctx context.Context, subscription string, maxMessages int) ([]*pubsub.ReceivedMessage, error) {
	if subscription == "" {
		return nil, errors.New("googlepubsub: subscription required")
	}
	name := t.subscriptionName(subscription)
	resp, err := t.subscriber.Pull(ctx, &pubsubpb.PullRequest{
		Subscription:      name,
		MaxMessages:       int32(maxMessages),
		ReturnImmediately: true, //nolint:staticcheck // non-blocking pull is the intended mode
	})
	if err != nil {
		if status.Code(err) == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			t.logger.Debug(ctx, "googlepubsub pull deadline", "subscription", name)
			return nil, fmt.Errorf("googlepubsub: pull %s: %w", subscription, pubsub.ErrPullTimeout)
		}
		return nil, fmt.Errorf("googlepubsub: pull %s: %w", subscription, classify(err))
	}
	out := make([]*pubsub.ReceivedMessage, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		m := rm.GetMessage()
		if m == nil {
			continue
		}
		received := &pubsub.ReceivedMessage{
			Envelope: pubsub.Envelope{
				ID:          m.GetMessageId(),
				Data:        m.GetData(),
				Attributes:  cloneMap(m.GetAttributes()),
				OrderingKey: m.GetOrderingKey(),
				Attempt:     int(rm.GetDeliveryAttempt()),
			},
			AckID: rm.GetAckId(),
		}
		if m.GetPublishTime() != nil {
			received.PublishTime = m.GetPublishTime().AsTime()
		}
		out = append(out, received)
	}
	return out, nil
}

func (t *transport) Acknowledge(ctx context.Context, subscription string, ackIDs []string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	err := t.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: t.subscriptionName(subscription),
		AckIds:       ackIDs,
	})
	if err != nil {
		return fmt.Errorf("googlepubsub: acknowledge %s: %w", subscription, classify(err))
	}
	return nil
}

func (t *transport) Close(context.Context) error {
	t.mu.Lock()
	topics := make([]*gcppubsub.Topic, 0, len(t.topics))
	for _, tp := range t.topics {
		topics = append(topics, tp)
	}
	t.topics = map[topicKey]*gcppubsub.Topic{}
	t.mu.Unlock()
	for _, tp := range topics {
		// flushes pending publishes
		tp.Stop()
	}

	var errs []error
	if t.ownsSubscriber {
		errs = append(errs, t.subscriber.Close())
	}
	if t.ownsClient {
		errs = append(errs, t.client.Close())
	}
	return errors.Join(errs...)
}

func (t *transport) subscriptionName(subscription string) string {
	if strings.HasPrefix(subscription, "projects/") {
		return subscription
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", t.projectID, subscription)
}

// splitResource splits "projects/{project}/{kind}/{id}".
func splitResource(name, kind string) (project string, id string, ok bool) {
	parts := strings.Split(name, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != kind {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// classify marks errors that retrying cannot fix.
func classify(err error) error {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return pubsub.ErrPermanent(err)
	}
	return err
}

type publishResult struct {
	res   *gcppubsub.PublishResult
	topic string
}

func (r *publishResult) Ready() <-chan struct{} { return r.res.Ready() }

func (r *publishResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return "", err
		}
		return "", fmt.Errorf("googlepubsub: publish %s: %w", r.topic, err)
	}
	return id, nil
}

type failedResult struct {
	err   error
	ready chan struct{}
}

func failed(err error) pubsub.PublishResult {
	ready := make(chan struct{})
	close(ready)
	return &failedResult{err: err, ready: ready}
}

func (r *failedResult) Ready() <-chan struct{} { return r.ready }

func (r *failedResult) Get(context.Context) (string, error) { return "", r.err }

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
