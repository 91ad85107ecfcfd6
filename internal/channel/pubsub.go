package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Pub/Sub message attributes.
const (
	AttrEvent     = "event"
	AttrProjectID = "projectId"
	AttrUserID    = "userId"
)

// PubSubConfig identifies a Google Cloud Pub/Sub topic and subscription.
// When PUBSUB_EMULATOR_HOST is set the client talks to the emulator.
type PubSubConfig struct {
	Project         string
	Topic           string
	Subscription    string
	CredentialsFile string
}

func (c PubSubConfig) options() []option.ClientOption {
	var opts []option.ClientOption
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// PubSub receives events from a Pub/Sub subscription. Every message carries
// the event kind and its routing scope as attributes; messages for other
// scopes are acknowledged and skipped.
type PubSub struct {
	client *pubsub.Client
	cfg    PubSubConfig
	logger *slog.Logger
}

// NewPubSub creates a Pub/Sub client for cfg.Project.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger *slog.Logger) (*PubSub, error) {
	if cfg.Project == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("pubsub: project and subscription are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := pubsub.NewClient(ctx, cfg.Project, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSub{client: client, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying client.
func (p *PubSub) Close() error {
	return p.client.Close()
}

// Subscribe starts receiving in the background. Receive errors are retried
// after a pause, followed by Resync().
func (p *PubSub) Subscribe(ctx context.Context, scope Scope) (<-chan Event, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	sub := p.client.Subscription(p.cfg.Subscription)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", p.cfg.Subscription, err)
	}
	if !ok {
		return nil, fmt.Errorf("subscription %s does not exist", p.cfg.Subscription)
	}

	out := make(chan Event, DefaultBuffer)
	go func() {
		defer close(out)
		backoff := time.Second
		for {
			err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
				defer m.Ack()
				ev, err := decodeMessage(m)
				if err != nil {
					p.logger.Warn("dropping event", "subscription", p.cfg.Subscription, "id", m.ID, "err", err)
					return
				}
				if ev.Matches(scope) {
					send(ctx, out, ev)
				}
			})
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("pubsub receive stopped", "subscription", p.cfg.Subscription, "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			if !send(ctx, out, Resync()) {
				return
			}
		}
	}()
	return out, nil
}

func decodeMessage(m *pubsub.Message) (Event, error) {
	ev, err := Decode(m.Attributes[AttrEvent], m.Data)
	if err != nil {
		return Event{}, err
	}
	if v := m.Attributes[AttrProjectID]; v != "" {
		ev.ProjectID = v
	}
	if v := m.Attributes[AttrUserID]; v != "" {
		ev.UserID = v
	}
	return ev, nil
}

// PubSubPublisher publishes events to a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher creates a publisher for cfg.Topic. The topic must exist.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	if cfg.Project == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub: project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.Project, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check topic %s: %w", cfg.Topic, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("topic %s does not exist", cfg.Topic)
	}
	return &PubSubPublisher{client: client, topic: topic}, nil
}

// Publish sends e and waits for the server to accept it.
func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	kind, data, err := Encode(e)
	if err != nil {
		return err
	}
	attrs := map[string]string{AttrEvent: string(kind)}
	if e.ProjectID != "" {
		attrs[AttrProjectID] = e.ProjectID
	}
	if e.UserID != "" {
		attrs[AttrUserID] = e.UserID
	}
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
