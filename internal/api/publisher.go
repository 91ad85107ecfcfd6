package api

import (
	"context"
	"fmt"

	"github.com/marcus/boardsync/internal/channel"
)

// PublisherFromConfig returns a Pub/Sub publisher for the configured topic,
// or nil when Pub/Sub publishing is not configured. The caller closes it.
func PublisherFromConfig(ctx context.Context, cfg Config) (*channel.PubSubPublisher, error) {
	if cfg.PubSubProject == "" {
		return nil, nil
	}
	p, err := channel.NewPubSubPublisher(ctx, channel.PubSubConfig{
		Project:         cfg.PubSubProject,
		Topic:           cfg.PubSubTopic,
		CredentialsFile: cfg.PubSubCredsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	return p, nil
}
