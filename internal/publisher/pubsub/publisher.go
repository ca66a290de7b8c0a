// Package pubsub implements a Google Cloud Pub/Sub publisher for pipeline
// completion events.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Publisher wraps a Pub/Sub client and a default topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New creates a Publisher and verifies the topic exists, so misconfiguration
// fails at startup rather than on the first document. Authentication uses
// Application Default Credentials.
func New(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Publish sends payload to the configured topic and waits for the server
// acknowledgement. The topic argument overrides the default when non-empty.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	target := p.topic
	if topic != "" && topic != p.topic.ID() {
		target = p.client.Topic(topic)
	}
	result := target.Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %q: %w", target.ID(), err)
	}
	p.logger.Debug("event published", zap.String("topic", target.ID()), zap.String("message_id", id))
	return nil
}

// Close flushes outstanding publishes and releases the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
