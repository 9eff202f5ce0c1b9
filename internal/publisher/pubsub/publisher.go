// Package pubsub implements a Google Cloud Pub/Sub publisher for run digests.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Config identifies the topic run digests are published to.
type Config struct {
	ProjectID string
	TopicID   string
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to Pub/Sub and verifies the topic exists, so a misconfigured
// run fails at startup instead of after the work is done.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("notify.project_id is required")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("notify.topic_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist", cfg.TopicID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish marshals the payload to JSON and publishes it. The topic argument
// is ignored; the destination is fixed at construction.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending publishes and releases the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	if p.topic != nil {
		p.topic.Stop()
	}
	return p.client.Close()
}
