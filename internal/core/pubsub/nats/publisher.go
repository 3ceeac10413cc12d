package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"courtside/internal/core/pubsub"
)

// natsPublisher implements pubsub.Publisher on a core NATS connection.
// Realtime fan-out is at-most-once; JetStream durability is not needed
// because the history store is the safety net for persistent events.
type natsPublisher struct {
	conn   *nats.Conn
	prefix string
	opts   pubsub.PublisherOptions
}

// Publish sends a message to the subject derived from the topic.
func (p *natsPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	start := time.Now()

	subject := topicToSubject(p.prefix, topic)
	err := p.conn.Publish(subject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(topic, err, time.Since(start))
	}

	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close releases resources. The connection is owned by the provider.
func (p *natsPublisher) Close() error {
	return nil
}
