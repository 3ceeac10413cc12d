// Package pubsub abstracts the broadcast transport used to fan realtime
// events out to connected clients. Topics are slash-delimited paths
// (e.g. /topic/games/42/chat); the core depends only on the publish
// primitive, never on the transport's connection lifecycle.
package pubsub

import (
	"context"
	"time"
)

// Message represents a received broadcast frame.
type Message interface {
	// Data returns the raw message payload.
	Data() []byte

	// Topic returns the destination the message was published to.
	Topic() string

	// Timestamp returns when the transport accepted the message.
	Timestamp() time.Time
}

// Publisher sends payloads to a destination topic.
type Publisher interface {
	// Publish sends a payload to the given topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Close releases resources.
	Close() error
}

// Consumer consumes messages matching a topic filter.
type Consumer interface {
	// Subscribe starts consuming and returns a channel. The channel is
	// closed when the context is cancelled or the provider shuts down.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// Provider constructs publishers and consumers for one transport.
type Provider interface {
	NewPublisher(opts PublisherOptions) (Publisher, error)
	NewConsumer(opts ConsumerOptions) (Consumer, error)
	Close() error
}
