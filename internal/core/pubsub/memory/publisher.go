package memory

import (
	"context"
	"sync/atomic"
	"time"

	"courtside/internal/core/pubsub"
)

// memoryPublisher implements pubsub.Publisher using an in-memory broker.
type memoryPublisher struct {
	broker *broker
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

// Publish sends a message to the specified topic.
func (p *memoryPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}

	start := time.Now()
	err := p.broker.publish(ctx, topic, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(topic, err, time.Since(start))
	}

	return err
}

// Close releases resources.
func (p *memoryPublisher) Close() error {
	p.closed.Store(true)
	return nil
}
