package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"courtside/internal/core/pubsub"
)

// broker manages in-memory message routing. Not exported.
type broker struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	closed        atomic.Bool
}

// subscription represents a single consumer's subscription.
type subscription struct {
	pattern    string
	msgCh      chan pubsub.Message
	ctx        context.Context
	cancelFunc context.CancelFunc
}

func newBroker() *broker {
	return &broker{
		subscriptions: make(map[uint64]*subscription),
	}
}

// publish sends a message to all matching subscriptions. Subscribers
// with full buffers are skipped rather than blocking the publisher.
func (b *broker) publish(ctx context.Context, topic string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := &memoryMessage{
		data:      data,
		topic:     topic,
		timestamp: time.Now(),
	}
	for _, sub := range b.subscriptions {
		if !matchTopic(sub.pattern, topic) {
			continue
		}
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
			// Subscription cancelled, skip
		default:
			// Slow subscriber, drop rather than block the broker.
		}
	}
	return nil
}

// subscribe creates a subscription for the given pattern.
// Returns the message channel, an unsubscribe function, and any error.
func (b *broker) subscribe(ctx context.Context, pattern string, bufSize int) (<-chan pubsub.Message, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrEngineClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	msgCh := make(chan pubsub.Message, bufSize)
	id := b.nextID.Add(1)

	sub := &subscription{
		pattern:    pattern,
		msgCh:      msgCh,
		ctx:        subCtx,
		cancelFunc: cancel,
	}
	b.subscriptions[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subscriptions[id] == sub {
			delete(b.subscriptions, id)
			cancel()
			close(msgCh)
		}
	}

	return msgCh, unsubscribe, nil
}

// close shuts down the broker and all subscriptions.
func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil // Already closed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscriptions {
		sub.cancelFunc()
		close(sub.msgCh)
		delete(b.subscriptions, id)
	}
	return nil
}

func (b *broker) isClosed() bool {
	return b.closed.Load()
}
