package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"courtside/internal/core/pubsub"
)

// natsConsumer implements pubsub.Consumer on a core NATS connection.
type natsConsumer struct {
	conn   *nats.Conn
	prefix string
	opts   pubsub.ConsumerOptions
}

// natsMessage adapts *nats.Msg to pubsub.Message.
type natsMessage struct {
	msg       *nats.Msg
	topic     string
	timestamp time.Time
}

func (m *natsMessage) Data() []byte         { return m.msg.Data }
func (m *natsMessage) Topic() string        { return m.topic }
func (m *natsMessage) Timestamp() time.Time { return m.timestamp }

// Subscribe starts consuming messages and returns a channel.
func (c *natsConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	pattern := c.opts.FilterTopic
	if pattern == "" {
		pattern = ">"
	}
	subject := patternToSubject(c.prefix, pattern)

	bufSize := c.opts.ChannelBufSize
	if bufSize <= 0 {
		bufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}

	inbox := make(chan *nats.Msg, bufSize)
	sub, err := c.conn.ChanSubscribe(subject, inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	out := make(chan pubsub.Message, bufSize)
	go func() {
		defer close(out)
		defer sub.Unsubscribe() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				out <- &natsMessage{
					msg:       msg,
					topic:     subjectToTopic(c.prefix, msg.Subject),
					timestamp: time.Now(),
				}
			}
		}
	}()

	return out, nil
}

// patternToSubject maps a topic filter onto a NATS subject filter.
// Token wildcards translate directly: "*" stays "*", ">" stays ">".
func patternToSubject(prefix, pattern string) string {
	if pattern == ">" {
		if prefix != "" {
			return prefix + ".>"
		}
		return ">"
	}
	subject := strings.ReplaceAll(strings.TrimPrefix(pattern, "/"), "/", ".")
	if prefix != "" {
		return prefix + "." + subject
	}
	return subject
}
