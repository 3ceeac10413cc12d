package pubsub

import "time"

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(topic string, err error, latency time.Duration)
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// FilterTopic filters messages by topic pattern. Patterns use the
	// topic's slash-delimited tokens: "*" matches one token, a trailing
	// ">" matches the rest. Empty means all topics.
	FilterTopic string

	// ChannelBufSize is the buffer size for the message channel.
	ChannelBufSize int
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		ChannelBufSize: 256,
	}
}
