// Package nats provides a NATS-backed broadcast transport. Topic paths
// are mapped onto NATS subjects by swapping slashes for dots.
package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"courtside/internal/core/pubsub"
)

// Config holds the NATS transport configuration.
type Config struct {
	// URL is the NATS server address.
	URL string `yaml:"url"`

	// SubjectPrefix is prepended to all derived subjects.
	SubjectPrefix string `yaml:"subject_prefix"`

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns the default NATS transport configuration.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		SubjectPrefix:  "courtside",
		ConnectTimeout: 10 * time.Second,
	}
}

// Provider implements pubsub.Provider over a single NATS connection.
type Provider struct {
	conn *nats.Conn
	cfg  Config
}

var _ pubsub.Provider = (*Provider)(nil)

// NewProvider connects to NATS and returns a transport provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}
	return &Provider{conn: conn, cfg: cfg}, nil
}

// NewPublisher creates a publisher on the shared connection.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.conn == nil || p.conn.IsClosed() {
		return nil, fmt.Errorf("nats connection is closed")
	}
	return &natsPublisher{conn: p.conn, prefix: p.cfg.SubjectPrefix, opts: opts}, nil
}

// NewConsumer creates a consumer on the shared connection.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.conn == nil || p.conn.IsClosed() {
		return nil, fmt.Errorf("nats connection is closed")
	}
	return &natsConsumer{conn: p.conn, prefix: p.cfg.SubjectPrefix, opts: opts}, nil
}

// Close drains and closes the connection.
func (p *Provider) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

// topicToSubject maps a slash-delimited topic onto a NATS subject.
func topicToSubject(prefix, topic string) string {
	subject := strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", ".")
	if prefix != "" {
		return prefix + "." + subject
	}
	return subject
}

// subjectToTopic restores the slash-delimited topic from a subject.
func subjectToTopic(prefix, subject string) string {
	if prefix != "" {
		subject = strings.TrimPrefix(subject, prefix+".")
	}
	return "/" + strings.ReplaceAll(subject, ".", "/")
}
