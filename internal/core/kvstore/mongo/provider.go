// Package mongo implements kvstore.Store on MongoDB. Each primitive
// kind lives in its own collection; expiry is delegated to Mongo TTL
// indexes on expiresAt, with lazy checks guarding the TTL monitor's
// sweep delay.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		URI:      "mongodb://localhost:27017",
		Database: "courtside",
	}
}

// Provider owns a MongoDB client connection.
type Provider struct {
	client *mongo.Client
	dbName string
}

// NewProvider connects to MongoDB and verifies the connection.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)
	if clientOpts.ConnectTimeout == nil {
		timeout := 10 * time.Second
		clientOpts.SetConnectTimeout(timeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx) //nolint:errcheck
		return nil, err
	}

	return &Provider{
		client: client,
		dbName: cfg.Database,
	}, nil
}

// Database returns the configured database handle.
func (p *Provider) Database() *mongo.Database {
	return p.client.Database(p.dbName)
}

// Close closes the MongoDB connection.
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
