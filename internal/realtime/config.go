package realtime

import (
	"fmt"

	kvmongo "courtside/internal/core/kvstore/mongo"
	psnats "courtside/internal/core/pubsub/nats"
	"courtside/internal/realtime/chat"
	"courtside/internal/realtime/feed"
	"courtside/internal/realtime/filter"
	"courtside/internal/realtime/history"
	"courtside/internal/realtime/maintenance"
	"courtside/internal/realtime/presence"
	"courtside/internal/realtime/ratelimit"
	"courtside/internal/realtime/router"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Transport backends.
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Backend string         `yaml:"backend"`
	Mongo   kvmongo.Config `yaml:"mongo"`
}

// TransportConfig selects and configures the broadcast transport.
type TransportConfig struct {
	Backend string        `yaml:"backend"`
	NATS    psnats.Config `yaml:"nats"`
}

// Config aggregates every realtime component's settings.
type Config struct {
	Store       StoreConfig        `yaml:"store"`
	Transport   TransportConfig    `yaml:"transport"`
	RateLimit   ratelimit.Config   `yaml:"rate_limit"`
	Presence    presence.Config    `yaml:"presence"`
	Filter      filter.Config      `yaml:"filter"`
	History     history.Config     `yaml:"history"`
	Router      router.Config      `yaml:"router"`
	Chat        chat.Config        `yaml:"chat"`
	Feed        feed.Config        `yaml:"feed"`
	Maintenance maintenance.Config `yaml:"maintenance"`
}

// DefaultConfig returns a single-node in-process setup.
func DefaultConfig() Config {
	return Config{
		Store:       StoreConfig{Backend: StoreMemory, Mongo: kvmongo.DefaultConfig()},
		Transport:   TransportConfig{Backend: TransportMemory, NATS: psnats.DefaultConfig()},
		RateLimit:   ratelimit.DefaultConfig(),
		Presence:    presence.DefaultConfig(),
		Filter:      filter.DefaultConfig(),
		History:     history.DefaultConfig(),
		Router:      router.DefaultConfig(),
		Chat:        chat.DefaultConfig(),
		Feed:        feed.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
	}
}

// Validate checks backend selections.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreMongo:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Transport.Backend {
	case TransportMemory, TransportNATS:
	default:
		return fmt.Errorf("unknown transport backend %q", c.Transport.Backend)
	}
	return nil
}
