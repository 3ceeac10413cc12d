// Package config loads the application configuration: defaults first,
// then config.yml, then config.local.yml, each overriding the last.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"courtside/internal/gateway/rest"
	"courtside/internal/gateway/ws"
	"courtside/internal/logging"
	"courtside/internal/realtime"
)

// Config holds the application configuration.
type Config struct {
	Logging  logging.Config  `yaml:"logging"`
	Realtime realtime.Config `yaml:"realtime"`
	REST     rest.Config     `yaml:"rest"`
	WS       ws.Config       `yaml:"ws"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Logging:  logging.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
		REST:     rest.DefaultConfig(),
		WS:       ws.DefaultConfig(),
	}
}

// Load reads configuration files from dir over the defaults.
// Order: defaults, then config.yml, then config.local.yml.
func Load(dir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(dir+"/"+name, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
