// Package ratelimit throttles event publication per sender.
package ratelimit

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Allow checks if an event from the given key should be admitted.
	// Returns true if the event is allowed, false if it should be
	// rejected.
	Allow(key string) bool

	// Reset clears the rate limit state for the given key.
	Reset(key string)
}

// Config holds the configuration for rate limiting. Both windows must
// pass for an event to be admitted.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`

	// PerMinute is the maximum number of events per rolling minute.
	PerMinute int `yaml:"per_minute"`

	// PerHour is the maximum number of events per rolling hour.
	PerHour int `yaml:"per_hour"`
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		PerMinute: 60,
		PerHour:   500,
	}
}
