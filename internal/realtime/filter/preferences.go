// Package filter decides, per user, whether an event should be
// delivered. Decisions combine per-user preferences, block lists and
// optional CEL policy rules; on any error the engine fails closed.
package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtside/internal/core/kvstore"
	"courtside/pkg/event"
)

const keyPreferences = "realtime:preferences:%s"

// Preferences is one user's delivery policy.
type Preferences struct {
	Username      string   `json:"username"`
	DisabledTypes []string `json:"disabledTypes,omitempty"`
	MutedGames    []string `json:"mutedGames,omitempty"`
	BlockedUsers  []string `json:"blockedUsers,omitempty"`

	// MinPriority drops user-targeted events below this priority.
	// Zero accepts everything.
	MinPriority event.Priority `json:"minPriority,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultPreferences allows everything.
func DefaultPreferences(username string) *Preferences {
	return &Preferences{Username: username}
}

// TypeDisabled reports whether the user opted out of an event type.
func (p *Preferences) TypeDisabled(eventType string) bool {
	return contains(p.DisabledTypes, eventType)
}

// GameMuted reports whether the user muted a game room.
func (p *Preferences) GameMuted(gameID string) bool {
	return contains(p.MutedGames, gameID)
}

// UserBlocked reports whether the user blocked a sender.
func (p *Preferences) UserBlocked(sender string) bool {
	return contains(p.BlockedUsers, sender)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}

// PreferenceSource loads user preferences. A missing user yields
// DefaultPreferences, not an error.
type PreferenceSource interface {
	Preferences(ctx context.Context, username string) (*Preferences, error)
}

// PreferenceStore extends PreferenceSource with persistence.
type PreferenceStore interface {
	PreferenceSource
	Save(ctx context.Context, prefs *Preferences) error
}

// Store keeps preferences as JSON documents in the durable store.
type Store struct {
	store kvstore.Store
	ttl   time.Duration
}

var _ PreferenceStore = (*Store)(nil)

// NewStore creates a preference store. Records expire after ttl of
// inactivity; zero means they never expire.
func NewStore(store kvstore.Store, ttl time.Duration) *Store {
	return &Store{store: store, ttl: ttl}
}

// Preferences loads a user's preferences, defaulting to allow-all.
func (s *Store) Preferences(ctx context.Context, username string) (*Preferences, error) {
	data, err := s.store.Get(ctx, fmt.Sprintf(keyPreferences, username))
	if errors.Is(err, kvstore.ErrNotFound) {
		return DefaultPreferences(username), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for %s: %w", username, err)
	}
	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences for %s: %w", username, err)
	}
	return &prefs, nil
}

// Save persists a user's preferences and refreshes their TTL.
func (s *Store) Save(ctx context.Context, prefs *Preferences) error {
	if prefs.Username == "" {
		return errors.New("preferences require a username")
	}
	prefs.UpdatedAt = time.Now()
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences for %s: %w", prefs.Username, err)
	}
	if err := s.store.Set(ctx, fmt.Sprintf(keyPreferences, prefs.Username), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", prefs.Username, err)
	}
	return nil
}
