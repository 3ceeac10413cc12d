// Package history persists events so late joiners and returning users
// can replay what they missed. Event bodies live under one key each;
// per-scope sorted sets index them by timestamp.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courtside/internal/core/kvstore"
	"courtside/pkg/event"
)

const (
	keyEventData    = "realtime:event_data:%s"
	keyUserEvents   = "realtime:user_events:%s"
	keyGameEvents   = "realtime:game_events:%s"
	keyGlobalEvents = "realtime:global_events"
	keyTrackedUsers = "realtime:history_users"
	keyTrackedGames = "realtime:history_games"
)

// ErrNotFound is returned when an event is absent or already expired.
var ErrNotFound = errors.New("event not found")

// Config holds per-scope retention windows.
type Config struct {
	// UserTTL is retention for user-addressed events, generous because
	// users may be away for days.
	UserTTL time.Duration `yaml:"user_ttl"`

	// RoomTTL is retention for game room events.
	RoomTTL time.Duration `yaml:"room_ttl"`

	// GlobalTTL is retention for global broadcasts.
	GlobalTTL time.Duration `yaml:"global_ttl"`

	// DefaultTTL covers every other scope.
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefaultConfig returns the default retention windows.
func DefaultConfig() Config {
	return Config{
		UserTTL:    7 * 24 * time.Hour,
		RoomTTL:    24 * time.Hour,
		GlobalTTL:  3 * 24 * time.Hour,
		DefaultTTL: 24 * time.Hour,
	}
}

// Store persists and replays events.
type Store struct {
	kv     kvstore.Store
	config Config
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a history store.
func NewStore(kv kvstore.Store, cfg Config, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		config: cfg,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

func eventDataKey(id string) string        { return fmt.Sprintf(keyEventData, id) }
func userEventsKey(username string) string { return fmt.Sprintf(keyUserEvents, username) }
func gameEventsKey(gameID string) string   { return fmt.Sprintf(keyGameEvents, gameID) }

func (s *Store) ttlFor(target event.Target) time.Duration {
	switch target {
	case event.TargetUser:
		return s.config.UserTTL
	case event.TargetGameRoom:
		return s.config.RoomTTL
	case event.TargetGlobal:
		return s.config.GlobalTTL
	default:
		return s.config.DefaultTTL
	}
}

// retentionFor prefers the event's own TTL over the scope default.
func (s *Store) retentionFor(evt *event.Event) time.Duration {
	if evt.TTLSeconds > 0 {
		return time.Duration(evt.TTLSeconds) * time.Second
	}
	return s.ttlFor(evt.Target)
}

// PersistEvent writes the event body and indexes it under its scope.
// Body and index share one retention window.
func (s *Store) PersistEvent(ctx context.Context, evt *event.Event) error {
	ttl := s.retentionFor(evt)
	if err := s.writeBody(ctx, evt, ttl); err != nil {
		return err
	}

	score := float64(evt.Timestamp.UnixMilli())
	switch evt.Target {
	case event.TargetUser:
		return s.indexUser(ctx, evt.RoutingKey, evt.ID, score, ttl)
	case event.TargetGameRoom:
		if err := s.kv.ZAdd(ctx, gameEventsKey(evt.RoutingKey), evt.ID, score, ttl); err != nil {
			return fmt.Errorf("failed to index game event %s: %w", evt.ID, err)
		}
		if err := s.kv.SAdd(ctx, keyTrackedGames, evt.RoutingKey, 0); err != nil {
			return fmt.Errorf("failed to track game %s: %w", evt.RoutingKey, err)
		}
		return nil
	case event.TargetGlobal:
		if err := s.kv.ZAdd(ctx, keyGlobalEvents, evt.ID, score, ttl); err != nil {
			return fmt.Errorf("failed to index global event %s: %w", evt.ID, err)
		}
		return nil
	default:
		// Location and role fan-outs are transient; the body alone is
		// enough for by-ID lookups.
		return nil
	}
}

// StoreForOfflineUser queues an event for a user who was not connected
// when it was dispatched.
func (s *Store) StoreForOfflineUser(ctx context.Context, username string, evt *event.Event) error {
	ttl := s.config.UserTTL
	if evt.TTLSeconds > 0 {
		ttl = time.Duration(evt.TTLSeconds) * time.Second
	}
	if err := s.writeBody(ctx, evt, ttl); err != nil {
		return err
	}
	return s.indexUser(ctx, username, evt.ID, float64(evt.Timestamp.UnixMilli()), ttl)
}

func (s *Store) writeBody(ctx context.Context, evt *event.Event, ttl time.Duration) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", evt.ID, err)
	}
	if err := s.kv.Set(ctx, eventDataKey(evt.ID), data, ttl); err != nil {
		return fmt.Errorf("failed to persist event %s: %w", evt.ID, err)
	}
	return nil
}

func (s *Store) indexUser(ctx context.Context, username, eventID string, score float64, ttl time.Duration) error {
	if err := s.kv.ZAdd(ctx, userEventsKey(username), eventID, score, ttl); err != nil {
		return fmt.Errorf("failed to index user event %s: %w", eventID, err)
	}
	if err := s.kv.SAdd(ctx, keyTrackedUsers, username, 0); err != nil {
		return fmt.Errorf("failed to track user %s: %w", username, err)
	}
	return nil
}

// GetEventByID returns one event, or ErrNotFound if it is gone or
// expired.
func (s *Store) GetEventByID(ctx context.Context, id string) (*event.Event, error) {
	data, err := s.kv.Get(ctx, eventDataKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	if evt.IsExpired() {
		return nil, ErrNotFound
	}
	return &evt, nil
}

// GetEventsForUser returns a user's stored events since the given
// instant, newest first. A zero since replays from the beginning.
func (s *Store) GetEventsForUser(ctx context.Context, username string, since time.Time, limit int) ([]*event.Event, error) {
	return s.replay(ctx, userEventsKey(username), since, limit)
}

// GetGameEvents returns a game room's events since the given instant,
// newest first.
func (s *Store) GetGameEvents(ctx context.Context, gameID string, since time.Time, limit int) ([]*event.Event, error) {
	return s.replay(ctx, gameEventsKey(gameID), since, limit)
}

// GetGlobalEvents returns global broadcasts since the given instant,
// newest first.
func (s *Store) GetGlobalEvents(ctx context.Context, since time.Time, limit int) ([]*event.Event, error) {
	return s.replay(ctx, keyGlobalEvents, since, limit)
}

// ClearUserEvents drops a user's replay queue after it is drained.
func (s *Store) ClearUserEvents(ctx context.Context, username string) error {
	if err := s.kv.Delete(ctx, userEventsKey(username)); err != nil {
		return fmt.Errorf("failed to clear events for %s: %w", username, err)
	}
	return s.kv.SRem(ctx, keyTrackedUsers, username)
}

func (s *Store) replay(ctx context.Context, indexKey string, since time.Time, limit int) ([]*event.Event, error) {
	var min float64
	if !since.IsZero() {
		min = float64(since.UnixMilli())
	}
	ids, err := s.kv.ZRangeByScore(ctx, indexKey, min, float64(s.now().UnixMilli()), limit, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}

	events := make([]*event.Event, 0, len(ids))
	for _, id := range ids {
		evt, err := s.GetEventByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Body expired ahead of the index entry; skip silently.
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// Prune removes index entries older than their scope's retention and
// drops empty indexes. Returns how many entries were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	var removed int64
	now := s.now()

	users, err := s.kv.SMembers(ctx, keyTrackedUsers)
	if err != nil {
		return 0, err
	}
	for _, username := range users {
		n, err := s.pruneIndex(ctx, userEventsKey(username), now.Add(-s.config.UserTTL))
		if err != nil {
			s.logger.Warn("failed to prune user index", "user", username, "error", err)
			continue
		}
		removed += n
		if empty, _ := s.indexEmpty(ctx, userEventsKey(username)); empty {
			if err := s.kv.SRem(ctx, keyTrackedUsers, username); err != nil {
				s.logger.Warn("failed to untrack user", "user", username, "error", err)
			}
		}
	}

	games, err := s.kv.SMembers(ctx, keyTrackedGames)
	if err != nil {
		return removed, err
	}
	for _, gameID := range games {
		n, err := s.pruneIndex(ctx, gameEventsKey(gameID), now.Add(-s.config.RoomTTL))
		if err != nil {
			s.logger.Warn("failed to prune game index", "game", gameID, "error", err)
			continue
		}
		removed += n
		if empty, _ := s.indexEmpty(ctx, gameEventsKey(gameID)); empty {
			if err := s.kv.SRem(ctx, keyTrackedGames, gameID); err != nil {
				s.logger.Warn("failed to untrack game", "game", gameID, "error", err)
			}
		}
	}

	n, err := s.pruneIndex(ctx, keyGlobalEvents, now.Add(-s.config.GlobalTTL))
	if err != nil {
		return removed, err
	}
	removed += n

	expired, err := s.kv.Prune(ctx)
	if err != nil {
		return removed, err
	}
	return removed + expired, nil
}

func (s *Store) pruneIndex(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	return s.kv.ZRemRangeByScore(ctx, key, 0, float64(cutoff.UnixMilli()))
}

func (s *Store) indexEmpty(ctx context.Context, key string) (bool, error) {
	card, err := s.kv.ZCard(ctx, key)
	return card == 0, err
}
