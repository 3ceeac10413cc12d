// Package presence tracks which users are online, which game rooms
// they are watching, and who is typing where. State lives in the
// durable store so every node sees the same view; status transitions
// are announced through the injected publisher.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"courtside/internal/core/kvstore"
	"courtside/pkg/event"
)

// Status values a user can be in.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

const (
	keyPresence    = "realtime:presence:%s"
	keyOnlineUsers = "realtime:online_users"
	keyGameViewers = "realtime:game_viewers:%s"
	keyActiveGames = "realtime:presence_games"
	keyTyping      = "realtime:typing:%s"
)

// Publisher is the narrow broadcast hook the tracker announces
// transitions through.
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// Config holds presence tracking settings.
type Config struct {
	// TTL is how long a presence record survives without renewal.
	TTL time.Duration `yaml:"ttl"`

	// HeartbeatTimeout is how long after the last heartbeat a user is
	// considered gone by Cleanup.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// TypingTTL is how long a typing indicator lasts without renewal.
	TypingTTL time.Duration `yaml:"typing_ttl"`
}

// DefaultConfig returns the default presence settings.
func DefaultConfig() Config {
	return Config{
		TTL:              5 * time.Minute,
		HeartbeatTimeout: 60 * time.Second,
		TypingTTL:        10 * time.Second,
	}
}

// Record is one user's presence state.
type Record struct {
	Username    string    `json:"username"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"lastSeen"`
	CurrentGame string    `json:"currentGame,omitempty"`
}

// Metrics summarizes tracker state.
type Metrics struct {
	OnlineUsers int64 `json:"onlineUsers"`
	ActiveGames int64 `json:"activeGames"`
}

// Tracker implements presence on top of a kvstore.Store.
type Tracker struct {
	store     kvstore.Store
	publisher Publisher
	config    Config
	logger    *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewTracker creates a presence tracker. The publisher may be nil, in
// which case transitions are tracked but not announced.
func NewTracker(store kvstore.Store, publisher Publisher, cfg Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "presence"),
		now:       time.Now,
	}
}

func presenceKey(username string) string { return fmt.Sprintf(keyPresence, username) }
func viewersKey(gameID string) string    { return fmt.Sprintf(keyGameViewers, gameID) }

// UpdatePresence sets a user's status and optionally the game room
// they are viewing. A status change is announced; a same-status
// refresh only renews TTLs.
func (t *Tracker) UpdatePresence(ctx context.Context, username, status, gameID string) error {
	if username == "" {
		return errors.New("username is required")
	}
	switch status {
	case StatusOnline, StatusAway, StatusOffline:
	default:
		return fmt.Errorf("unknown presence status %q", status)
	}

	previous, _ := t.PresenceDetails(ctx, username)
	previousStatus := StatusOffline
	if previous != nil {
		previousStatus = previous.Status
	}

	if status == StatusOffline {
		return t.MarkUserOffline(ctx, username)
	}

	now := t.now()
	fields := map[string]string{
		"status":   status,
		"lastSeen": strconv.FormatInt(now.UnixMilli(), 10),
	}
	if gameID != "" {
		fields["currentGame"] = gameID
	}
	if err := t.store.HSet(ctx, presenceKey(username), fields, t.config.TTL); err != nil {
		return fmt.Errorf("failed to write presence for %s: %w", username, err)
	}
	if err := t.store.SAdd(ctx, keyOnlineUsers, username, 0); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", username, err)
	}

	if gameID != "" {
		if previous != nil && previous.CurrentGame != "" && previous.CurrentGame != gameID {
			t.leaveGame(ctx, username, previous.CurrentGame)
		}
		if err := t.store.SAdd(ctx, viewersKey(gameID), username, t.config.TTL); err != nil {
			return fmt.Errorf("failed to add %s to game %s: %w", username, gameID, err)
		}
		if err := t.store.SAdd(ctx, keyActiveGames, gameID, 0); err != nil {
			return fmt.Errorf("failed to track game %s: %w", gameID, err)
		}
	}

	if previousStatus != status {
		t.announce(ctx, username, status, gameID)
	}
	return nil
}

// RecordHeartbeat renews a user's presence TTL, marking them online if
// they were not.
func (t *Tracker) RecordHeartbeat(ctx context.Context, username string) error {
	record, err := t.PresenceDetails(ctx, username)
	if err != nil {
		return err
	}
	status := StatusOnline
	gameID := ""
	if record != nil && record.Status != StatusOffline {
		status = record.Status
		gameID = record.CurrentGame
	}
	return t.UpdatePresence(ctx, username, status, gameID)
}

// MarkUserOffline removes a user from the online set and their game
// room, and announces the transition if they were online.
func (t *Tracker) MarkUserOffline(ctx context.Context, username string) error {
	record, err := t.PresenceDetails(ctx, username)
	if err != nil {
		return err
	}

	if err := t.store.Delete(ctx, presenceKey(username)); err != nil {
		return fmt.Errorf("failed to clear presence for %s: %w", username, err)
	}
	if err := t.store.SRem(ctx, keyOnlineUsers, username); err != nil {
		return fmt.Errorf("failed to remove %s from online set: %w", username, err)
	}

	if record != nil {
		if record.CurrentGame != "" {
			t.leaveGame(ctx, username, record.CurrentGame)
		}
		if record.Status != StatusOffline {
			t.announce(ctx, username, StatusOffline, record.CurrentGame)
		}
	}
	return nil
}

func (t *Tracker) leaveGame(ctx context.Context, username, gameID string) {
	if err := t.store.SRem(ctx, viewersKey(gameID), username); err != nil {
		t.logger.Warn("failed to remove viewer", "user", username, "game", gameID, "error", err)
		return
	}
	count, err := t.store.SCard(ctx, viewersKey(gameID))
	if err == nil && count == 0 {
		if err := t.store.SRem(ctx, keyActiveGames, gameID); err != nil {
			t.logger.Warn("failed to untrack game", "game", gameID, "error", err)
		}
	}
}

// announce publishes a presence event. Failures are logged, never
// surfaced: presence updates are fire-and-forget.
func (t *Tracker) announce(ctx context.Context, username, status, gameID string) {
	if t.publisher == nil {
		return
	}
	payload := event.Payload{
		"username": username,
		"status":   status,
	}
	if count, err := t.OnlineUserCount(ctx); err == nil {
		payload["onlineCount"] = count
	} else {
		t.logger.Warn("failed to count online users", "error", err)
	}
	target := event.TargetGlobal
	routingKey := ""
	if gameID != "" {
		payload["gameId"] = gameID
		target = event.TargetGameRoom
		routingKey = gameID
	}
	evt := event.New(event.TypeUserPresence, event.PriorityLow, target, routingKey, payload)
	if gameID != "" {
		evt = evt.WithDestination(event.GamePresenceTopic(gameID))
	}
	if err := t.publisher.Publish(ctx, evt); err != nil {
		t.logger.Warn("failed to announce presence", "user", username, "status", status, "error", err)
	}
}

// IsUserOnline reports whether a live presence record exists and its
// last heartbeat is within the timeout. A record the sweep has not
// reaped yet does not count as online.
func (t *Tracker) IsUserOnline(ctx context.Context, username string) (bool, error) {
	record, err := t.PresenceDetails(ctx, username)
	if err != nil {
		return false, err
	}
	if record == nil || record.Status == StatusOffline {
		return false, nil
	}
	return t.now().Sub(record.LastSeen) < t.config.HeartbeatTimeout, nil
}

// CurrentStatus returns a user's status, StatusOffline if unknown.
func (t *Tracker) CurrentStatus(ctx context.Context, username string) (string, error) {
	record, err := t.PresenceDetails(ctx, username)
	if err != nil {
		return "", err
	}
	if record == nil {
		return StatusOffline, nil
	}
	return record.Status, nil
}

// PresenceDetails returns the live presence record, or nil if the user
// has no record or it expired.
func (t *Tracker) PresenceDetails(ctx context.Context, username string) (*Record, error) {
	fields, err := t.store.HGetAll(ctx, presenceKey(username))
	if err != nil {
		return nil, fmt.Errorf("failed to read presence for %s: %w", username, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	record := &Record{
		Username:    username,
		Status:      fields["status"],
		CurrentGame: fields["currentGame"],
	}
	if ms, err := strconv.ParseInt(fields["lastSeen"], 10, 64); err == nil {
		record.LastSeen = time.UnixMilli(ms)
	}
	return record, nil
}

// OnlineUsers returns all usernames currently marked online.
func (t *Tracker) OnlineUsers(ctx context.Context) ([]string, error) {
	return t.store.SMembers(ctx, keyOnlineUsers)
}

// OnlineUserCount returns the size of the online set.
func (t *Tracker) OnlineUserCount(ctx context.Context) (int64, error) {
	return t.store.SCard(ctx, keyOnlineUsers)
}

// GameViewers returns the users viewing a game room.
func (t *Tracker) GameViewers(ctx context.Context, gameID string) ([]string, error) {
	return t.store.SMembers(ctx, viewersKey(gameID))
}

// GameViewerCount returns how many users are viewing a game room.
func (t *Tracker) GameViewerCount(ctx context.Context, gameID string) (int64, error) {
	return t.store.SCard(ctx, viewersKey(gameID))
}

// Cleanup walks the online set and expires users whose presence record
// is gone or whose last heartbeat is older than the timeout. Returns
// how many users were expired.
func (t *Tracker) Cleanup(ctx context.Context) (int, error) {
	users, err := t.OnlineUsers(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := t.now().Add(-t.config.HeartbeatTimeout)
	expiredCount := 0
	for _, username := range users {
		record, err := t.PresenceDetails(ctx, username)
		if err != nil {
			t.logger.Warn("failed to read presence during cleanup", "user", username, "error", err)
			continue
		}
		if record == nil || record.LastSeen.Before(cutoff) {
			if err := t.MarkUserOffline(ctx, username); err != nil {
				t.logger.Warn("failed to expire user", "user", username, "error", err)
				continue
			}
			expiredCount++
		}
	}
	if expiredCount > 0 {
		t.logger.Info("expired stale presence records", "count", expiredCount)
	}
	return expiredCount, nil
}

// Metrics returns tracker-level counts.
func (t *Tracker) Metrics(ctx context.Context) (Metrics, error) {
	online, err := t.store.SCard(ctx, keyOnlineUsers)
	if err != nil {
		return Metrics{}, err
	}
	games, err := t.store.SCard(ctx, keyActiveGames)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{OnlineUsers: online, ActiveGames: games}, nil
}
