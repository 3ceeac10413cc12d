package presence

import (
	"context"
	"fmt"

	"courtside/pkg/event"
)

func typingKey(gameID string) string { return fmt.Sprintf(keyTyping, gameID) }

// StartTyping marks a user as typing in a game room. The indicator
// expires after the configured TTL unless renewed; only the first call
// of a typing burst is broadcast.
func (t *Tracker) StartTyping(ctx context.Context, gameID, username string) error {
	if gameID == "" || username == "" {
		return fmt.Errorf("game id and username are required")
	}

	active, err := t.isTyping(ctx, gameID, username)
	if err != nil {
		return err
	}

	deadline := t.now().Add(t.config.TypingTTL)
	if err := t.store.ZAdd(ctx, typingKey(gameID), username, float64(deadline.UnixMilli()), t.config.TypingTTL); err != nil {
		return fmt.Errorf("failed to record typing for %s: %w", username, err)
	}

	if !active {
		t.announceTyping(ctx, gameID, username, true)
	}
	return nil
}

// StopTyping clears a user's typing indicator, broadcasting only if it
// was active.
func (t *Tracker) StopTyping(ctx context.Context, gameID, username string) error {
	active, err := t.isTyping(ctx, gameID, username)
	if err != nil {
		return err
	}

	if err := t.store.ZRem(ctx, typingKey(gameID), username); err != nil {
		return fmt.Errorf("failed to clear typing for %s: %w", username, err)
	}

	if active {
		t.announceTyping(ctx, gameID, username, false)
	}
	return nil
}

// TypingUsers returns users with a live typing indicator in the room.
func (t *Tracker) TypingUsers(ctx context.Context, gameID string) ([]string, error) {
	now := float64(t.now().UnixMilli())
	users, err := t.store.ZRangeByScore(ctx, typingKey(gameID), now, maxScore, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read typing users for game %s: %w", gameID, err)
	}
	return users, nil
}

const maxScore = 1e308

func (t *Tracker) isTyping(ctx context.Context, gameID, username string) (bool, error) {
	users, err := t.TypingUsers(ctx, gameID)
	if err != nil {
		return false, err
	}
	for _, user := range users {
		if user == username {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tracker) announceTyping(ctx context.Context, gameID, username string, typing bool) {
	if t.publisher == nil {
		return
	}
	evt := event.New(event.TypeChatTyping, event.PriorityLow, event.TargetGameRoom, gameID, event.Payload{
		"username": username,
		"gameId":   gameID,
		"typing":   typing,
	}).WithDestination(event.GameTypingTopic(gameID))
	if err := t.publisher.Publish(ctx, evt); err != nil {
		t.logger.Warn("failed to announce typing", "user", username, "game", gameID, "error", err)
	}
}
