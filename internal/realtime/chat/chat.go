// Package chat is the game-room chat façade over the event router. It
// shapes chat traffic into events, tracks read receipts and activity
// counters, and proxies typing indicators from the presence tracker.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"courtside/internal/core/kvstore"
	"courtside/internal/realtime/presence"
	"courtside/internal/realtime/router"
	"courtside/pkg/event"
)

const (
	keyActivity     = "realtime:chat_activity:%s"
	keyParticipants = "realtime:chat_participants:%s"
	keyReadReceipts = "realtime:read_receipts:%s"
	keyLastRead     = "realtime:last_read:%s"
)

// Publisher admits events into the routing pipeline.
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// Config holds chat retention settings.
type Config struct {
	// StateTTL is how long receipts and activity counters outlive the
	// last touch. Matches room history retention.
	StateTTL time.Duration `yaml:"state_ttl"`
}

// DefaultConfig returns the default chat settings.
func DefaultConfig() Config {
	return Config{StateTTL: 24 * time.Hour}
}

// Metrics counts façade activity since start.
type Metrics struct {
	MessagesBroadcast int64 `json:"messagesBroadcast"`
	ReceiptsRecorded  int64 `json:"receiptsRecorded"`
}

// Service implements game-room chat.
type Service struct {
	publisher Publisher
	tracker   *presence.Tracker
	kv        kvstore.Store
	config    Config
	logger    *slog.Logger

	messages atomic.Int64
	receipts atomic.Int64
}

// NewService creates the chat façade.
func NewService(publisher Publisher, tracker *presence.Tracker, kv kvstore.Store, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		publisher: publisher,
		tracker:   tracker,
		kv:        kv,
		config:    cfg,
		logger:    logger.With("component", "chat"),
	}
}

func activityKey(gameID string) string     { return fmt.Sprintf(keyActivity, gameID) }
func participantsKey(gameID string) string { return fmt.Sprintf(keyParticipants, gameID) }
func receiptsKey(messageID string) string  { return fmt.Sprintf(keyReadReceipts, messageID) }
func lastReadKey(gameID string) string     { return fmt.Sprintf(keyLastRead, gameID) }

// BroadcastMessage publishes a chat message to a game room. The event
// is persistent so late joiners can replay it.
func (s *Service) BroadcastMessage(ctx context.Context, gameID, username, message string) (*event.Event, error) {
	if gameID == "" || username == "" {
		return nil, errors.New("game id and username are required")
	}
	if message == "" {
		return nil, errors.New("message is empty")
	}

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, gameID,
		event.Payload{
			"username": username,
			"gameId":   gameID,
			"message":  message,
		}).WithPersistence()

	if err := s.publisher.Publish(ctx, evt); err != nil {
		// Backpressure is the router's concern: it already dropped and
		// counted the event, and senders are not failed for it.
		if errors.Is(err, router.ErrRateLimited) || errors.Is(err, router.ErrQueueFull) {
			s.logger.Warn("chat message dropped", "game", gameID, "error", err)
			return evt, nil
		}
		return nil, fmt.Errorf("failed to publish chat message: %w", err)
	}
	s.messages.Add(1)

	// Activity bookkeeping is best-effort; the message is already out.
	if _, err := s.kv.HIncrBy(ctx, activityKey(gameID), "messages", 1); err != nil {
		s.logger.Warn("failed to count message", "game", gameID, "error", err)
	}
	if err := s.kv.SAdd(ctx, participantsKey(gameID), username, s.config.StateTTL); err != nil {
		s.logger.Warn("failed to track participant", "game", gameID, "user", username, "error", err)
	}

	// Senders are implicitly caught up with their own message.
	if err := s.tracker.StopTyping(ctx, gameID, username); err != nil {
		s.logger.Warn("failed to clear typing state", "game", gameID, "user", username, "error", err)
	}

	return evt, nil
}

// MarkMessageRead records that a user read a message and broadcasts a
// receipt to the room.
func (s *Service) MarkMessageRead(ctx context.Context, gameID, messageID, username string) error {
	if gameID == "" || messageID == "" || username == "" {
		return errors.New("game id, message id and username are required")
	}

	if err := s.kv.SAdd(ctx, receiptsKey(messageID), username, s.config.StateTTL); err != nil {
		return fmt.Errorf("failed to record receipt: %w", err)
	}
	now := time.Now()
	err := s.kv.HSet(ctx, lastReadKey(gameID),
		map[string]string{username: strconv.FormatInt(now.UnixMilli(), 10)}, s.config.StateTTL)
	if err != nil {
		return fmt.Errorf("failed to record last read time: %w", err)
	}
	s.receipts.Add(1)

	evt := event.New(event.TypeChatReadReceipt, event.PriorityLow, event.TargetGameRoom, gameID,
		event.Payload{
			"username":  username,
			"gameId":    gameID,
			"messageId": messageID,
			"readAt":    now.UnixMilli(),
		}).WithDestination(event.GameReceiptsTopic(gameID))

	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to broadcast receipt", "game", gameID, "message", messageID, "error", err)
	}
	return nil
}

// MessageReadBy returns the users who read a message.
func (s *Service) MessageReadBy(ctx context.Context, messageID string) ([]string, error) {
	return s.kv.SMembers(ctx, receiptsKey(messageID))
}

// LastReadTime returns when a user last read the room, if ever.
func (s *Service) LastReadTime(ctx context.Context, gameID, username string) (time.Time, bool, error) {
	raw, err := s.kv.HGet(ctx, lastReadKey(gameID), username)
	if errors.Is(err, kvstore.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last read time: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last read time for %s: %w", username, err)
	}
	return time.UnixMilli(ms), true, nil
}

// StartTyping marks a user as typing in the room.
func (s *Service) StartTyping(ctx context.Context, gameID, username string) error {
	return s.tracker.StartTyping(ctx, gameID, username)
}

// StopTyping clears a user's typing indicator.
func (s *Service) StopTyping(ctx context.Context, gameID, username string) error {
	return s.tracker.StopTyping(ctx, gameID, username)
}

// TypingUsers returns who is typing in the room.
func (s *Service) TypingUsers(ctx context.Context, gameID string) ([]string, error) {
	return s.tracker.TypingUsers(ctx, gameID)
}

// ActivitySummary is a room's live chat state.
type ActivitySummary struct {
	GameID       string   `json:"gameId"`
	Messages     int64    `json:"messages"`
	Participants []string `json:"participants"`
	TypingUsers  []string `json:"typingUsers"`
	Viewers      int64    `json:"viewers"`
}

// ActivitySummary aggregates a room's counters, participants, typing
// and viewer state.
func (s *Service) ActivitySummary(ctx context.Context, gameID string) (*ActivitySummary, error) {
	summary := &ActivitySummary{GameID: gameID}

	raw, err := s.kv.HGet(ctx, activityKey(gameID), "messages")
	if err == nil {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			summary.Messages = n
		}
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to read activity for %s: %w", gameID, err)
	}

	if summary.Participants, err = s.kv.SMembers(ctx, participantsKey(gameID)); err != nil {
		return nil, fmt.Errorf("failed to read participants for %s: %w", gameID, err)
	}
	if summary.TypingUsers, err = s.tracker.TypingUsers(ctx, gameID); err != nil {
		return nil, err
	}
	if summary.Viewers, err = s.tracker.GameViewerCount(ctx, gameID); err != nil {
		return nil, err
	}
	return summary, nil
}

// Metrics returns façade counters.
func (s *Service) Metrics() Metrics {
	return Metrics{
		MessagesBroadcast: s.messages.Load(),
		ReceiptsRecorded:  s.receipts.Load(),
	}
}
