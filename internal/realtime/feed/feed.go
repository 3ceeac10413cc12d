// Package feed builds the platform activity feed and user
// notifications on top of the event router. The global feed is a
// capped, time-windowed list; user feeds are the global feed seen
// through that user's delivery preferences.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"courtside/internal/core/kvstore"
	"courtside/internal/realtime/filter"
	"courtside/pkg/event"
)

const (
	keyGlobalFeed = "realtime:global_feed"
	keyActivity   = "realtime:activity:%s"
)

// Publisher admits events into the routing pipeline.
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// Config holds feed retention and cache settings.
type Config struct {
	// GlobalFeedMax caps the global feed length.
	GlobalFeedMax int `yaml:"global_feed_max"`

	// FeedTTL is how long activities stay visible.
	FeedTTL time.Duration `yaml:"feed_ttl"`

	// CacheTTL bounds staleness of per-user feed views.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default feed settings.
func DefaultConfig() Config {
	return Config{
		GlobalFeedMax: 100,
		FeedTTL:       24 * time.Hour,
		CacheTTL:      5 * time.Minute,
	}
}

// Activity is one feed entry.
type Activity struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Stats counts façade activity since start.
type Stats struct {
	GlobalFeedSize    int64 `json:"globalFeedSize"`
	ActivitiesCreated int64 `json:"activitiesCreated"`
	NotificationsSent int64 `json:"notificationsSent"`
}

type cachedFeed struct {
	activities []*Activity
	fetchedAt  time.Time
}

// Service implements the activity feed and notifications.
type Service struct {
	publisher Publisher
	filter    *filter.Engine
	kv        kvstore.Store
	config    Config
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedFeed

	created  atomic.Int64
	notified atomic.Int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewService creates the feed façade.
func NewService(publisher Publisher, filterEngine *filter.Engine, kv kvstore.Store, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		publisher: publisher,
		filter:    filterEngine,
		kv:        kv,
		config:    cfg,
		logger:    logger.With("component", "feed"),
		cache:     make(map[string]cachedFeed),
		now:       time.Now,
	}
}

func activityKey(id string) string { return fmt.Sprintf(keyActivity, id) }

// CreateActivity records a feed entry and broadcasts it globally.
func (s *Service) CreateActivity(ctx context.Context, username, activityType, message string, data map[string]any) (*Activity, error) {
	if username == "" || activityType == "" {
		return nil, errors.New("username and activity type are required")
	}

	activity := &Activity{
		ID:        uuid.NewString(),
		Username:  username,
		Type:      activityType,
		Message:   message,
		Data:      data,
		CreatedAt: s.now(),
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activity: %w", err)
	}
	if err := s.kv.Set(ctx, activityKey(activity.ID), body, s.config.FeedTTL); err != nil {
		return nil, fmt.Errorf("failed to store activity: %w", err)
	}
	score := float64(activity.CreatedAt.UnixMilli())
	if err := s.kv.ZAdd(ctx, keyGlobalFeed, activity.ID, score, s.config.FeedTTL); err != nil {
		return nil, fmt.Errorf("failed to index activity: %w", err)
	}

	// Cap the feed: drop everything below the newest GlobalFeedMax.
	if _, err := s.kv.ZRemRangeByRank(ctx, keyGlobalFeed, 0, int64(-s.config.GlobalFeedMax-1)); err != nil {
		s.logger.Warn("failed to trim global feed", "error", err)
	}
	s.created.Add(1)

	evt := event.New(event.TypeActivityFeed, event.PriorityLow, event.TargetGlobal, "",
		event.Payload{
			"username":     username,
			"activityId":   activity.ID,
			"activityType": activityType,
			"message":      message,
		})
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to broadcast activity", "id", activity.ID, "error", err)
	}

	return activity, nil
}

// GlobalFeed returns the newest activities, most recent first.
func (s *Service) GlobalFeed(ctx context.Context, limit int) ([]*Activity, error) {
	if limit <= 0 || limit > s.config.GlobalFeedMax {
		limit = s.config.GlobalFeedMax
	}
	ids, err := s.kv.ZRangeByScore(ctx, keyGlobalFeed, 0, float64(s.now().UnixMilli()), limit, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read global feed: %w", err)
	}

	activities := make([]*Activity, 0, len(ids))
	for _, id := range ids {
		body, err := s.kv.Get(ctx, activityKey(id))
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load activity %s: %w", id, err)
		}
		var activity Activity
		if err := json.Unmarshal(body, &activity); err != nil {
			s.logger.Warn("corrupt activity skipped", "id", id, "error", err)
			continue
		}
		activities = append(activities, &activity)
	}
	return activities, nil
}

// UserFeed returns the global feed as one user sees it: activities
// from blocked users are dropped. Views are cached briefly.
func (s *Service) UserFeed(ctx context.Context, username string, limit int) ([]*Activity, error) {
	s.mu.RLock()
	entry, ok := s.cache[username]
	s.mu.RUnlock()
	if ok && s.now().Sub(entry.fetchedAt) < s.config.CacheTTL {
		return clip(entry.activities, limit), nil
	}

	global, err := s.GlobalFeed(ctx, 0)
	if err != nil {
		return nil, err
	}
	prefs, err := s.filter.Preferences(ctx, username)
	if err != nil {
		return nil, err
	}

	visible := make([]*Activity, 0, len(global))
	for _, activity := range global {
		if activity.Username == username || !prefs.UserBlocked(activity.Username) {
			visible = append(visible, activity)
		}
	}

	s.mu.Lock()
	s.cache[username] = cachedFeed{activities: visible, fetchedAt: s.now()}
	s.mu.Unlock()
	return clip(visible, limit), nil
}

func clip(activities []*Activity, limit int) []*Activity {
	if limit > 0 && len(activities) > limit {
		return activities[:limit]
	}
	return activities
}

// Notify sends a persistent notification to one user. Offline users
// receive it on their next replay.
func (s *Service) Notify(ctx context.Context, username, message string, data map[string]any) error {
	if username == "" {
		return errors.New("username is required")
	}
	payload := event.Payload{"message": message}
	for k, v := range data {
		payload[k] = v
	}

	evt := event.New(event.TypeNotification, event.PriorityHigh, event.TargetUser, username, payload).
		WithPersistence()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	s.notified.Add(1)
	return nil
}

// UpdatePreferences persists a user's delivery preferences and drops
// their cached feed view.
func (s *Service) UpdatePreferences(ctx context.Context, prefs *filter.Preferences) error {
	if err := s.filter.UpdatePreferences(ctx, prefs); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, prefs.Username)
	s.mu.Unlock()
	return nil
}

// Stats returns feed counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	size, err := s.kv.ZCard(ctx, keyGlobalFeed)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		GlobalFeedSize:    size,
		ActivitiesCreated: s.created.Load(),
		NotificationsSent: s.notified.Load(),
	}, nil
}

// Cleanup drops activities older than the retention window and stale
// cached views. Returns how many feed entries were removed.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.FeedTTL)
	removed, err := s.kv.ZRemRangeByScore(ctx, keyGlobalFeed, 0, float64(cutoff.UnixMilli()))
	if err != nil {
		return 0, fmt.Errorf("failed to prune global feed: %w", err)
	}

	s.mu.Lock()
	for username, entry := range s.cache {
		if s.now().Sub(entry.fetchedAt) >= s.config.CacheTTL {
			delete(s.cache, username)
		}
	}
	s.mu.Unlock()
	return removed, nil
}
