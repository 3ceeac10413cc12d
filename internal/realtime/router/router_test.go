package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/core/kvstore/memory"
	"courtside/internal/core/pubsub"
	pubsubmem "courtside/internal/core/pubsub/memory"
	"courtside/internal/realtime/filter"
	"courtside/internal/realtime/history"
	"courtside/internal/realtime/metrics"
	"courtside/internal/realtime/presence"
	"courtside/internal/realtime/ratelimit"
	"courtside/pkg/event"
)

type fixture struct {
	router  *Router
	engine  *pubsubmem.Engine
	tracker *presence.Tracker
	history *history.Store
	metrics *metrics.Collector
	limiter ratelimit.Limiter
	filter  *filter.Engine
}

func newFixture(t *testing.T, rlCfg ratelimit.Config) *fixture {
	t.Helper()
	logger := slog.Default()

	engine := pubsubmem.New()
	t.Cleanup(func() { engine.Close() }) //nolint:errcheck

	publisher, err := engine.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)

	kv := memory.New()
	limiter := ratelimit.NewMemoryLimiter(rlCfg)
	t.Cleanup(func() {
		if s, ok := limiter.(ratelimit.Stoppable); ok {
			s.Stop()
		}
	})

	filterEngine := filter.NewEngine(filter.NewStore(kv, 0), filter.DefaultConfig(), logger)
	historyStore := history.NewStore(kv, history.DefaultConfig(), logger)
	collector := metrics.NewCollector()

	r := New(publisher, limiter, filterEngine, nil, historyStore, collector, DefaultConfig(), logger)
	tracker := presence.NewTracker(kv, r, presence.DefaultConfig(), logger)
	r.presence = tracker

	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() }) //nolint:errcheck

	return &fixture{
		router:  r,
		engine:  engine,
		tracker: tracker,
		history: historyStore,
		metrics: collector,
		limiter: limiter,
		filter:  filterEngine,
	}
}

func subscribe(t *testing.T, engine *pubsubmem.Engine, topic string) <-chan pubsub.Message {
	t.Helper()
	consumer, err := engine.NewConsumer(pubsub.ConsumerOptions{FilterTopic: topic})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := consumer.Subscribe(ctx)
	require.NoError(t, err)
	return msgs
}

func waitFor(t *testing.T, msgs <-chan pubsub.Message) pubsub.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func expectSilence(t *testing.T, msgs <-chan pubsub.Message) {
	t.Helper()
	select {
	case msg := <-msgs:
		t.Fatalf("unexpected broadcast on %s", msg.Topic())
	case <-time.After(100 * time.Millisecond):
	}
}

// A chat message into a room with one subscriber produces exactly one
// broadcast on the room's chat topic.
func TestRouter_RoomChatDelivery(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	msgs := subscribe(t, f.engine, "/topic/games/42/chat")

	f.router.SubscribeToGame("42", "bob")

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice", "message": "game on"})
	require.NoError(t, f.router.Publish(context.Background(), evt))

	msg := waitFor(t, msgs)
	assert.Equal(t, "/topic/games/42/chat", msg.Topic())

	var got event.Event
	require.NoError(t, json.Unmarshal(msg.Data(), &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, "game on", got.Payload["message"])

	expectSilence(t, msgs)
}

func TestRouter_EmptyRoomSkipsBroadcast(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	msgs := subscribe(t, f.engine, "/topic/games/42/chat")

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice", "message": "anyone here?"})
	require.NoError(t, f.router.Publish(context.Background(), evt))

	expectSilence(t, msgs)
	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().EventsFiltered == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_OnlineUserDelivery(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.tracker.UpdatePresence(ctx, "bob", presence.StatusOnline, ""))
	msgs := subscribe(t, f.engine, "/user/bob/queue/events")

	evt := event.New(event.TypeNotification, event.PriorityHigh, event.TargetUser, "bob",
		event.Payload{"message": "you are up"})
	require.NoError(t, f.router.Publish(ctx, evt))

	msg := waitFor(t, msgs)
	assert.Equal(t, "/user/bob/queue/events", msg.Topic())
}

func TestRouter_OfflineUserStored(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	evt := event.New(event.TypeNotification, event.PriorityHigh, event.TargetUser, "bob",
		event.Payload{"message": "missed you"}).WithPersistence()
	require.NoError(t, f.router.Publish(ctx, evt))

	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().OfflineStored == 1
	}, time.Second, 10*time.Millisecond)

	events, err := f.router.OfflineEvents(ctx, "bob", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, evt.ID, events[0].ID)

	// Drained on read.
	events, err = f.router.OfflineEvents(ctx, "bob", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRouter_OfflineTransientDropped(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	evt := event.New(event.TypeNotification, event.PriorityHigh, event.TargetUser, "bob",
		event.Payload{"message": "gone in a blink"})
	require.NoError(t, f.router.Publish(ctx, evt))

	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().EventsProcessed == 1
	}, time.Second, 10*time.Millisecond)

	events, err := f.router.OfflineEvents(ctx, "bob", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "transient events must not queue for offline users")
	assert.Zero(t, f.metrics.Snapshot().OfflineStored)
}

func TestRouter_OfflineFilteredNotStored(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, f.filter.Block(ctx, "bob", "alice"))

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetUser, "bob",
		event.Payload{"username": "alice", "message": "blocked"}).WithPersistence()
	require.NoError(t, f.router.Publish(ctx, evt))

	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().EventsFiltered == 1
	}, time.Second, 10*time.Millisecond)

	events, err := f.router.OfflineEvents(ctx, "bob", time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "filtered events must not reach the offline queue")
	assert.Zero(t, f.metrics.Snapshot().OfflineStored)
}

func TestRouter_RoomPolicyRuleFilters(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	msgs := subscribe(t, f.engine, "/topic/games/42/chat")
	f.router.SubscribeToGame("42", "bob")

	require.NoError(t, f.filter.SetRule(event.TargetGameRoom,
		`event.payload.message != 'spam'`))

	junk := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice", "message": "spam"})
	require.NoError(t, f.router.Publish(ctx, junk))
	expectSilence(t, msgs)
	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().EventsFiltered == 1
	}, time.Second, 10*time.Millisecond)

	fine := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice", "message": "game on"})
	require.NoError(t, f.router.Publish(ctx, fine))
	waitFor(t, msgs)
}

func TestRouter_GlobalBroadcast(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	msgs := subscribe(t, f.engine, "/topic/global")

	evt := event.New(event.TypeSystemAnnounce, event.PriorityHigh, event.TargetGlobal, "",
		event.Payload{"message": "courts closed at 10"})
	require.NoError(t, f.router.Publish(context.Background(), evt))

	msg := waitFor(t, msgs)
	assert.Equal(t, "/topic/global", msg.Topic())
}

func TestRouter_PersistentEventsReplayable(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	f.router.SubscribeToGame("42", "bob")

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice", "message": "for the record"}).WithPersistence()
	require.NoError(t, f.router.Publish(ctx, evt))

	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().Persisted == 1
	}, time.Second, 10*time.Millisecond)

	events, err := f.history.GetGameEvents(ctx, "42", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, evt.ID, events[0].ID)
}

func TestRouter_RateLimiting(t *testing.T) {
	f := newFixture(t, ratelimit.Config{Enabled: true, PerMinute: 2, PerHour: 100})
	ctx := context.Background()
	f.router.SubscribeToGame("42", "bob")

	publish := func() error {
		evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
			event.Payload{"username": "alice", "message": "spam"})
		return f.router.Publish(ctx, evt)
	}

	require.NoError(t, publish())
	require.NoError(t, publish())
	assert.ErrorIs(t, publish(), ErrRateLimited)
	assert.EqualValues(t, 1, f.metrics.Snapshot().RateLimited)

	// Other rooms keep their own quota.
	other := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "43",
		event.Payload{"username": "alice", "message": "hello"})
	assert.NoError(t, f.router.Publish(ctx, other))
}

func TestRouter_InvalidAndExpiredEvents(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	invalid := &event.Event{Type: event.TypeChatMessage}
	assert.Error(t, f.router.Publish(ctx, invalid))

	expired := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice"}).WithTTL(1)
	expired.Timestamp = time.Now().Add(-time.Minute)
	assert.NoError(t, f.router.Publish(ctx, expired))
	assert.Zero(t, f.metrics.Snapshot().EventsReceived)
}

func TestRouter_Subscriptions(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())

	f.router.SubscribeToGame("42", "alice")
	f.router.SubscribeToGame("42", "bob")
	f.router.SubscribeToGame("43", "alice")

	assert.Equal(t, 2, f.router.SubscriberCount("42"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, f.router.Subscribers("42"))
	assert.Equal(t, 3, f.router.SubscriptionTotal())

	f.router.UnsubscribeFromGame("42", "bob")
	assert.Equal(t, 1, f.router.SubscriberCount("42"))

	f.router.UnsubscribeAll("alice")
	assert.Zero(t, f.router.SubscriptionTotal())
}

func TestRouter_StopRejectsPublish(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	require.NoError(t, f.router.Stop())

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice"})
	assert.ErrorIs(t, f.router.Publish(context.Background(), evt), ErrStopped)

	// Stop is idempotent.
	assert.NoError(t, f.router.Stop())
}

func TestRouter_Stats(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	f.router.SubscribeToGame("42", "bob")

	evt := event.New(event.TypeChatMessage, event.PriorityNormal, event.TargetGameRoom, "42",
		event.Payload{"username": "alice", "message": "hi"})
	require.NoError(t, f.router.Publish(context.Background(), evt))

	assert.Eventually(t, func() bool {
		return f.metrics.Snapshot().EventsProcessed == 1
	}, time.Second, 10*time.Millisecond)

	stats := f.router.Stats()
	assert.Equal(t, 1, stats.ActiveGames)
	assert.Equal(t, 1, stats.Subscriptions)
	assert.EqualValues(t, 1, stats.Metrics.EventsReceived)
}
