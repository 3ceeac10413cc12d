package presence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/core/kvstore/memory"
	"courtside/pkg/event"
)

// capturePublisher records announced events.
type capturePublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *capturePublisher) Publish(_ context.Context, evt *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) all() []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Event(nil), p.events...)
}

func newTestTracker(t *testing.T) (*Tracker, *capturePublisher) {
	t.Helper()
	publisher := &capturePublisher{}
	tracker := NewTracker(memory.New(), publisher, DefaultConfig(), slog.Default())
	return tracker, publisher
}

func TestTracker_UpdatePresence(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, "42"))

	online, err := tracker.IsUserOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	status, err := tracker.CurrentStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, status)

	viewers, err := tracker.GameViewers(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, viewers)

	record, err := tracker.PresenceDetails(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "alice", record.Username)
	assert.Equal(t, "42", record.CurrentGame)
	assert.WithinDuration(t, time.Now(), record.LastSeen, time.Second)

	// The offline->online transition was announced once, with the
	// resulting online count.
	events := publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeUserPresence, events[0].Type)
	assert.Equal(t, "/topic/games/42/presence", events[0].Destination)
	assert.EqualValues(t, 1, events[0].Payload["onlineCount"])
}

func TestTracker_RefreshDoesNotAnnounce(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, ""))
	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, ""))
	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, ""))

	assert.Len(t, publisher.all(), 1)
}

func TestTracker_StatusTransitions(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, ""))
	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusAway, ""))
	require.NoError(t, tracker.MarkUserOffline(ctx, "alice"))

	online, err := tracker.IsUserOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	status, err := tracker.CurrentStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, status)

	events := publisher.all()
	require.Len(t, events, 3)
	assert.Equal(t, StatusOnline, events[0].Payload["status"])
	assert.Equal(t, StatusAway, events[1].Payload["status"])
	assert.Equal(t, StatusOffline, events[2].Payload["status"])
	assert.EqualValues(t, 0, events[2].Payload["onlineCount"])
}

func TestTracker_HeartbeatTimeoutReadPath(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	now := time.Now()
	tracker.now = func() time.Time { return now }

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, ""))

	online, err := tracker.IsUserOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	// The record outlives the heartbeat timeout; a reader must not see
	// a dead client as online while waiting for the sweep.
	now = now.Add(2 * time.Minute)
	online, err = tracker.IsUserOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online, "user past heartbeat timeout must read as offline")

	// A heartbeat revives them.
	require.NoError(t, tracker.RecordHeartbeat(ctx, "alice"))
	online, err = tracker.IsUserOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestTracker_SwitchGames(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, "42"))
	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, "43"))

	old, err := tracker.GameViewers(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, old)

	current, err := tracker.GameViewers(ctx, "43")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, current)
}

func TestTracker_OnlineUsers(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, ""))
	require.NoError(t, tracker.UpdatePresence(ctx, "bob", StatusOnline, "42"))

	users, err := tracker.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	count, err := tracker.OnlineUserCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	m, err := tracker.Metrics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.OnlineUsers)
	assert.EqualValues(t, 1, m.ActiveGames)
}

func TestTracker_Cleanup(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	now := time.Now()
	tracker.now = func() time.Time { return now }

	require.NoError(t, tracker.UpdatePresence(ctx, "alice", StatusOnline, "42"))
	require.NoError(t, tracker.UpdatePresence(ctx, "bob", StatusOnline, ""))

	// alice heartbeats, bob goes quiet.
	now = now.Add(45 * time.Second)
	require.NoError(t, tracker.RecordHeartbeat(ctx, "alice"))

	now = now.Add(30 * time.Second)
	expired, err := tracker.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	users, err := tracker.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	// bob's expiry was announced as an offline transition.
	events := publisher.all()
	last := events[len(events)-1]
	assert.Equal(t, "bob", last.Payload["username"])
	assert.Equal(t, StatusOffline, last.Payload["status"])
}

func TestTracker_UpdatePresence_Validation(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	assert.Error(t, tracker.UpdatePresence(ctx, "", StatusOnline, ""))
	assert.Error(t, tracker.UpdatePresence(ctx, "alice", "lurking", ""))
}
