package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/pkg/event"
)

func TestTyping_StartStop(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StartTyping(ctx, "42", "alice"))
	require.NoError(t, tracker.StartTyping(ctx, "42", "bob"))

	users, err := tracker.TypingUsers(ctx, "42")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	require.NoError(t, tracker.StopTyping(ctx, "42", "alice"))
	users, err = tracker.TypingUsers(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)

	events := publisher.all()
	require.Len(t, events, 3)
	for _, evt := range events {
		assert.Equal(t, event.TypeChatTyping, evt.Type)
		assert.Equal(t, "/topic/games/42/chat/typing", evt.Destination)
	}
	assert.Equal(t, true, events[0].Payload["typing"])
	assert.Equal(t, false, events[2].Payload["typing"])
}

func TestTyping_RenewalDoesNotAnnounce(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StartTyping(ctx, "42", "alice"))
	require.NoError(t, tracker.StartTyping(ctx, "42", "alice"))
	require.NoError(t, tracker.StartTyping(ctx, "42", "alice"))

	assert.Len(t, publisher.all(), 1)
}

func TestTyping_IndicatorExpires(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	now := time.Now()
	tracker.now = func() time.Time { return now }

	require.NoError(t, tracker.StartTyping(ctx, "42", "alice"))

	now = now.Add(11 * time.Second)
	users, err := tracker.TypingUsers(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTyping_StopWithoutStart(t *testing.T) {
	tracker, publisher := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StopTyping(ctx, "42", "alice"))
	assert.Empty(t, publisher.all())
}

func TestTyping_Validation(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	assert.Error(t, tracker.StartTyping(ctx, "", "alice"))
	assert.Error(t, tracker.StartTyping(ctx, "42", ""))
}
