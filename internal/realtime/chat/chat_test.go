package chat

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/core/kvstore/memory"
	"courtside/internal/realtime/presence"
	"courtside/internal/realtime/router"
	"courtside/pkg/event"
)

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

func (p *capturePublisher) byType(eventType string) []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*event.Event
	for _, evt := range p.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *capturePublisher) {
	t.Helper()
	kv := memory.New()
	publisher := &capturePublisher{}
	tracker := presence.NewTracker(kv, publisher, presence.DefaultConfig(), slog.Default())
	service := NewService(publisher, tracker, kv, DefaultConfig(), slog.Default())
	return service, publisher
}

func TestService_BroadcastMessage(t *testing.T) {
	service, publisher := newTestService(t)
	ctx := context.Background()

	evt, err := service.BroadcastMessage(ctx, "42", "alice", "who's in?")
	require.NoError(t, err)
	assert.Equal(t, event.TypeChatMessage, evt.Type)
	assert.Equal(t, "/topic/games/42/chat", evt.Destination)
	assert.True(t, evt.Persistent)
	assert.Equal(t, "who's in?", evt.Payload["message"])

	published := publisher.byType(event.TypeChatMessage)
	require.Len(t, published, 1)
	assert.Equal(t, evt.ID, published[0].ID)

	assert.EqualValues(t, 1, service.Metrics().MessagesBroadcast)
}

// saturatedPublisher rejects every event with a fixed error.
type saturatedPublisher struct{ err error }

func (p saturatedPublisher) Publish(context.Context, *event.Event) error { return p.err }

func TestService_BroadcastMessage_BackpressureNotSurfaced(t *testing.T) {
	kv := memory.New()
	tracker := presence.NewTracker(kv, nil, presence.DefaultConfig(), slog.Default())
	ctx := context.Background()

	for _, dropErr := range []error{router.ErrRateLimited, router.ErrQueueFull} {
		service := NewService(saturatedPublisher{err: dropErr}, tracker, kv, DefaultConfig(), slog.Default())

		evt, err := service.BroadcastMessage(ctx, "42", "alice", "lost to the wind")
		require.NoError(t, err, "backpressure must not fail the sender")
		require.NotNil(t, evt)
		assert.Zero(t, service.Metrics().MessagesBroadcast)
	}
}

func TestService_BroadcastMessage_Validation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.BroadcastMessage(ctx, "", "alice", "hi")
	assert.Error(t, err)
	_, err = service.BroadcastMessage(ctx, "42", "", "hi")
	assert.Error(t, err)
	_, err = service.BroadcastMessage(ctx, "42", "alice", "")
	assert.Error(t, err)
}

func TestService_BroadcastClearsTyping(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.StartTyping(ctx, "42", "alice"))
	typing, err := service.TypingUsers(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, typing)

	_, err = service.BroadcastMessage(ctx, "42", "alice", "done typing")
	require.NoError(t, err)

	typing, err = service.TypingUsers(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestService_ReadReceipts(t *testing.T) {
	service, publisher := newTestService(t)
	ctx := context.Background()

	evt, err := service.BroadcastMessage(ctx, "42", "alice", "read me")
	require.NoError(t, err)

	require.NoError(t, service.MarkMessageRead(ctx, "42", evt.ID, "bob"))
	require.NoError(t, service.MarkMessageRead(ctx, "42", evt.ID, "carol"))

	readers, err := service.MessageReadBy(ctx, evt.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, readers)

	when, ok, err := service.LastReadTime(ctx, "42", "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), when, time.Second)

	_, ok, err = service.LastReadTime(ctx, "42", "dave")
	require.NoError(t, err)
	assert.False(t, ok)

	receipts := publisher.byType(event.TypeChatReadReceipt)
	require.Len(t, receipts, 2)
	assert.Equal(t, "/topic/games/42/chat/receipts", receipts[0].Destination)
	assert.Equal(t, evt.ID, receipts[0].Payload["messageId"])

	assert.EqualValues(t, 2, service.Metrics().ReceiptsRecorded)
}

func TestService_MarkMessageRead_Validation(t *testing.T) {
	service, _ := newTestService(t)
	assert.Error(t, service.MarkMessageRead(context.Background(), "", "m1", "bob"))
	assert.Error(t, service.MarkMessageRead(context.Background(), "42", "", "bob"))
	assert.Error(t, service.MarkMessageRead(context.Background(), "42", "m1", ""))
}

func TestService_ActivitySummary(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.BroadcastMessage(ctx, "42", "alice", "first")
	require.NoError(t, err)
	_, err = service.BroadcastMessage(ctx, "42", "bob", "second")
	require.NoError(t, err)
	require.NoError(t, service.StartTyping(ctx, "42", "carol"))

	summary, err := service.ActivitySummary(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", summary.GameID)
	assert.EqualValues(t, 2, summary.Messages)
	assert.ElementsMatch(t, []string{"alice", "bob"}, summary.Participants)
	assert.Equal(t, []string{"carol"}, summary.TypingUsers)

	// A quiet room reads as empty, not as an error.
	quiet, err := service.ActivitySummary(ctx, "99")
	require.NoError(t, err)
	assert.Zero(t, quiet.Messages)
	assert.Empty(t, quiet.Participants)
}
