package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/realtime"
	"courtside/pkg/event"
)

func newWSTest(t *testing.T) (*realtime.Service, *Server, *websocket.Conn) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service, err := realtime.NewService(context.Background(), realtime.DefaultConfig(), logger)
	require.NoError(t, err)
	require.NoError(t, service.Start())

	server := NewServer(service, DefaultConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = server.hub.Run(ctx)
	}()

	httpSrv := httptest.NewServer(http.HandlerFunc(server.HandleWS))

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-hubDone
		httpSrv.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = service.Shutdown(shutdownCtx)
	})
	return service, server, conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, id, frameType string, payload any) {
	t.Helper()
	msg := BaseMessage{ID: id, Type: frameType}
	if payload != nil {
		msg.Payload = mustMarshal(payload)
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// awaitFrame reads until a frame of the wanted type arrives, skipping
// unrelated broadcasts.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) BaseMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg BaseMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s frame", frameType)
		if msg.Type == frameType {
			return msg
		}
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	sendFrame(t, conn, "a1", TypeAuth, AuthPayload{Username: username})
	awaitFrame(t, conn, TypeAuthAck)
}

func TestAuthRequired(t *testing.T) {
	_, _, conn := newWSTest(t)

	sendFrame(t, conn, "s1", TypeSubscribe, SubscribePayload{Destination: event.GlobalTopic})
	msg := awaitFrame(t, conn, TypeError)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errPayload))
	assert.Equal(t, "unauthorized", errPayload.Code)
}

func TestAuthMarksUserOnline(t *testing.T) {
	service, _, conn := newWSTest(t)

	authenticate(t, conn, "alice")

	online, err := service.Presence().IsUserOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestSubscribeJoinsGameRoom(t *testing.T) {
	service, _, conn := newWSTest(t)

	authenticate(t, conn, "alice")
	sendFrame(t, conn, "s1", TypeSubscribe, SubscribePayload{Destination: event.GameChatTopic("42")})
	awaitFrame(t, conn, TypeSubscribeAck)

	assert.Contains(t, service.Router().Subscribers("42"), "alice")

	sendFrame(t, conn, "u1", TypeUnsubscribe, UnsubscribePayload{ID: "s1"})
	awaitFrame(t, conn, TypeUnsubscribeAck)
	assert.Empty(t, service.Router().Subscribers("42"))
}

func TestChatRoundTrip(t *testing.T) {
	_, _, conn := newWSTest(t)

	authenticate(t, conn, "alice")
	sendFrame(t, conn, "s1", TypeSubscribe, SubscribePayload{Destination: event.GameChatTopic("42")})
	awaitFrame(t, conn, TypeSubscribeAck)

	sendFrame(t, conn, "m1", TypeChat, ChatPayload{GameID: "42", Message: "who's in for 5v5?"})

	ack := awaitFrame(t, conn, TypeChatAck)
	var ackPayload ChatAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &ackPayload))
	assert.NotEmpty(t, ackPayload.EventID)

	frame := awaitFrame(t, conn, TypeEvent)
	var delivered EventPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &delivered))
	assert.Equal(t, "s1", delivered.SubID)
	assert.Equal(t, event.GameChatTopic("42"), delivered.Destination)

	var evt event.Event
	require.NoError(t, json.Unmarshal(delivered.Event, &evt))
	assert.Equal(t, ackPayload.EventID, evt.ID)
	assert.Equal(t, event.TypeChatMessage, evt.Type)
	assert.Equal(t, "who's in for 5v5?", evt.Payload["message"])
}

func TestHeartbeatAndTyping(t *testing.T) {
	service, _, conn := newWSTest(t)
	ctx := context.Background()

	authenticate(t, conn, "bob")

	sendFrame(t, conn, "h1", TypeHeartbeat, nil)
	awaitFrame(t, conn, TypeHeartbeatAck)

	sendFrame(t, conn, "t1", TypeTyping, TypingPayload{GameID: "42", Typing: true})

	require.Eventually(t, func() bool {
		users, err := service.Presence().TypingUsers(ctx, "42")
		return err == nil && len(users) == 1 && users[0] == "bob"
	}, 2*time.Second, 20*time.Millisecond)

	sendFrame(t, conn, "t2", TypeTyping, TypingPayload{GameID: "42", Typing: false})
	require.Eventually(t, func() bool {
		users, err := service.Presence().TypingUsers(ctx, "42")
		return err == nil && len(users) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDisconnectMarksOffline(t *testing.T) {
	service, _, conn := newWSTest(t)
	ctx := context.Background()

	authenticate(t, conn, "carol")
	sendFrame(t, conn, "s1", TypeSubscribe, SubscribePayload{Destination: event.GameChatTopic("42")})
	awaitFrame(t, conn, TypeSubscribeAck)

	conn.Close()

	require.Eventually(t, func() bool {
		online, err := service.Presence().IsUserOnline(ctx, "carol")
		return err == nil && !online
	}, 2*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(service.Router().Subscribers("42")) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"/topic/games/42/chat", "/topic/games/42/chat", true},
		{"/topic/games/42/chat", "/topic/games/43/chat", false},
		{"/topic/games/*/chat", "/topic/games/42/chat", true},
		{"/topic/games/42/>", "/topic/games/42/chat/typing", true},
		{"/topic/games/42/>", "/topic/games/42", false},
		{"/topic/>", "/topic/global", true},
		{"", "/topic/global", false},
		{"/topic/global", "/topic/global/extra", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchTopic(tt.pattern, tt.topic),
			"pattern=%s topic=%s", tt.pattern, tt.topic)
	}
}

func TestCheckOrigin(t *testing.T) {
	cfg := Config{AllowedOrigins: []string{"https://app.courtside.io"}}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Host = "api.courtside.io"
	assert.True(t, checkOrigin(req, cfg), "empty origin allowed")

	req.Header.Set("Origin", "https://api.courtside.io")
	assert.True(t, checkOrigin(req, cfg), "same host allowed")

	req.Header.Set("Origin", "https://app.courtside.io")
	assert.True(t, checkOrigin(req, cfg), "allow-listed origin")

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, checkOrigin(req, cfg), "unknown origin rejected")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.False(t, checkOrigin(req, cfg), "localhost rejected without dev mode")
	cfg.AllowDevOrigin = true
	assert.True(t, checkOrigin(req, cfg), "localhost allowed in dev mode")
}
