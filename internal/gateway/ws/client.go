package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"courtside/internal/realtime"
	"courtside/pkg/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum frame size allowed from the peer.
	maxMessageSize = 64 * 1024

	frameTimeout = 10 * time.Second
)

// Send pings to the peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub     *Hub
	service *realtime.Service

	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan BaseMessage

	// subscriptions maps a client-chosen subscription ID to a topic
	// pattern.
	subscriptions map[string]string
	username      string
	authenticated bool
	mu            sync.Mutex
}

func (c *Client) subscriptionSnapshot() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]string, len(c.subscriptions))
	for id, pattern := range c.subscriptions {
		snapshot[id] = pattern
	}
	return snapshot
}

// Username returns the authenticated username, or "" before auth.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// readPump pumps frames from the websocket connection to the handlers.
// At most one reader runs per connection.
func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			break
		}

		var msg BaseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(msg.ID, "bad_frame", "invalid message")
			continue
		}
		c.handleMessage(msg)
	}
}

// writePump pumps frames from the hub to the websocket connection. At
// most one writer runs per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg BaseMessage) {
	if msg.Type == TypeAuth {
		c.handleAuth(msg)
		return
	}

	c.mu.Lock()
	authed := c.authenticated
	username := c.username
	c.mu.Unlock()
	if !authed {
		c.sendError(msg.ID, "unauthorized", "auth required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch msg.Type {
	case TypeSubscribe:
		c.handleSubscribe(msg, username)
	case TypeUnsubscribe:
		c.handleUnsubscribe(msg, username)
	case TypeHeartbeat:
		if err := c.service.Presence().RecordHeartbeat(ctx, username); err != nil {
			c.sendError(msg.ID, "internal", "heartbeat failed")
			return
		}
		c.reply(BaseMessage{ID: msg.ID, Type: TypeHeartbeatAck})
	case TypePresence:
		var payload PresencePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(msg.ID, "bad_frame", "invalid presence payload")
			return
		}
		if err := c.service.Presence().UpdatePresence(ctx, username, payload.Status, payload.GameID); err != nil {
			c.sendError(msg.ID, "bad_request", err.Error())
		}
	case TypeChat:
		c.handleChat(ctx, msg, username)
	case TypeTyping:
		var payload TypingPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(msg.ID, "bad_frame", "invalid typing payload")
			return
		}
		var err error
		if payload.Typing {
			err = c.service.Chat().StartTyping(ctx, payload.GameID, username)
		} else {
			err = c.service.Chat().StopTyping(ctx, payload.GameID, username)
		}
		if err != nil {
			c.sendError(msg.ID, "bad_request", err.Error())
		}
	case TypeRead:
		var payload ReadPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(msg.ID, "bad_frame", "invalid read payload")
			return
		}
		if err := c.service.Chat().MarkMessageRead(ctx, payload.GameID, payload.MessageID, username); err != nil {
			c.sendError(msg.ID, "bad_request", err.Error())
		}
	default:
		c.sendError(msg.ID, "bad_frame", "unknown message type")
	}
}

// handleAuth binds the connection to a username and marks them online.
// Token validation happens at the edge before the socket reaches us.
func (c *Client) handleAuth(msg BaseMessage) {
	var payload AuthPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Username == "" {
		c.sendError(msg.ID, "invalid_auth", "username required")
		return
	}

	c.mu.Lock()
	c.username = payload.Username
	c.authenticated = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	if err := c.service.Presence().UpdatePresence(ctx, payload.Username, "online", ""); err != nil {
		c.hub.logger.Warn("failed to mark user online", "username", payload.Username, "error", err)
	}

	c.reply(BaseMessage{ID: msg.ID, Type: TypeAuthAck})
}

func (c *Client) handleSubscribe(msg BaseMessage, username string) {
	var payload SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Destination == "" {
		c.sendError(msg.ID, "bad_frame", "destination required")
		return
	}
	if msg.ID == "" {
		c.sendError(msg.ID, "bad_frame", "subscription id required")
		return
	}

	c.mu.Lock()
	c.subscriptions[msg.ID] = payload.Destination
	c.mu.Unlock()

	// Subscribing to a game chat topic joins the room.
	if gameID, ok := event.GameIDFromTopic(payload.Destination); ok {
		c.service.Router().SubscribeToGame(gameID, username)
	}

	c.reply(BaseMessage{ID: msg.ID, Type: TypeSubscribeAck})
}

func (c *Client) handleUnsubscribe(msg BaseMessage, username string) {
	var payload UnsubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(msg.ID, "bad_frame", "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	destination, ok := c.subscriptions[payload.ID]
	delete(c.subscriptions, payload.ID)
	c.mu.Unlock()

	if ok {
		if gameID, found := event.GameIDFromTopic(destination); found {
			c.service.Router().UnsubscribeFromGame(gameID, username)
		}
	}
	c.reply(BaseMessage{ID: msg.ID, Type: TypeUnsubscribeAck})
}

func (c *Client) handleChat(ctx context.Context, msg BaseMessage, username string) {
	var payload ChatPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.sendError(msg.ID, "bad_frame", "invalid chat payload")
		return
	}

	evt, err := c.service.Chat().BroadcastMessage(ctx, payload.GameID, username, payload.Message)
	if err != nil {
		c.sendError(msg.ID, "bad_request", err.Error())
		return
	}
	c.reply(BaseMessage{
		ID:      msg.ID,
		Type:    TypeChatAck,
		Payload: mustMarshal(ChatAckPayload{EventID: evt.ID}),
	})
}

// disconnect tears down the user's server-side state when the socket
// closes: room memberships go away and presence flips to offline.
func (c *Client) disconnect() {
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()
	if username == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	c.service.Router().UnsubscribeAll(username)
	if err := c.service.Presence().MarkUserOffline(ctx, username); err != nil {
		c.hub.logger.Warn("failed to mark user offline", "username", username, "error", err)
	}
}

func (c *Client) reply(msg BaseMessage) {
	select {
	case c.send <- msg:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.reply(BaseMessage{
		ID:      id,
		Type:    TypeError,
		Payload: mustMarshal(ErrorPayload{Code: code, Message: message}),
	})
}

// checkOrigin validates websocket connection origins. Empty origins
// (non-browser clients) and same-host origins are always accepted;
// anything else must appear in the allow list, with localhost accepted
// in dev mode.
func checkOrigin(r *http.Request, cfg Config) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	originHost := strings.Split(u.Host, ":")[0]
	requestHost := strings.Split(r.Host, ":")[0]
	if strings.EqualFold(originHost, requestHost) {
		return true
	}

	if cfg.AllowDevOrigin && (originHost == "localhost" || originHost == "127.0.0.1") {
		return true
	}

	trimmed := strings.TrimRight(origin, "/")
	for _, allowed := range cfg.AllowedOrigins {
		if allowed != "" && strings.EqualFold(strings.TrimRight(allowed, "/"), trimmed) {
			return true
		}
	}
	return false
}
