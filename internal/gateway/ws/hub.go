// Package ws is the websocket gateway: clients authenticate, subscribe
// to destination topics and exchange chat, typing and presence frames.
// Routed events arrive over the pubsub transport and fan out to every
// matching subscription.
package ws

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"courtside/internal/core/pubsub"
)

// Hub maintains the set of active clients and fans transport messages
// out to them.
type Hub struct {
	provider pubsub.Provider
	logger   *slog.Logger

	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	dropped atomic.Int64

	runCtx   context.Context
	runCtxMu sync.RWMutex
}

// NewHub creates an idle hub. Run starts it.
func NewHub(provider pubsub.Provider, logger *slog.Logger) *Hub {
	return &Hub{
		provider:   provider,
		logger:     logger.With("component", "ws_hub"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run consumes the full topic space from the transport and dispatches
// until the context is cancelled. Blocks.
func (h *Hub) Run(ctx context.Context) error {
	h.setRunCtx(ctx)

	consumer, err := h.provider.NewConsumer(pubsub.DefaultConsumerOptions())
	if err != nil {
		return err
	}
	messages, err := consumer.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdownClients()
			return nil
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg, ok := <-messages:
			if !ok {
				h.shutdownClients()
				return nil
			}
			h.dispatch(msg)
		}
	}
}

// dispatch fans one transport message out to every matching client
// subscription. Slow clients lose frames rather than stalling the fan
// out loop.
func (h *Hub) dispatch(msg pubsub.Message) {
	topic := msg.Topic()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		for subID, pattern := range client.subscriptionSnapshot() {
			if !matchTopic(pattern, topic) {
				continue
			}
			frame := BaseMessage{
				Type: TypeEvent,
				Payload: mustMarshal(EventPayload{
					SubID:       subID,
					Destination: topic,
					Event:       msg.Data(),
				}),
			}
			select {
			case client.send <- frame:
			default:
				h.dropped.Add(1)
				h.logger.Warn("dropping frame for slow client",
					"username", client.Username(), "destination", topic)
			}
		}
	}
}

// Register adds a client. Returns false once the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.Done():
		return false
	}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.Done():
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedFrames returns how many frames were discarded for slow clients.
func (h *Hub) DroppedFrames() int64 {
	return h.dropped.Load()
}

func (h *Hub) setRunCtx(ctx context.Context) {
	h.runCtxMu.Lock()
	h.runCtx = ctx
	h.runCtxMu.Unlock()
}

// Done reports hub shutdown. Nil before Run.
func (h *Hub) Done() <-chan struct{} {
	h.runCtxMu.RLock()
	defer h.runCtxMu.RUnlock()
	if h.runCtx == nil {
		return nil
	}
	return h.runCtx.Done()
}

func (h *Hub) shutdownClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// matchTopic matches a slash-delimited topic against a subscription
// pattern: "*" matches one token, a trailing ">" matches the rest.
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if pattern == "" {
		return false
	}
	pTokens := strings.Split(strings.Trim(pattern, "/"), "/")
	tTokens := strings.Split(strings.Trim(topic, "/"), "/")
	for i, p := range pTokens {
		if p == ">" {
			// ">" must be last and match at least one token.
			return i == len(pTokens)-1 && i < len(tTokens)
		}
		if i >= len(tTokens) {
			return false
		}
		if p != "*" && p != tTokens[i] {
			return false
		}
	}
	return len(pTokens) == len(tTokens)
}
