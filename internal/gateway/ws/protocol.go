package ws

import "encoding/json"

// Message types.
const (
	TypeAuth           = "auth"
	TypeAuthAck        = "auth_ack"
	TypeSubscribe      = "subscribe"
	TypeSubscribeAck   = "subscribe_ack"
	TypeUnsubscribe    = "unsubscribe"
	TypeUnsubscribeAck = "unsubscribe_ack"
	TypeHeartbeat      = "heartbeat"
	TypeHeartbeatAck   = "heartbeat_ack"
	TypePresence       = "presence"
	TypeChat           = "chat"
	TypeChatAck        = "chat_ack"
	TypeTyping         = "typing"
	TypeRead           = "read"
	TypeEvent          = "event"
	TypeError          = "error"
)

// BaseMessage is the envelope for all frames in both directions.
type BaseMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload identifies the connection's user. Token validation happens
// upstream at the edge; the gateway trusts the forwarded identity.
type AuthPayload struct {
	Username string `json:"username"`
}

// SubscribePayload binds a client subscription to a destination topic.
// A trailing ">" token subscribes to a whole subtree.
type SubscribePayload struct {
	Destination string `json:"destination"`
}

// UnsubscribePayload cancels a subscription by its frame ID.
type UnsubscribePayload struct {
	ID string `json:"id"`
}

// PresencePayload updates the user's status, optionally placing them in
// a game room.
type PresencePayload struct {
	Status string `json:"status"`
	GameID string `json:"gameId,omitempty"`
}

// ChatPayload sends a chat message into a game room.
type ChatPayload struct {
	GameID  string `json:"gameId"`
	Message string `json:"message"`
}

// ChatAckPayload confirms a broadcast message with its event ID.
type ChatAckPayload struct {
	EventID string `json:"eventId"`
}

// TypingPayload toggles the typing indicator in a game room.
type TypingPayload struct {
	GameID string `json:"gameId"`
	Typing bool   `json:"typing"`
}

// ReadPayload records a read receipt for a message.
type ReadPayload struct {
	GameID    string `json:"gameId"`
	MessageID string `json:"messageId"`
}

// EventPayload carries one routed event to the client (server to
// client only).
type EventPayload struct {
	SubID       string          `json:"subId"`
	Destination string          `json:"destination"`
	Event       json.RawMessage `json:"event"`
}

// ErrorPayload reports a rejected frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v) // internal types only
	return b
}
