// Package event defines the canonical event schema for the realtime core.
// All producers and consumers MUST use these types; payloads are opaque to
// the routing layer and owned by the producing façade.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders events for per-recipient filtering. Higher values win.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name used in JSON and logs.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Target selects the delivery topology for an event.
type Target string

const (
	TargetUser      Target = "user"
	TargetGameRoom  Target = "game_room"
	TargetGlobal    Target = "global"
	TargetLocation  Target = "location"
	TargetRoleBased Target = "role_based"
	TargetCustom    Target = "custom"
)

// IsValid checks if the target is a known valid type.
func (t Target) IsValid() bool {
	switch t {
	case TargetUser, TargetGameRoom, TargetGlobal, TargetLocation, TargetRoleBased, TargetCustom:
		return true
	default:
		return false
	}
}

// Well-known event types. Producers may introduce further types; the
// router treats the type as an opaque tag.
const (
	TypeChatMessage     = "chat_message"
	TypeChatTyping      = "chat_typing"
	TypeChatReadReceipt = "chat_read_receipt"
	TypeUserPresence    = "user_presence"
	TypeNotification    = "notification"
	TypeActivityFeed    = "activity_feed"
	TypeGameCancelled   = "game_cancelled"
	TypeSystemAnnounce  = "system_announcement"
)

// Payload carries the type-specific body of an event. The routing layer
// never inspects it beyond the optional "username" sender hint used by
// the block-list filter.
type Payload map[string]any

// Sender extracts the originating username from the payload, if the
// producer recorded one.
func (p Payload) Sender() (string, bool) {
	v, ok := p["username"].(string)
	return v, ok && v != ""
}

// Event is an immutable realtime event record.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Priority    Priority  `json:"priority"`
	Target      Target    `json:"target"`
	RoutingKey  string    `json:"routingKey"`
	Destination string    `json:"destination"`
	Payload     Payload   `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	// TTLSeconds of zero means the event never expires before the
	// store's retention ceiling.
	TTLSeconds int64 `json:"ttlSeconds,omitempty"`
	Persistent bool  `json:"persistent"`
}

// New creates an event with a fresh ID and the current timestamp. The
// destination is derived from target and routing key.
func New(eventType string, priority Priority, target Target, routingKey string, payload Payload) *Event {
	return &Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		Priority:    priority,
		Target:      target,
		RoutingKey:  routingKey,
		Destination: DestinationFor(target, routingKey),
		Payload:     payload,
		Timestamp:   time.Now(),
	}
}

// WithTTL sets the expiry window and returns the event for chaining.
func (e *Event) WithTTL(seconds int64) *Event {
	e.TTLSeconds = seconds
	return e
}

// WithPersistence marks the event as durable for offline replay.
func (e *Event) WithPersistence() *Event {
	e.Persistent = true
	return e
}

// WithDestination overrides the derived destination. Used by façades
// whose topics carry a sub-path (typing, receipts).
func (e *Event) WithDestination(dest string) *Event {
	e.Destination = dest
	return e
}

// IsExpired reports whether the event's TTL has elapsed. Events with no
// TTL never expire here.
func (e *Event) IsExpired() bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return time.Now().After(e.Timestamp.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// ExpiresAt returns the absolute expiry instant and whether one exists.
func (e *Event) ExpiresAt() (time.Time, bool) {
	if e.TTLSeconds <= 0 {
		return time.Time{}, false
	}
	return e.Timestamp.Add(time.Duration(e.TTLSeconds) * time.Second), true
}

// Validate checks the fields the router depends on.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("event is nil")
	}
	if e.ID == "" {
		return fmt.Errorf("event id is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is empty")
	}
	if !e.Target.IsValid() {
		return fmt.Errorf("unknown event target %q", e.Target)
	}
	if e.RoutingKey == "" && e.Target != TargetGlobal {
		return fmt.Errorf("event routing key is empty for target %s", e.Target)
	}
	return nil
}
