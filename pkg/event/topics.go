package event

import (
	"fmt"
	"strings"
)

// Topic naming convention shared with the websocket and NATS gateways.
// Game-scoped topics nest under /topic/games/{id}; user-private
// destinations resolve from the username.
const (
	GlobalTopic = "/topic/global"
)

func GameChatTopic(gameID string) string {
	return fmt.Sprintf("/topic/games/%s/chat", gameID)
}

func GameTypingTopic(gameID string) string {
	return fmt.Sprintf("/topic/games/%s/chat/typing", gameID)
}

func GameReceiptsTopic(gameID string) string {
	return fmt.Sprintf("/topic/games/%s/chat/receipts", gameID)
}

func GamePresenceTopic(gameID string) string {
	return fmt.Sprintf("/topic/games/%s/presence", gameID)
}

func UserTopic(username string) string {
	return fmt.Sprintf("/user/%s/queue/events", username)
}

func LocationTopic(location string) string {
	return fmt.Sprintf("/topic/locations/%s", location)
}

func RoleTopic(role string) string {
	return fmt.Sprintf("/topic/roles/%s", role)
}

// GameIDFromTopic extracts the game ID from a game-scoped destination
// such as /topic/games/42/chat. Returns false for other topics.
func GameIDFromTopic(destination string) (string, bool) {
	const prefix = "/topic/games/"
	if !strings.HasPrefix(destination, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(destination, prefix)
	id, _, found := strings.Cut(rest, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}

// DestinationFor derives the default transport topic for a target and
// routing key. CUSTOM events keep whatever destination the producer set.
func DestinationFor(target Target, routingKey string) string {
	switch target {
	case TargetUser:
		return UserTopic(routingKey)
	case TargetGameRoom:
		return GameChatTopic(routingKey)
	case TargetGlobal:
		return GlobalTopic
	case TargetLocation:
		return LocationTopic(routingKey)
	case TargetRoleBased:
		return RoleTopic(routingKey)
	default:
		return ""
	}
}
