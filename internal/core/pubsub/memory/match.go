package memory

import "strings"

// matchTopic checks if a topic matches a pattern. Topics are
// slash-delimited paths; "*" matches a single segment and a trailing
// ">" matches one or more remaining segments.
func matchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == ">" {
		return true
	}

	patternParts := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	topicParts := strings.Split(strings.TrimPrefix(topic, "/"), "/")

	for i, p := range patternParts {
		if p == ">" {
			return i < len(topicParts)
		}
		if i >= len(topicParts) {
			return false
		}
		if p != "*" && p != topicParts[i] {
			return false
		}
	}
	return len(patternParts) == len(topicParts)
}
