// Package session holds conversation state: history rendering for prompts,
// background summary compression, and the persistent conversation store.
package session

import (
	"strings"

	"tapcanvas/internal/types"
)

// tailKeep is how many recent messages stay verbatim when compacting.
const tailKeep = 16

// FormatMessages renders conversation messages as "User:"/"Assistant:"
// lines for prompt interpolation.
func FormatMessages(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case types.RoleUser:
			b.WriteString("User: ")
		case types.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// Tail returns the last n messages.
func Tail(messages []types.Message, n int) []types.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// CompactConversation renders the running summary plus the recent turns for
// the router prompt.
func CompactConversation(summary string, messages []types.Message) string {
	recent := FormatMessages(Tail(messages, tailKeep))
	if strings.TrimSpace(summary) == "" {
		return recent
	}
	return "Conversation summary:\n" + strings.TrimSpace(summary) + "\n\nRecent turns:\n" + recent
}

// ResearchTopic condenses the conversation into the topic line of the
// answer prompt: the sole message verbatim, otherwise the rendered history.
func ResearchTopic(messages []types.Message) string {
	if len(messages) == 1 {
		return strings.TrimSpace(messages[0].Content)
	}
	return FormatMessages(messages)
}

// TopicWithSummary prefixes the research topic with the durable summary so
// the answer prompt stays bounded on long threads.
func TopicWithSummary(summary string, messages []types.Message, tail int) string {
	topic := ResearchTopic(Tail(messages, tail))
	s := strings.TrimSpace(summary)
	if s == "" {
		return topic
	}
	if strings.TrimSpace(topic) == "" {
		return s
	}
	return "Conversation summary:\n" + s + "\n\nRecent conversation:\n" + topic
}
