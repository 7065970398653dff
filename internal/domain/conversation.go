// Package domain contains the core business entities and value objects.
// These structs are framework-agnostic and represent the heart of the application.
package domain

import "unicode/utf8"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxHistoryLength is the default cap on the total content length of a history.
const DefaultMaxHistoryLength = 4000

// ConversationTurn is a single message in a user's conversation.
type ConversationTurn struct {
	// Role is one of: "system", "user", "assistant".
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// History is the chronological list of turns for one user.
type History []ConversationTurn

// ContentLength returns the total content length of the history in code points.
func (h History) ContentLength() int {
	total := 0
	for _, turn := range h {
		total += utf8.RuneCountInString(turn.Content)
	}
	return total
}

// Clone returns a copy that shares no backing array with h.
func (h History) Clone() History {
	if h == nil {
		return History{}
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Append returns a new history with the turn added at the end.
func (h History) Append(role Role, content string) History {
	out := make(History, 0, len(h)+1)
	out = append(out, h...)
	return append(out, ConversationTurn{Role: role, Content: content})
}

// Trim evicts the oldest turns until the total content length is at most maxLength.
// The input slice is not modified.
func Trim(h History, maxLength int) History {
	current := h.ContentLength()
	start := 0
	for start < len(h) && current > maxLength {
		current -= utf8.RuneCountInString(h[start].Content)
		start++
	}
	return h[start:].Clone()
}

// UserID keys a conversation history. Empty and "0" identify anonymous callers.
type UserID string

// IsAnonymous reports whether history should be skipped for this caller.
func (u UserID) IsAnonymous() bool {
	return u == "" || u == "0"
}
