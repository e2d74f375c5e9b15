// Package types defines the shared types used across Gabby packages.
//
// Each package defines its own domain types, but the conversation message that
// flows between the turn controller, the chat providers and the transcript log
// lives here to avoid circular imports.
package types

import "time"

// Message roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single entry of a conversation history.
type Message struct {
	// Role is one of RoleUser, RoleAssistant or RoleSystem.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// IsValid reports whether m carries a known role.
func (m Message) IsValid() bool {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// TranscriptEntry is a history message as written to the session log.
type TranscriptEntry struct {
	// SessionID identifies the voice session the entry belongs to.
	SessionID string

	// Language is the BCP-47 language code active when the entry was written.
	Language string

	// Message is the history entry.
	Message Message

	// Timestamp is when the entry was appended.
	Timestamp time.Time
}
