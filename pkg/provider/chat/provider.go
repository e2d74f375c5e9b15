// Package chat defines the Provider interface for conversational reply backends.
//
// A chat provider takes the finalized user utterance together with the rolling
// conversation history and the session language, and returns the assistant's
// reply text. Backends range from a plain HTTP JSON endpoint to hosted LLM APIs;
// the turn controller does not care which one answers.
//
// Implementations must be safe for concurrent use and must return promptly when
// ctx is cancelled.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabbyhq/gabby/pkg/types"
)

// DefaultSystemPrompt is used by LLM-backed providers unless overridden. The %s
// verb receives the BCP-47 language code of the session.
const DefaultSystemPrompt = "You are Gabby, a friendly personal assistant speaking with the user by voice. " +
	"Always answer in the language identified by the code %s. " +
	"Keep replies short and conversational, and avoid markdown, lists or emoji because the reply is read aloud."

// Request carries everything a backend needs to produce a reply.
type Request struct {
	// Message is the user utterance that triggered this turn.
	Message string `json:"message"`

	// History is the ordered conversation so far. It normally ends with the user
	// entry for Message.
	History []types.Message `json:"history"`

	// Language is the BCP-47 language code of the session (e.g., "en-US").
	Language string `json:"language"`
}

// Provider is the abstraction over any chat backend.
type Provider interface {
	// Reply sends req to the backend and returns the assistant's reply text.
	// An empty reply is reported as an error.
	Reply(ctx context.Context, req Request) (string, error)
}

// Conversation returns the message list an LLM should see for req: the history,
// with the user message appended when the history does not already end with it.
func Conversation(req Request) []types.Message {
	msgs := make([]types.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	n := len(msgs)
	if req.Message != "" && (n == 0 || msgs[n-1].Role != types.RoleUser || msgs[n-1].Content != req.Message) {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Content: req.Message})
	}
	return msgs
}

// SystemPrompt renders a system prompt template for language. Templates without
// a %s verb are returned unchanged.
func SystemPrompt(template, language string) string {
	if template == "" {
		template = DefaultSystemPrompt
	}
	if !strings.Contains(template, "%s") {
		return template
	}
	if language == "" {
		language = "en-US"
	}
	return fmt.Sprintf(template, language)
}
