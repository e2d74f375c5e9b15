package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/gabbyhq/gabby/pkg/provider/chat"
)

// errEmptyReply marks a blank chat reply so the next backend is tried.
var errEmptyReply = errors.New("resilience: empty chat reply")

// ChatFallback implements [chat.Provider] with failover across several chat
// backends. A blank reply counts as a failure of that backend.
type ChatFallback struct {
	group *FallbackGroup[chat.Provider]
}

var _ chat.Provider = (*ChatFallback)(nil)

// NewChatFallback creates a [ChatFallback] with primary as the preferred backend.
func NewChatFallback(primary chat.Provider, primaryName string, cfg FallbackConfig) *ChatFallback {
	return &ChatFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional chat backend.
func (f *ChatFallback) AddFallback(name string, p chat.Provider) {
	f.group.AddFallback(name, p)
}

// Status reports the breaker state of every backend.
func (f *ChatFallback) Status() []EntryStatus { return f.group.Status() }

// Reply asks the first healthy backend for a reply.
func (f *ChatFallback) Reply(ctx context.Context, req chat.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p chat.Provider) (string, error) {
		reply, err := p.Reply(ctx, req)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(reply) == "" {
			return "", errEmptyReply
		}
		return reply, nil
	})
}
