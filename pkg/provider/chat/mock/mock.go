// Package mock provides a test double for the chat.Provider interface.
//
// Use Provider in unit tests to verify that the turn controller sends the right
// history and language, and to feed controlled replies without a live backend.
//
// Example:
//
//	p := &mock.Provider{ReplyText: "Sunny all day."}
//	reply, err := p.Reply(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/types"
)

// ReplyCall records a single invocation of Reply.
type ReplyCall struct {
	// Ctx is the context passed to Reply.
	Ctx context.Context
	// Req is a copy of the Request passed to Reply.
	Req chat.Request
}

// Provider is a mock implementation of chat.Provider.
type Provider struct {
	mu sync.Mutex

	// ReplyText is returned by Reply when ReplyErr is nil.
	ReplyText string

	// ReplyErr, if non-nil, is returned as the error from Reply.
	ReplyErr error

	// Block, if non-nil, makes Reply wait until the channel is closed or ctx is done.
	Block chan struct{}

	// Called, if non-nil, receives every request when Reply begins. Sends never block.
	Called chan chat.Request

	// ReplyCalls records every invocation of Reply in order.
	ReplyCalls []ReplyCall
}

// Reply records the call and returns ReplyText, ReplyErr.
func (p *Provider) Reply(ctx context.Context, req chat.Request) (string, error) {
	cp := req
	cp.History = append([]types.Message(nil), req.History...)

	p.mu.Lock()
	p.ReplyCalls = append(p.ReplyCalls, ReplyCall{Ctx: ctx, Req: cp})
	block := p.Block
	called := p.Called
	p.mu.Unlock()

	if called != nil {
		select {
		case called <- cp:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ReplyText, p.ReplyErr
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []ReplyCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ReplyCall, len(p.ReplyCalls))
	copy(out, p.ReplyCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReplyCalls = nil
}

var _ chat.Provider = (*Provider)(nil)
