// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed a controlled audio clip to consumers and to verify the text
// and language that reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Clip: audio.Clip{Data: []byte("mp3"), ContentType: audio.ContentTypeMPEG}}
//	clip, _ := p.Synthesize(ctx, tts.Request{Text: "Hello"})
package mock

import (
	"context"
	"sync"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the Request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Clip is returned by Synthesize when Err is nil. A zero Clip is replaced by a
	// one-byte mp3 placeholder so consumers always receive a payload.
	Clip audio.Clip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Clip, Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return audio.Clip{}, p.Err
	}
	if len(p.Clip.Data) == 0 {
		return audio.Clip{Data: []byte{0}, ContentType: audio.ContentTypeMPEG}, nil
	}
	return p.Clip, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Texts returns the text of every Synthesize call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Req.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

var _ tts.Provider = (*Provider)(nil)
