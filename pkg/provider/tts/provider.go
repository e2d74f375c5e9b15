// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (an HTTP endpoint, OpenAI's
// speech API, ElevenLabs) and turns one assistant reply into a single encoded
// audio clip that the listener plays back in full. Replies are short, so the
// whole clip is synthesised before playback starts.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/gabbyhq/gabby/pkg/audio"
)

// Request describes the speech to synthesise.
type Request struct {
	// Text is the reply to speak. Must be non-empty.
	Text string

	// Language is the optional BCP-47 language code of Text. Backends that cannot
	// use it ignore it.
	Language string

	// Voice is an optional provider-specific voice identifier overriding the
	// provider default.
	Voice string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req into an encoded audio clip. A non-2xx response or a
	// transport failure is returned as an error; an empty payload is also an error.
	Synthesize(ctx context.Context, req Request) (audio.Clip, error)
}
