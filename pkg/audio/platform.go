// Package audio defines the playback abstraction used by the turn controller.
//
// The server never renders audio itself. A [Player] hands a synthesised [Clip]
// to whatever owns the speakers (the browser page behind the gateway websocket)
// and blocks until playback has finished or failed. The turn controller relies on
// that completion signal to resume speech capture.
package audio

import (
	"context"
	"errors"
)

// ErrPlaybackTimeout is returned when the listener never acknowledges the end of
// playback within the expected duration of the clip.
var ErrPlaybackTimeout = errors.New("audio: playback timed out")

// Player plays synthesised speech.
//
// Implementations must be safe for concurrent use, although the turn controller
// never plays more than one clip at a time per session.
type Player interface {
	// Play delivers clip to the listener and returns once playback has ended.
	// A non-nil error means playback failed or was cut short; callers must treat
	// both outcomes as the end of playback. Play returns ctx.Err() when ctx is
	// cancelled first.
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts a function to the [Player] interface.
type PlayerFunc func(ctx context.Context, clip Clip) error

// Play implements [Player].
func (f PlayerFunc) Play(ctx context.Context, clip Clip) error { return f(ctx, clip) }
