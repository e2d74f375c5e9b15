// Package mock provides an in-memory implementation of [audio.Player] for use in
// unit tests.
//
// The mock is safe for concurrent use. It records every clip it was asked to
// play, and exposes fields that control the outcome of playback.
//
// Typical usage:
//
//	p := &mock.Player{Block: make(chan struct{})}
//	go controller.Open(ctx)
//	// ... assert the controller is Speaking ...
//	close(p.Block)
package mock

import (
	"context"
	"sync"

	"github.com/gabbyhq/gabby/pkg/audio"
)

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// Err is returned by every Play call once playback has "finished".
	Err error

	// Block, if non-nil, makes Play wait until the channel is closed or ctx is done.
	Block chan struct{}

	// Started, if non-nil, receives every clip when Play begins. Sends never block.
	Started chan audio.Clip

	// Clips records every clip passed to Play in order.
	Clips []audio.Clip
}

// Play records the clip and returns Err after Block is released.
func (p *Player) Play(ctx context.Context, clip audio.Clip) error {
	p.mu.Lock()
	p.Clips = append(p.Clips, clip)
	block := p.Block
	started := p.Started
	err := p.Err
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- clip:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PlayCount returns the number of Play calls. Thread-safe.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clips)
}

var _ audio.Player = (*Player)(nil)
