package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabbyhq/gabby/pkg/audio"
)

const (
	// DefaultPlaybackSlack is added to the clip duration before playback is
	// considered lost.
	DefaultPlaybackSlack = 5 * time.Second

	// fallbackBitrate sizes the timeout of clips that cannot be decoded.
	// 32 kbit/s over-estimates the duration of typical speech encodings.
	fallbackBitrate = 32_000
)

// pagePlayer implements [audio.Player] by sending the clip to the page and
// waiting for its playback_ended acknowledgement.
type pagePlayer struct {
	peer  *peer
	slack time.Duration

	mu      sync.Mutex
	pending map[string]chan error
}

var _ audio.Player = (*pagePlayer)(nil)

func newPagePlayer(p *peer, slack time.Duration) *pagePlayer {
	if slack <= 0 {
		slack = DefaultPlaybackSlack
	}
	return &pagePlayer{peer: p, slack: slack, pending: make(map[string]chan error)}
}

// Play implements [audio.Player]. It returns [audio.ErrPlaybackTimeout] when
// the page does not acknowledge the clip within its duration plus slack.
func (p *pagePlayer) Play(ctx context.Context, clip audio.Clip) error {
	id := uuid.NewString()
	done := make(chan error, 1)

	p.mu.Lock()
	p.pending[id] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	contentType := clip.ContentType
	if contentType == "" {
		contentType = audio.ContentTypeMPEG
	}
	if err := p.peer.sendClip(AudioHeader{Type: TypeAudio, ClipID: id, ContentType: contentType}, clip.Data); err != nil {
		return err
	}

	timer := time.NewTimer(clip.EstimateDuration(fallbackBitrate) + p.slack)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return audio.ErrPlaybackTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ack resolves the Play call waiting for msg.ClipID. Unknown ids are ignored.
func (p *pagePlayer) ack(msg PlaybackEnded) {
	p.mu.Lock()
	done, ok := p.pending[msg.ClipID]
	p.mu.Unlock()
	if !ok {
		return
	}
	var err error
	if msg.Error != "" {
		err = fmt.Errorf("gateway: page playback failed: %s", msg.Error)
	}
	select {
	case done <- err:
	default:
	}
}
