package resilience

import (
	"context"
	"errors"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

// errEmptyClip marks a synthesis that returned no audio.
var errEmptyClip = errors.New("resilience: empty audio clip")

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Synthesize renders req with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Clip, error) {
		clip, err := p.Synthesize(ctx, req)
		if err != nil {
			return audio.Clip{}, err
		}
		if len(clip.Data) == 0 {
			return audio.Clip{}, errEmptyClip
		}
		return clip, nil
	})
}
