package audio

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// Common content types returned by TTS backends.
const (
	ContentTypeMPEG = "audio/mpeg"
	ContentTypeWAV  = "audio/wav"
	ContentTypeOGG  = "audio/ogg"
)

// Clip is an encoded audio payload as returned by a TTS backend.
type Clip struct {
	// Data is the encoded audio (mp3, wav, ogg, ...).
	Data []byte

	// ContentType is the MIME type reported by the backend. Empty means unknown.
	ContentType string
}

// IsMPEG reports whether the clip carries mp3 audio.
func (c Clip) IsMPEG() bool {
	ct := strings.ToLower(c.ContentType)
	return ct == ContentTypeMPEG || ct == "audio/mp3"
}

// Duration returns the playback length of an mp3 clip. For other formats it
// returns 0 and a nil error; callers fall back to a size-based estimate.
func (c Clip) Duration() (time.Duration, error) {
	if !c.IsMPEG() {
		return 0, nil
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(c.Data))
	if err != nil {
		return 0, fmt.Errorf("audio: decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		return 0, fmt.Errorf("audio: invalid mp3 sample rate %d", rate)
	}
	// The decoder emits 16-bit stereo PCM: four bytes per sample frame.
	frames := dec.Length() / 4
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

// EstimateDuration returns the clip duration, falling back to a conservative
// estimate from the payload size at the given bitrate (bits per second) when the
// format cannot be decoded.
func (c Clip) EstimateDuration(fallbackBitrate int) time.Duration {
	if d, err := c.Duration(); err == nil && d > 0 {
		return d
	}
	if fallbackBitrate <= 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * 8 * time.Second / time.Duration(fallbackBitrate)
}
