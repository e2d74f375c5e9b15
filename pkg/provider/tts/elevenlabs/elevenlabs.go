// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs text-to-speech REST API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128").
// Only mp3 formats produce clips the browser can play directly.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoice sets the default voice ID.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voice = voiceID
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	voice        string
	baseURL      string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body sent to POST /v1/text-to-speech/{voice_id}.
type speechRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	LanguageCode  string         `json:"language_code,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	if voice == "" {
		return audio.Clip{}, errors.New("elevenlabs: voice must not be empty")
	}
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, errors.New("elevenlabs: text must not be empty")
	}

	body, err := buildSpeechRequest(req.Text, p.model, req.Language)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.speechURL(voice), bytes.NewReader(body))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", audio.ContentTypeMPEG)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: text-to-speech HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Clip{}, fmt.Errorf("elevenlabs: text-to-speech: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(data) == 0 {
		return audio.Clip{}, errors.New("elevenlabs: empty audio payload")
	}
	ct := audio.ContentTypeMPEG
	if !strings.HasPrefix(p.outputFormat, "mp3") {
		ct = "audio/" + strings.SplitN(p.outputFormat, "_", 2)[0]
	}
	return audio.Clip{Data: data, ContentType: ct}, nil
}

// ---- helpers ----

// speechURL constructs the REST URL for a given voice.
func (p *Provider) speechURL(voiceID string) string {
	q := url.Values{}
	q.Set("output_format", p.outputFormat)
	return p.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "?" + q.Encode()
}

// buildSpeechRequest constructs the JSON body for one synthesis call. language
// is reduced to its ISO 639-1 base ("af-ZA" -> "af").
func buildSpeechRequest(text, model, language string) ([]byte, error) {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return json.Marshal(speechRequest{
		Text:         text,
		ModelID:      model,
		LanguageCode: lang,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
}

var _ tts.Provider = (*Provider)(nil)
