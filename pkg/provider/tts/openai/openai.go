// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
	outputFormat = "mp3"
)

// Provider implements tts.Provider using the OpenAI audio speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

type config struct {
	baseURL    string
	model      string
	voice      string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithVoice sets the default voice (e.g., "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil || cfg.timeout > 0 {
		hc := &http.Client{}
		if cfg.httpClient != nil {
			cp := *cfg.httpClient
			hc = &cp
		}
		if cfg.timeout > 0 {
			hc.Timeout = cfg.timeout
		}
		reqOpts = append(reqOpts, option.WithHTTPClient(hc))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, errors.New("openai tts: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Input: req.Text,
		Model: oai.SpeechModel(p.model),
	}
	// Voice and format are set on the raw body so custom voice ids pass through.
	resp, err := p.client.Audio.Speech.New(ctx, params,
		option.WithJSONSet("voice", voice),
		option.WithJSONSet("response_format", outputFormat),
	)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return audio.Clip{}, errors.New("openai tts: empty audio payload")
	}
	return audio.Clip{Data: data, ContentType: audio.ContentTypeMPEG}, nil
}

var _ tts.Provider = (*Provider)(nil)
