// Package httptts provides a TTS provider that posts text to an HTTP endpoint and
// receives an encoded audio blob. It implements the tts.Provider interface.
//
// The endpoint receives
//
//	POST {url}
//	{"text": "...", "language": "en-US"}
//
// where language is omitted when unknown, and must answer with a 2xx status and
// the audio payload as the body. The Content-Type header of the response is kept
// on the returned clip.
package httptts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	// maxAudioBytes bounds the accepted payload; a spoken reply is far smaller.
	maxAudioBytes = 16 << 20
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httptts: backend returned status %d", e.StatusCode)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers.Set(key, value)
	}
}

// WithDefaultContentType sets the content type assumed when the backend sends
// none. Defaults to audio/mpeg.
func WithDefaultContentType(ct string) Option {
	return func(p *Provider) {
		p.defaultContentType = ct
	}
}

// Provider implements tts.Provider against an HTTP endpoint.
type Provider struct {
	url                string
	httpClient         *http.Client
	timeout            time.Duration
	headers            http.Header
	defaultContentType string
}

// New creates a Provider posting to url. url must be non-empty.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("httptts: url must not be empty")
	}
	p := &Provider{
		url:                url,
		httpClient:         http.DefaultClient,
		timeout:            defaultTimeout,
		headers:            http.Header{},
		defaultContentType: audio.ContentTypeMPEG,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// request is the JSON body sent to the backend.
type request struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return audio.Clip{}, errors.New("httptts: text must not be empty")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data, err := json.Marshal(request{Text: req.Text, Language: req.Language})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("httptts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("httptts: create request: %w", err)
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/*")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("httptts: POST %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return audio.Clip{}, &StatusError{StatusCode: resp.StatusCode}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("httptts: read audio: %w", err)
	}
	if len(payload) == 0 {
		return audio.Clip{}, errors.New("httptts: empty audio payload")
	}
	if len(payload) > maxAudioBytes {
		return audio.Clip{}, fmt.Errorf("httptts: audio payload exceeds %d bytes", maxAudioBytes)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = p.defaultContentType
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return audio.Clip{Data: payload, ContentType: ct}, nil
}
