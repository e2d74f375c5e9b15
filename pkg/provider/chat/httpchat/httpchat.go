// Package httpchat provides a chat provider that talks to a plain HTTP JSON
// endpoint. It implements the chat.Provider interface.
//
// The endpoint receives
//
//	POST {url}
//	{"message": "...", "history": [{"role": "user", "content": "..."}], "language": "en-US"}
//
// and must answer with a 2xx status and {"reply": "..."}. Any other status is a
// failure.
//
// Typical usage:
//
//	p, err := httpchat.New("https://gabby.example.com/api/chat",
//	    httpchat.WithHeader("Authorization", "Bearer "+token),
//	    httpchat.WithTimeout(20*time.Second),
//	)
//	reply, err := p.Reply(ctx, req)
package httpchat

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

	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/types"
)

// Compile-time interface assertion.
var _ chat.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response body is kept in errors.
	maxErrorBody = 512
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("httpchat: backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("httpchat: backend returned status %d: %s", e.StatusCode, e.Body)
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

// Provider implements chat.Provider against an HTTP JSON endpoint.
type Provider struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	headers    http.Header
}

// New creates a Provider posting to url. url must be non-empty.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("httpchat: url must not be empty")
	}
	p := &Provider{
		url:        url,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		headers:    http.Header{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// request is the JSON body sent to the backend.
type request struct {
	Message  string          `json:"message"`
	History  []types.Message `json:"history"`
	Language string          `json:"language"`
}

// response is the JSON body returned by the backend.
type response struct {
	Reply string `json:"reply"`
}

// Reply implements chat.Provider.
func (p *Provider) Reply(ctx context.Context, req chat.Request) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	hist := req.History
	if hist == nil {
		hist = []types.Message{}
	}
	data, err := json.Marshal(request{Message: req.Message, History: hist, Language: req.Language})
	if err != nil {
		return "", fmt.Errorf("httpchat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("httpchat: create request: %w", err)
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("httpchat: POST %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("httpchat: decode response: %w", err)
	}
	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return "", errors.New("httpchat: empty reply")
	}
	return reply, nil
}
