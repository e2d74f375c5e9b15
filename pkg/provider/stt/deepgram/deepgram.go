// Package deepgram provides a Deepgram-backed speech recognizer using the
// Deepgram streaming WebSocket API. It implements stt.Recognizer and stt.AudioSink:
// the gateway feeds it the audio frames recorded by the browser and it reports
// a cumulative result list shaped like a browser recognizer's.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/gabbyhq/gabby/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en-US"
)

var errNotRunning = errors.New("deepgram: recognizer is not running")

// Option is a functional option for configuring the Deepgram Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithEncoding sets raw audio encoding parameters. Leave unset when the client
// sends containerised audio (webm/opus, ogg); Deepgram detects those itself.
func WithEncoding(encoding string, sampleRate int) Option {
	return func(r *Recognizer) {
		r.encoding = encoding
		r.sampleRate = sampleRate
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) {
		r.endpoint = endpoint
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Recognizer) {
		r.httpClient = hc
	}
}

// Recognizer implements stt.Recognizer backed by the Deepgram streaming API.
// A Recognizer serves one voice session; create one per connection.
type Recognizer struct {
	apiKey     string
	model      string
	encoding   string
	sampleRate int
	endpoint   string
	httpClient *http.Client

	mu  sync.Mutex
	run *run
}

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Start dials Deepgram and begins streaming results to h.
func (r *Recognizer) Start(ctx context.Context, opts stt.Options, h stt.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return errors.New("deepgram: recognizer already running")
	}

	wsURL, err := r.buildURL(opts)
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: r.httpClient,
	})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}

	// The run outlives the Start call; only Stop ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{
		conn:    conn,
		handler: h,
		audio:   make(chan []byte, 256),
		done:    make(chan struct{}),
		cancel:  cancel,
		interim: opts.InterimResults,
	}
	r.run = rn

	h.OnStart()
	go rn.readLoop(runCtx, func() { r.clear(rn) })
	go rn.writeLoop(runCtx)
	return nil
}

// Stop flushes pending audio and closes the stream. OnEnd is delivered once the
// read loop has drained.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	rn := r.run
	r.run = nil
	r.mu.Unlock()
	if rn == nil {
		return nil
	}
	rn.close()
	return nil
}

// WriteAudio queues an audio chunk for delivery to Deepgram.
func (r *Recognizer) WriteAudio(chunk []byte) error {
	r.mu.Lock()
	rn := r.run
	r.mu.Unlock()
	if rn == nil {
		return errNotRunning
	}
	return rn.send(chunk)
}

func (r *Recognizer) clear(rn *run) {
	r.mu.Lock()
	if r.run == rn {
		r.run = nil
	}
	r.mu.Unlock()
}

// buildURL constructs the Deepgram streaming endpoint URL for the given options.
func (r *Recognizer) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = defaultLanguage
	}

	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	if r.encoding != "" {
		q.Set("encoding", r.encoding)
	}
	if r.sampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- run ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// run is one live Deepgram stream.
type run struct {
	conn    *websocket.Conn
	handler stt.Handler
	audio   chan []byte
	interim bool

	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	// results is the cumulative result list; only the last entry may be interim.
	results []stt.Result
}

func (rn *run) send(chunk []byte) error {
	select {
	case <-rn.done:
		return errNotRunning
	case rn.audio <- chunk:
		return nil
	}
}

func (rn *run) close() {
	rn.once.Do(func() {
		close(rn.done)
		// CloseStream makes Deepgram flush and close from its side.
		_ = rn.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
	})
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (rn *run) writeLoop(ctx context.Context) {
	for {
		select {
		case chunk := <-rn.audio:
			if err := rn.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-rn.done:
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and reports result events.
func (rn *run) readLoop(ctx context.Context, onExit func()) {
	defer func() {
		rn.once.Do(func() { close(rn.done) })
		rn.cancel()
		rn.conn.Close(websocket.StatusNormalClosure, "stream closed")
		onExit()
		rn.handler.OnEnd()
	}()

	for {
		_, msg, err := rn.conn.Read(ctx)
		if err != nil {
			select {
			case <-rn.done:
			default:
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					rn.handler.OnError(fmt.Errorf("deepgram: read: %w", err))
				}
			}
			return
		}

		res, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if ev, ok := rn.apply(res); ok {
			rn.handler.OnResult(ev)
		}
	}
}

// apply folds a Deepgram result into the cumulative list. Deepgram reports each
// segment as interim updates followed by one final, which maps onto a single
// slot in the list. Only the last slot may hold an interim result.
func (rn *run) apply(res stt.Result) (stt.Event, bool) {
	if !res.Final && !rn.interim {
		return stt.Event{}, false
	}
	idx := len(rn.results)
	replaced := false
	if idx > 0 && !rn.results[idx-1].Final {
		idx--
		rn.results = rn.results[:idx]
		replaced = true
	}
	if res.Transcript == "" {
		// Silence: an empty result only matters when it clears an interim slot.
		if !replaced {
			return stt.Event{}, false
		}
	} else {
		rn.results = append(rn.results, res)
	}
	return stt.Event{ResultIndex: idx, Results: append([]stt.Result(nil), rn.results...)}, true
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Result.
// Returns (Result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, false
	}
	if resp.Type != "Results" {
		return stt.Result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return stt.Result{
		Transcript: alt.Transcript,
		Final:      resp.IsFinal,
		Confidence: alt.Confidence,
	}, true
}

var (
	_ stt.Recognizer = (*Recognizer)(nil)
	_ stt.AudioSink  = (*Recognizer)(nil)
)
