// Package gateway serves the browser page of a voice session over a websocket.
//
// One connection is one conversation. The first frame from the page is a
// [Hello] carrying the language and whether the browser supports speech
// recognition; the gateway then opens a session through [Sessions] and
// relays between the page and the turn controller for the rest of the
// connection:
//
//   - the capture session drives the page recognizer with mic_start and
//     mic_stop, and recognition_* frames flow back into it;
//   - replies are sent as an audio header plus one binary frame, and the page
//     answers each with playback_ended;
//   - bubbles, history messages and state changes are rendered as frames.
//
// When a server-side recognizer is configured, binary frames from the page are
// microphone audio and are fed to it instead.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gabbyhq/gabby/internal/turn"
	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/stt"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 1 << 20
	closeTimeout            = 5 * time.Second
)

// ErrDraining is reported to pages that connect while the server shuts down.
var ErrDraining = errors.New("gateway: server is shutting down")

// Conversation is the part of a turn controller the gateway drives directly.
// [*turn.Controller] satisfies it.
type Conversation interface {
	SessionID() string
	Submit(ctx context.Context, text string) error
	Listen(ctx context.Context) error
}

var _ Conversation = (*turn.Controller)(nil)

// SessionRequest carries the per-connection pieces a session is built from.
type SessionRequest struct {
	// SessionID is the id announced to the page in the ready frame.
	SessionID string

	// Language is the BCP-47 language requested by the page. May be empty.
	Language string

	// Recognizer is the speech recognizer for this connection.
	Recognizer stt.Recognizer

	// Player plays replies on the page.
	Player audio.Player

	// View renders to the page.
	View turn.View

	// RemoteAddr is the client address, for logging.
	RemoteAddr string
}

// Sessions opens and closes the conversations behind connections.
type Sessions interface {
	// Open builds and opens a conversation. It returns once the greeting has
	// been queued.
	Open(ctx context.Context, req SessionRequest) (Conversation, error)

	// Close ends the conversation and waits for its background work.
	Close(ctx context.Context, sessionID string) error
}

// RecognizerFactory creates a server-side recognizer for one connection.
type RecognizerFactory func() (stt.Recognizer, error)

// Option is a functional option for [NewHandler].
type Option func(*Handler)

// WithRecognizerFactory makes every connection use a server-side recognizer
// fed with the audio frames the page sends, instead of the page recognizer.
func WithRecognizerFactory(f RecognizerFactory) Option {
	return func(h *Handler) {
		h.newRecognizer = f
	}
}

// WithOriginPatterns sets the host patterns allowed to open a websocket
// (for example "localhost:*"). Same-origin requests are always allowed.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = append(h.originPatterns, patterns...)
	}
}

// WithPlaybackSlack sets the time added to a clip's duration before playback
// is given up. Defaults to [DefaultPlaybackSlack].
func WithPlaybackSlack(d time.Duration) Option {
	return func(h *Handler) {
		h.playbackSlack = d
	}
}

// WithHandshakeTimeout bounds the wait for the hello frame.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.handshakeTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.writeTimeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// Handler is the websocket endpoint of the voice page.
type Handler struct {
	sessions         Sessions
	newRecognizer    RecognizerFactory
	originPatterns   []string
	playbackSlack    time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	draining bool
	conns    map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewHandler returns a Handler that opens conversations through sessions.
func NewHandler(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		sessions:         sessions,
		playbackSlack:    DefaultPlaybackSlack,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		logger:           slog.Default(),
		conns:            make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ActiveConnections returns the number of open connections.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// SetPlaybackSlack changes the playback slack of connections opened from now on.
func (h *Handler) SetPlaybackSlack(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playbackSlack = d
}

func (h *Handler) slack() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playbackSlack
}

// Shutdown stops accepting connections, ends every open one and waits for
// them to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	for _, cancel := range h.conns {
		cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway: shutdown: %w", ctx.Err())
	}
}

// track registers a connection. It reports false while draining.
func (h *Handler) track(id string, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.conns[id] = cancel
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	h.wg.Done()
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()
	if draining {
		http.Error(w, ErrDraining.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("gateway: accept websocket", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	if !h.track(sessionID, cancel) {
		conn.Close(websocket.StatusTryAgainLater, ErrDraining.Error())
		return
	}
	defer h.untrack(sessionID)

	c := &connection{
		h:         h,
		conn:      conn,
		ctx:       ctx,
		sessionID: sessionID,
		logger:    h.logger.With("session_id", sessionID, "remote", r.RemoteAddr),
	}
	status, reason := c.serve(r.RemoteAddr)
	conn.Close(status, reason)
}

// connection is the state of one websocket connection.
type connection struct {
	h         *Handler
	conn      *websocket.Conn
	ctx       context.Context
	sessionID string
	logger    *slog.Logger

	peer   *peer
	page   *pageRecognizer
	sink   stt.AudioSink
	player *pagePlayer
	conv   Conversation
}

// serve runs the connection until the page leaves, sends close, or the handler
// shuts down. It returns the websocket close status.
func (c *connection) serve(remote string) (websocket.StatusCode, string) {
	c.peer = newPeer(c.ctx, c.conn, c.h.writeTimeout)

	hello, err := c.readHello()
	if err != nil {
		c.logger.Debug("gateway: handshake failed", "err", err)
		c.fail(err.Error())
		return websocket.StatusPolicyViolation, "handshake failed"
	}

	rec, err := c.recognizer(hello)
	if err != nil {
		c.logger.Error("gateway: create recognizer", "err", err)
		c.fail("speech recognition unavailable")
		return websocket.StatusInternalError, "recognizer unavailable"
	}
	c.player = newPagePlayer(c.peer, c.h.slack())

	if err := c.peer.send(Ready{Type: TypeReady, SessionID: c.sessionID}); err != nil {
		return websocket.StatusGoingAway, "write failed"
	}

	conv, err := c.h.sessions.Open(c.ctx, SessionRequest{
		SessionID:  c.sessionID,
		Language:   strings.TrimSpace(hello.Language),
		Recognizer: rec,
		Player:     c.player,
		View:       &pageView{peer: c.peer, logger: c.logger},
		RemoteAddr: remote,
	})
	if err != nil {
		c.logger.Warn("gateway: open session", "err", err)
		c.fail(err.Error())
		return websocket.StatusTryAgainLater, "session unavailable"
	}
	c.conv = conv
	defer c.closeSession()

	c.logger.Info("gateway: session connected", "language", hello.Language, "speech_supported", hello.SpeechSupported)
	return c.readLoop()
}

func (c *connection) readHello() (Hello, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.h.handshakeTimeout)
	defer cancel()

	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return Hello{}, fmt.Errorf("gateway: read hello: %w", err)
	}
	if typ != websocket.MessageText {
		return Hello{}, badRequest("first frame must be hello", "")
	}
	msg, err := DecodeClientMessage(data)
	if err != nil {
		return Hello{}, err
	}
	hello, ok := msg.(Hello)
	if !ok {
		return Hello{}, badRequest("first frame must be hello", "type")
	}
	return hello, nil
}

func (c *connection) recognizer(hello Hello) (stt.Recognizer, error) {
	if c.h.newRecognizer == nil {
		c.page = newPageRecognizer(c.peer, hello.SpeechSupported)
		return c.page, nil
	}
	rec, err := c.h.newRecognizer()
	if err != nil {
		return nil, err
	}
	if sink, ok := rec.(stt.AudioSink); ok {
		c.sink = sink
	}
	return rec, nil
}

func (c *connection) readLoop() (websocket.StatusCode, string) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return websocket.StatusGoingAway, "server shutting down"
			}
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("gateway: page closed connection", "status", status.String())
			} else {
				c.logger.Debug("gateway: read", "err", err)
			}
			return websocket.StatusNormalClosure, ""
		}

		if typ == websocket.MessageBinary {
			c.audio(data)
			continue
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			c.logger.Debug("gateway: bad frame", "err", err)
			_ = c.peer.send(ErrorMessage{Type: TypeError, Message: err.Error()})
			continue
		}
		if _, ok := msg.(Close); ok {
			return websocket.StatusNormalClosure, "session closed"
		}
		c.dispatch(msg)
	}
}

func (c *connection) dispatch(msg any) {
	switch m := msg.(type) {
	case RecognitionStart, RecognitionResult, RecognitionError, RecognitionEnd:
		if c.page != nil {
			c.page.handle(m)
		}
	case PlaybackEnded:
		c.player.ack(m)
	case Text:
		if err := c.conv.Submit(c.ctx, m.Text); err != nil {
			c.logger.Debug("gateway: typed message rejected", "err", err)
			_ = c.peer.send(ErrorMessage{Type: TypeError, Message: err.Error()})
		}
	case Listen:
		if err := c.conv.Listen(c.ctx); err != nil {
			c.logger.Debug("gateway: listen rejected", "err", err)
		}
	case Hello:
		_ = c.peer.send(ErrorMessage{Type: TypeError, Message: "session already started"})
	}
}

func (c *connection) audio(data []byte) {
	if c.sink == nil {
		return
	}
	if err := c.sink.WriteAudio(data); err != nil {
		c.logger.Debug("gateway: forward audio", "err", err)
	}
}

func (c *connection) fail(message string) {
	_ = c.peer.send(ErrorMessage{Type: TypeError, Message: message, Fatal: true})
}

func (c *connection) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.h.sessions.Close(ctx, c.sessionID); err != nil {
		c.logger.Warn("gateway: close session", "err", err)
	}
	c.logger.Info("gateway: session disconnected")
}
