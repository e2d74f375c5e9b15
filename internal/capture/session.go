// Package capture wraps a continuous speech recognizer into a single-owner
// capture session.
//
// A [Session] turns the recognizer's cumulative result lists into two derived
// strings, the committed final text and the live text (final plus interim),
// and a version counter that is bumped whenever new final words are committed.
// Only one consumer can hold the microphone at a time: [Session.Start] hands out
// a [Token] that [Session.Stop] requires, and every recognizer event is bound to
// the token of the run that produced it so events from an older run are dropped.
//
// All methods are safe for concurrent use. The listener is invoked outside the
// session lock, sequentially per recognition run.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gabbyhq/gabby/pkg/provider/stt"
)

var (
	// ErrBusy is returned by Start while another owner holds the microphone.
	// The session is left untouched.
	ErrBusy = errors.New("capture: session already active")

	// ErrNotOwner is returned by Stop when the token does not belong to the
	// active run.
	ErrNotOwner = errors.New("capture: token does not own the session")
)

// Token identifies one recognition run and its owner.
type Token string

// Update is published to the listener after every recognizer event.
type Update struct {
	// Token is the run that produced the update.
	Token Token

	// LiveText is FinalText followed by the current interim text.
	LiveText string

	// FinalText is every final chunk committed during the run.
	FinalText string

	// FinalVersion is bumped once per non-empty Delta.
	FinalVersion uint64

	// Delta is the exact suffix appended to FinalText by this event.
	Delta string

	// Ended is set when the run terminated because of an error or the end of
	// the stream. Err carries the error, if any.
	Ended bool
	Err   error
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	Token        Token
	Owner        string
	Language     string
	Listening    bool
	LiveText     string
	FinalText    string
	FinalVersion uint64
}

// Option is a functional option for [New].
type Option func(*Session)

// WithLogger sets the logger used for warnings. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithListener registers fn to receive updates.
func WithListener(fn func(Update)) Option {
	return func(s *Session) {
		s.listener = fn
	}
}

// Session is a single-owner speech capture session.
type Session struct {
	rec    stt.Recognizer
	logger *slog.Logger

	mu       sync.Mutex
	listener func(Update)

	owner        string
	token        Token
	language     string
	listening    bool
	finalText    string
	interim      string
	committed    int
	finalVersion uint64
}

// New creates a session around rec.
func New(rec stt.Recognizer, opts ...Option) *Session {
	s := &Session{rec: rec, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetListener replaces the update listener. A nil fn disables notifications.
func (s *Session) SetListener(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// Start begins a continuous recognition run for language on behalf of owner.
// It returns ErrBusy while another run is active. When the recognizer cannot
// offer recognition at all the session stays idle and the returned error wraps
// [stt.ErrUnsupported].
func (s *Session) Start(ctx context.Context, language, owner string) (Token, error) {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return "", ErrBusy
	}
	tok := Token(uuid.NewString())
	s.owner = owner
	s.token = tok
	s.language = language
	s.listening = true
	s.finalText = ""
	s.interim = ""
	s.committed = 0
	s.finalVersion = 0
	s.mu.Unlock()

	opts := stt.Options{Language: language, Continuous: true, InterimResults: true}
	if err := s.rec.Start(ctx, opts, &runHandler{s: s, token: tok}); err != nil {
		s.mu.Lock()
		if s.token == tok {
			s.listening = false
			s.owner = ""
		}
		s.mu.Unlock()
		if errors.Is(err, stt.ErrUnsupported) {
			s.logger.Warn("capture: speech recognition unsupported, microphone disabled",
				"owner", owner, "language", language)
		}
		return "", fmt.Errorf("capture: start recognizer: %w", err)
	}
	return tok, nil
}

// Stop ends the run identified by tok. It is a no-op when nothing is listening
// and returns ErrNotOwner when tok does not match the active run.
func (s *Session) Stop(tok Token) error {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	if tok != s.token {
		s.mu.Unlock()
		return ErrNotOwner
	}
	s.listening = false
	s.owner = ""
	s.mu.Unlock()

	if err := s.rec.Stop(); err != nil {
		return fmt.Errorf("capture: stop recognizer: %w", err)
	}
	return nil
}

// Listening reports whether a run is active.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Owner returns the owner of the active run, or "" when idle.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Token:        s.token,
		Owner:        s.owner,
		Language:     s.language,
		Listening:    s.listening,
		LiveText:     s.liveTextLocked(),
		FinalText:    s.finalText,
		FinalVersion: s.finalVersion,
	}
}

func (s *Session) handleResult(tok Token, ev stt.Event) {
	s.mu.Lock()
	if tok != s.token || !s.listening {
		s.mu.Unlock()
		return
	}
	delta := s.applyLocked(ev)
	u := Update{
		Token:        tok,
		LiveText:     s.liveTextLocked(),
		FinalText:    s.finalText,
		FinalVersion: s.finalVersion,
		Delta:        delta,
	}
	fn := s.listener
	s.mu.Unlock()

	if fn != nil {
		fn(u)
	}
}

func (s *Session) handleEnd(tok Token, err error) {
	s.mu.Lock()
	if tok != s.token || !s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = false
	s.owner = ""
	u := Update{
		Token:        tok,
		LiveText:     s.liveTextLocked(),
		FinalText:    s.finalText,
		FinalVersion: s.finalVersion,
		Ended:        true,
		Err:          err,
	}
	fn := s.listener
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("capture: recognizer failed", "token", string(tok), "err", err)
	}
	if fn != nil {
		fn(u)
	}
}

// applyLocked commits the contiguous run of final results past the committed
// index, rebuilds the interim text and returns the combined final delta.
// Must be called with s.mu held.
func (s *Session) applyLocked(ev stt.Event) string {
	var delta strings.Builder
	i := s.committed
	for i < len(ev.Results) && ev.Results[i].Final {
		delta.WriteString(s.appendFinalLocked(normalize(ev.Results[i].Transcript)))
		i++
	}
	s.committed = i

	var interim []string
	for _, r := range ev.Results[i:] {
		if t := normalize(r.Transcript); t != "" {
			interim = append(interim, t)
		}
	}
	s.interim = strings.Join(interim, " ")

	d := delta.String()
	if d != "" {
		s.finalVersion++
	}
	return d
}

// appendFinalLocked appends chunk to the final text and returns the exact
// suffix that was added. Each final result is one new segment, so repeated
// words are kept; redelivery is handled by the committed index.
func (s *Session) appendFinalLocked(chunk string) string {
	if chunk == "" {
		return ""
	}
	prev := s.finalText
	next := chunk
	if prev != "" {
		next = prev + " " + chunk
	}
	s.finalText = next
	return next[len(prev):]
}

func (s *Session) liveTextLocked() string {
	return normalize(s.finalText + " " + s.interim)
}

// normalize collapses runs of whitespace and trims the ends.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// runHandler delivers the events of one recognition run to the session.
type runHandler struct {
	s     *Session
	token Token
}

func (h *runHandler) OnStart()              {}
func (h *runHandler) OnResult(ev stt.Event) { h.s.handleResult(h.token, ev) }
func (h *runHandler) OnError(err error)     { h.s.handleEnd(h.token, err) }
func (h *runHandler) OnEnd()                { h.s.handleEnd(h.token, nil) }

var _ stt.Handler = (*runHandler)(nil)
