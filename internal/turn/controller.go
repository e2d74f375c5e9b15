// Package turn drives the conversation of one voice session.
//
// A [Controller] owns the turn-taking state machine: it greets the user, turns
// finalized utterances into chat requests, speaks the reply and keeps the
// microphone suspended while the assistant talks so its own voice is never
// transcribed as user input. Only one chat request is ever in flight, because a
// turn can only start from [Listening] and every transition is checked against
// a fixed table.
//
// Every asynchronous step captures the controller generation. [Controller.Close]
// bumps it and cancels the in-flight context, so a reply that arrives after the
// session closed is discarded instead of being applied.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabbyhq/gabby/internal/capture"
	"github.com/gabbyhq/gabby/internal/finalizer"
	"github.com/gabbyhq/gabby/internal/locale"
	"github.com/gabbyhq/gabby/internal/observe"
	"github.com/gabbyhq/gabby/pkg/audio"
	"github.com/gabbyhq/gabby/pkg/provider/chat"
	"github.com/gabbyhq/gabby/pkg/provider/tts"
	"github.com/gabbyhq/gabby/pkg/types"
)

// DefaultRequestTimeout bounds a single chat request.
const DefaultRequestTimeout = 30 * time.Second

// DefaultOwner is the microphone owner id used by the controller.
const DefaultOwner = "voice-chat"

var errEmptyReply = errors.New("turn: chat backend returned an empty reply")

// Mic is the speech capture surface the controller drives.
// [*capture.Session] satisfies it.
type Mic interface {
	Start(ctx context.Context, language, owner string) (capture.Token, error)
	Stop(tok capture.Token) error
	Snapshot() capture.Snapshot
	SetListener(fn func(capture.Update))
}

// View receives everything the page renders. Implementations must be safe for
// concurrent use.
type View interface {
	// Bubble shows, updates, freezes or removes the in-progress user message.
	Bubble(b finalizer.Bubble)

	// Message shows a history entry.
	Message(m types.Message)

	// State reports a conversation state change.
	State(s State)
}

// Recorder persists history entries. [memory.SessionStore] satisfies it.
type Recorder interface {
	WriteEntry(ctx context.Context, entry types.TranscriptEntry) error
}

type nopView struct{}

func (nopView) Bubble(finalizer.Bubble) {}
func (nopView) Message(types.Message)   {}
func (nopView) State(State)             {}

// Option is a functional option for [New].
type Option func(*Controller)

// WithSessionID sets the session id used for logging and the transcript log.
// Defaults to a random UUID.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		c.sessionID = id
	}
}

// WithLanguage sets the BCP-47 language for recognition, replies and the
// localized greeting. Defaults to [locale.DefaultLanguage].
func WithLanguage(lang string) Option {
	return func(c *Controller) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithOwner sets the microphone owner id. Defaults to [DefaultOwner].
func WithOwner(owner string) Option {
	return func(c *Controller) {
		c.owner = owner
	}
}

// WithView sets the page the controller renders to.
func WithView(v View) Option {
	return func(c *Controller) {
		c.view = v
	}
}

// WithRecorder sets the transcript log.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithRequestTimeout bounds each chat request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithProviderNames sets the provider names reported in error metrics.
func WithProviderNames(chatName, ttsName string) Option {
	return func(c *Controller) {
		c.chatName = chatName
		c.ttsName = ttsName
	}
}

// WithFinalizerOptions passes options to the utterance finalizer, such as the
// idle timeout and the suppression window.
func WithFinalizerOptions(opts ...finalizer.Option) Option {
	return func(c *Controller) {
		c.finOpts = append(c.finOpts, opts...)
	}
}

// Controller is the conversation turn controller of one voice session.
// All exported methods are safe for concurrent use.
type Controller struct {
	mic    Mic
	chat   chat.Provider
	tts    tts.Provider
	player audio.Player
	fin    *finalizer.Finalizer

	sessionID      string
	language       string
	owner          string
	view           View
	recorder       Recorder
	metrics        *observe.Metrics
	logger         *slog.Logger
	requestTimeout time.Duration
	chatName       string
	ttsName        string
	finOpts        []finalizer.Option

	mu      sync.Mutex
	state   State
	gen     uint64
	history []types.Message
	tok     capture.Token
	ctx     context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Controller and registers it as the listener of mic.
func New(mic Mic, chatP chat.Provider, speech tts.Provider, player audio.Player, opts ...Option) *Controller {
	c := &Controller{
		mic:            mic,
		chat:           chatP,
		tts:            speech,
		player:         player,
		sessionID:      uuid.NewString(),
		language:       locale.DefaultLanguage,
		owner:          DefaultOwner,
		view:           nopView{},
		metrics:        observe.DefaultMetrics(),
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
		chatName:       "chat",
		ttsName:        "tts",
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("session_id", c.sessionID)

	finOpts := append([]finalizer.Option{
		finalizer.WithLogger(c.logger),
		finalizer.OnCompose(c.onCompose),
		finalizer.OnFinalize(c.onUtterance),
	}, c.finOpts...)
	c.fin = finalizer.New(finOpts...)

	mic.SetListener(c.HandleTranscript)
	return c
}

// ── Accessors ────────────────────────────────────────────────────────────────

// SessionID returns the session id.
func (c *Controller) SessionID() string { return c.sessionID }

// Language returns the session language.
func (c *Controller) Language() string { return c.language }

// State returns the current conversation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speaking reports whether the assistant is speaking.
func (c *Controller) Speaking() bool {
	return c.State() == Speaking
}

// History returns a copy of the conversation history.
func (c *Controller) History() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.history))
	copy(out, c.history)
	return out
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Open starts the session: the localized greeting is added to the history and
// spoken with capture suspended, after which capture resumes and the
// controller moves to [Listening]. Playback runs in the background; Open
// returns once the greeting has been queued.
func (c *Controller) Open(ctx context.Context) error {
	greeting := types.Message{Role: types.RoleAssistant, Content: locale.Greeting(c.language)}

	c.mu.Lock()
	if err := checkTransition(c.state, Speaking); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("turn: open: %w", err)
	}
	c.ctx, c.cancel = context.WithCancel(observe.WithSessionID(ctx, c.sessionID))
	c.state = Speaking
	c.history = append(c.history, greeting)
	gen, runCtx := c.gen, c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("turn: session opened", "language", c.language)
	c.publish(runCtx, greeting, Speaking)
	go func() {
		defer c.wg.Done()
		c.speak(runCtx, gen, greeting.Content)
	}()
	return nil
}

// Close ends the session. It stops capture and the finalizer, cancels any
// in-flight chat, synthesis or playback, and waits for background work to
// finish or ctx to expire. Closing twice is a no-op.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	from := c.state
	c.state = Closed
	c.gen++
	cancel, tok := c.cancel, c.tok
	c.tok = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.fin.Stop()
	if tok != "" {
		if err := c.mic.Stop(tok); err != nil && !errors.Is(err, capture.ErrNotOwner) {
			c.logger.Warn("turn: stop capture on close", "err", err)
		}
	}
	c.view.State(Closed)
	c.logger.Info("turn: session closed", "from", from.String())

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("turn: close: %w", ctx.Err())
	}
}

// Listen restarts capture after the recognizer ended on its own while the
// controller is listening. It is a no-op while capture is running.
func (c *Controller) Listen(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Listening {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("turn: listen in state %s: %w", st, ErrIllegalTransition)
	}
	gen, runCtx := c.gen, c.ctx
	c.mu.Unlock()

	if c.mic.Snapshot().Listening {
		return nil
	}
	tok, err := c.mic.Start(runCtx, c.language, c.owner)
	if err != nil {
		return fmt.Errorf("turn: listen: %w", err)
	}
	c.fin.Rebase(c.mic.Snapshot())

	c.mu.Lock()
	if gen != c.gen || c.state == Closed {
		c.mu.Unlock()
		_ = c.mic.Stop(tok)
		return nil
	}
	c.tok = tok
	c.mu.Unlock()
	return nil
}

// ── Input ────────────────────────────────────────────────────────────────────

// HandleTranscript feeds a capture update. Updates are dropped unless the
// controller is [Listening], which suppresses the assistant's own voice while
// speaking and keeps a second turn from starting while a reply is pending.
func (c *Controller) HandleTranscript(u capture.Update) {
	c.mu.Lock()
	st, ctx := c.state, c.ctx
	if u.Ended && st != Closed && c.tok == u.Token {
		c.tok = ""
	}
	c.mu.Unlock()

	if u.Ended {
		if u.Err != nil {
			c.logger.Warn("turn: capture ended with error", "state", st.String(), "err", u.Err)
		} else {
			c.logger.Debug("turn: capture ended", "state", st.String())
		}
		return
	}
	if st != Listening {
		if ctx != nil {
			c.metrics.RecordSuppressed(ctx, st.String())
		}
		return
	}
	c.fin.Observe(u)
}

// Submit starts a turn from typed text, for pages without speech recognition.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("turn: submit: empty message")
	}
	if err := c.beginTurn(text); err != nil {
		return fmt.Errorf("turn: submit: %w", err)
	}
	// Typed input replaces whatever was being spoken.
	c.fin.Rebase(c.mic.Snapshot())
	return nil
}

func (c *Controller) onCompose(b finalizer.Bubble) {
	if !b.Retracted && c.State() != Listening {
		return
	}
	c.view.Bubble(b)
}

func (c *Controller) onUtterance(u finalizer.Utterance) {
	if err := c.beginTurn(u.Text); err != nil {
		c.logger.Debug("turn: utterance dropped", "reason", string(u.Reason), "err", err)
		return
	}
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	c.metrics.RecordFinalization(ctx, string(u.Reason))
}

// ── Turn flow ────────────────────────────────────────────────────────────────

// beginTurn moves to AwaitingReply, appends the user message and sends the
// chat request in the background.
func (c *Controller) beginTurn(text string) error {
	msg := types.Message{Role: types.RoleUser, Content: text}

	c.mu.Lock()
	if err := checkTransition(c.state, AwaitingReply); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = AwaitingReply
	c.history = append(c.history, msg)
	req := chat.Request{
		Message:  text,
		History:  append([]types.Message(nil), c.history...),
		Language: c.language,
	}
	gen, ctx := c.gen, c.ctx
	// Added under the lock so Close either waits for it or never sees it.
	c.wg.Add(1)
	c.mu.Unlock()

	c.publish(ctx, msg, AwaitingReply)
	go func() {
		defer c.wg.Done()
		c.reply(ctx, gen, req)
	}()
	return nil
}

func (c *Controller) reply(ctx context.Context, gen uint64, req chat.Request) {
	rctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	start := time.Now()
	text, err := c.chat.Reply(rctx, req)
	cancel()
	observe.ObserveDuration(ctx, c.metrics.ChatDuration, start, observe.Attr("provider", c.chatName))

	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errEmptyReply
	}
	mctx := context.WithoutCancel(ctx)

	if !c.current(gen, AwaitingReply) {
		c.logger.Debug("turn: discarding late reply", "err", err)
		c.metrics.RecordTurn(mctx, observe.OutcomeCancelled)
		return
	}

	if err != nil {
		c.logger.Warn("turn: chat request failed", "err", err)
		c.metrics.RecordProviderError(mctx, c.chatName, "chat")
		// The mic stayed on while waiting; speech from that time is not a turn.
		c.fin.Rebase(c.mic.Snapshot())
		// The user may repeat the failed question right away.
		c.fin.Forget()
		apology := types.Message{Role: types.RoleAssistant, Content: locale.ErrorMessage(c.language)}
		if c.advance(ctx, gen, AwaitingReply, Listening, apology) {
			c.metrics.RecordTurn(mctx, observe.OutcomeFailed)
		}
		return
	}

	answer := types.Message{Role: types.RoleAssistant, Content: text}
	if !c.advance(ctx, gen, AwaitingReply, Speaking, answer) {
		c.metrics.RecordTurn(mctx, observe.OutcomeCancelled)
		return
	}
	c.speak(ctx, gen, text)
	c.metrics.RecordTurn(mctx, observe.OutcomeReplied)
}

// speak suspends capture, synthesizes and plays text, then resumes capture
// and returns to Listening. Resumption runs on success and on failure.
func (c *Controller) speak(ctx context.Context, gen uint64, text string) {
	defer c.resume(ctx, gen)
	c.suspend()

	start := time.Now()
	clip, err := c.tts.Synthesize(ctx, tts.Request{Text: text, Language: c.language})
	observe.ObserveDuration(ctx, c.metrics.TTSDuration, start, observe.Attr("provider", c.ttsName))
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("turn: synthesize reply", "err", err)
			c.metrics.RecordProviderError(ctx, c.ttsName, "tts")
		}
		return
	}

	start = time.Now()
	if err := c.player.Play(ctx, clip); err != nil && ctx.Err() == nil {
		c.logger.Warn("turn: playback failed", "content_type", clip.ContentType, "err", err)
	}
	observe.ObserveDuration(ctx, c.metrics.PlaybackDuration, start)
}

// suspend stops capture so the assistant voice is not transcribed.
func (c *Controller) suspend() {
	c.mu.Lock()
	tok := c.tok
	c.tok = ""
	c.mu.Unlock()

	c.fin.Cancel()
	if tok == "" {
		return
	}
	if err := c.mic.Stop(tok); err != nil && !errors.Is(err, capture.ErrNotOwner) {
		c.logger.Warn("turn: suspend capture", "err", err)
	}
}

// resume restarts capture after speaking and moves to Listening.
func (c *Controller) resume(ctx context.Context, gen uint64) {
	if !c.current(gen, Speaking) {
		return
	}
	tok, err := c.mic.Start(ctx, c.language, c.owner)
	if err != nil {
		c.logger.Warn("turn: resume capture", "err", err)
	}
	c.fin.Rebase(c.mic.Snapshot())

	c.mu.Lock()
	if gen != c.gen || c.state != Speaking {
		c.mu.Unlock()
		if tok != "" {
			_ = c.mic.Stop(tok)
		}
		return
	}
	c.tok = tok
	c.state = Listening
	c.mu.Unlock()

	c.view.State(Listening)
}

// current reports whether gen is still the live generation and the controller
// is in state st.
func (c *Controller) current(gen uint64, st State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.state == st
}

// advance appends msg and moves from one state to another if gen is still
// current. It reports whether the move happened.
func (c *Controller) advance(ctx context.Context, gen uint64, from, to State, msg types.Message) bool {
	c.mu.Lock()
	if gen != c.gen || c.state != from {
		c.mu.Unlock()
		return false
	}
	if err := checkTransition(from, to); err != nil {
		c.mu.Unlock()
		c.logger.Error("turn: advance", "err", err)
		return false
	}
	c.state = to
	c.history = append(c.history, msg)
	c.mu.Unlock()

	c.publish(ctx, msg, to)
	return true
}

// publish renders msg and the new state and writes msg to the transcript log.
func (c *Controller) publish(ctx context.Context, msg types.Message, st State) {
	c.view.Message(msg)
	c.view.State(st)
	if c.recorder == nil {
		return
	}
	entry := types.TranscriptEntry{
		SessionID: c.sessionID,
		Language:  c.language,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
	if err := c.recorder.WriteEntry(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("turn: record history entry", "role", msg.Role, "err", err)
	}
}
