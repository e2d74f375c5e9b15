// Package finalizer decides when the user has finished speaking.
//
// A [Finalizer] consumes the capture updates of a speech session and emits one
// [Utterance] per user turn. An utterance is finalized either when no new live
// text has arrived for the idle timeout, or immediately when the recognizer
// commits new final text, which also cancels the pending idle timer.
//
// Text is turn-relative: once an utterance is emitted, the words it covered are
// marked consumed and only speech after them feeds the next turn. A repeat of
// the last utterance that arrives within the suppression window (the typical
// case is a recognizer final confirming words the idle timer already
// finalized) is absorbed without a second emit.
//
// While a turn is being composed the finalizer publishes a [Bubble] with a
// stable id so the page can render the in-progress message in place.
package finalizer

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/gabbyhq/gabby/internal/capture"
)

// Defaults for [New].
const (
	DefaultIdleTimeout       = 2000 * time.Millisecond
	DefaultSuppressionWindow = 3000 * time.Millisecond
)

// Reason tells why an utterance was finalized.
type Reason string

const (
	// ReasonIdle means the idle timer fired.
	ReasonIdle Reason = "idle"

	// ReasonFinal means the recognizer committed final text.
	ReasonFinal Reason = "final"
)

// Utterance is one finalized user turn.
type Utterance struct {
	BubbleID string
	Text     string
	Reason   Reason
}

// Bubble is the in-progress message for the current turn.
type Bubble struct {
	ID   string
	Text string

	// Final is set on the frozen bubble of a finalized utterance.
	Final bool

	// Retracted is set when the text was dropped without being finalized and
	// the bubble should be removed.
	Retracted bool
}

// Timer is the handle returned by an [AfterFunc].
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once d has elapsed.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option is a functional option for [New].
type Option func(*Finalizer)

// WithIdleTimeout sets the inactivity period after which pending text is
// finalized. Non-positive values are ignored.
func WithIdleTimeout(d time.Duration) Option {
	return func(f *Finalizer) {
		if d > 0 {
			f.idle = d
		}
	}
}

// WithSuppressionWindow sets how long after a finalize a repeat of the same
// words is absorbed. Zero disables repeat suppression across runs.
func WithSuppressionWindow(d time.Duration) Option {
	return func(f *Finalizer) {
		if d >= 0 {
			f.window = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) {
		f.now = now
	}
}

// WithAfterFunc overrides the timer factory. Defaults to time.AfterFunc.
func WithAfterFunc(after AfterFunc) Option {
	return func(f *Finalizer) {
		f.after = after
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Finalizer) {
		f.logger = l
	}
}

// OnCompose registers fn to receive bubble updates while a turn is composed.
func OnCompose(fn func(Bubble)) Option {
	return func(f *Finalizer) {
		f.onCompose = fn
	}
}

// OnFinalize registers fn to receive finalized utterances.
func OnFinalize(fn func(Utterance)) Option {
	return func(f *Finalizer) {
		f.onFinalize = fn
	}
}

// Finalizer turns capture updates into utterances. It is safe for concurrent
// use; callbacks run outside the internal lock.
type Finalizer struct {
	idle       time.Duration
	window     time.Duration
	now        func() time.Time
	after      AfterFunc
	logger     *slog.Logger
	onCompose  func(Bubble)
	onFinalize func(Utterance)

	mu          sync.Mutex
	stopped     bool
	token       capture.Token
	consumed    []string // words of the session text already handed out
	lastVersion uint64
	pending     string
	pendingAll  []string // full session words behind pending
	bubbleID    string
	timer       Timer
	gen         uint64

	lastText string
	lastAt   time.Time
}

// New creates a Finalizer.
func New(opts ...Option) *Finalizer {
	f := &Finalizer{
		idle:   DefaultIdleTimeout,
		window: DefaultSuppressionWindow,
		now:    time.Now,
		after:  realAfterFunc,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// event is a callback invocation collected under the lock.
type event struct {
	bubble    *Bubble
	utterance *Utterance
}

// Observe feeds a capture update.
func (f *Finalizer) Observe(u capture.Update) {
	f.mu.Lock()
	if f.stopped || u.Ended {
		f.mu.Unlock()
		return
	}
	var events []event
	if u.Token != f.token {
		events = f.resetLocked(u.Token, nil, 0)
	}

	if u.FinalVersion > f.lastVersion {
		f.lastVersion = u.FinalVersion
		all := strings.Fields(u.FinalText)
		if text := f.relativeLocked(all); text != "" {
			events = append(events, f.finalizeLocked(text, ReasonFinal, all)...)
		}
	}

	all := strings.Fields(u.LiveText)
	text := f.relativeLocked(all)
	switch {
	case text == "" || text == f.pending:
	case f.repeatLocked(text):
		// A repeat of the words just finalized: absorb without a bubble.
		f.consumed = all
	default:
		if f.bubbleID == "" {
			f.bubbleID = uuid.NewString()
		}
		f.pending = text
		f.pendingAll = all
		f.armLocked()
		events = append(events, event{bubble: &Bubble{ID: f.bubbleID, Text: text}})
	}
	f.mu.Unlock()

	f.dispatch(events)
}

// Cancel stops the idle timer and keeps the pending text.
func (f *Finalizer) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmLocked()
}

// Rebase marks the text of snap as consumed, so only speech that arrives
// afterwards feeds the next utterance. Pending text is dropped.
func (f *Finalizer) Rebase(snap capture.Snapshot) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	events := f.resetLocked(snap.Token, strings.Fields(snap.LiveText), snap.FinalVersion)
	f.mu.Unlock()

	f.dispatch(events)
}

// Forget clears the memory of the last utterance, so an immediate repeat of
// it is emitted as a new turn.
func (f *Finalizer) Forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = ""
	f.lastAt = time.Time{}
}

// Stop cancels the idle timer permanently. Observe is a no-op afterwards.
func (f *Finalizer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.disarmLocked()
}

// Pending returns the text of the turn being composed.
func (f *Finalizer) Pending() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *Finalizer) fire(gen uint64) {
	f.mu.Lock()
	if f.stopped || gen != f.gen || f.pending == "" {
		f.mu.Unlock()
		return
	}
	f.timer = nil
	events := f.finalizeLocked(f.pending, ReasonIdle, f.pendingAll)
	f.mu.Unlock()

	f.dispatch(events)
}

// finalizeLocked emits text and consumes the words behind it.
// Must be called with f.mu held.
func (f *Finalizer) finalizeLocked(text string, reason Reason, all []string) []event {
	f.disarmLocked()
	f.consumed = all
	id := f.bubbleID
	f.bubbleID = ""
	f.pending = ""
	f.pendingAll = nil

	if f.repeatLocked(text) {
		f.logger.Debug("finalizer: repeat absorbed", "text", text, "reason", string(reason))
		if id != "" {
			return []event{{bubble: &Bubble{ID: id, Retracted: true}}}
		}
		return nil
	}
	if id == "" {
		id = uuid.NewString()
	}
	f.lastText = text
	f.lastAt = f.now()
	return []event{
		{bubble: &Bubble{ID: id, Text: text, Final: true}},
		{utterance: &Utterance{BubbleID: id, Text: text, Reason: reason}},
	}
}

// repeatLocked reports whether text repeats the last utterance within the
// suppression window.
func (f *Finalizer) repeatLocked(text string) bool {
	if f.lastText == "" || f.now().Sub(f.lastAt) > f.window {
		return false
	}
	return key(text) == key(f.lastText)
}

// resetLocked starts tracking a new run. Must be called with f.mu held.
func (f *Finalizer) resetLocked(tok capture.Token, consumed []string, version uint64) []event {
	f.disarmLocked()
	var events []event
	if f.bubbleID != "" {
		events = append(events, event{bubble: &Bubble{ID: f.bubbleID, Retracted: true}})
	}
	f.token = tok
	f.consumed = consumed
	f.lastVersion = version
	f.pending = ""
	f.pendingAll = nil
	f.bubbleID = ""
	return events
}

// relativeLocked strips the consumed words from all. Words are compared
// ignoring case and punctuation, so a recognizer re-punctuating its own
// transcript still matches the consumed prefix.
func (f *Finalizer) relativeLocked(all []string) string {
	n := 0
	for n < len(all) && n < len(f.consumed) && wordKey(all[n]) == wordKey(f.consumed[n]) {
		n++
	}
	return strings.Join(all[n:], " ")
}

func (f *Finalizer) armLocked() {
	f.disarmLocked()
	gen := f.gen
	f.timer = f.after(f.idle, func() { f.fire(gen) })
}

func (f *Finalizer) disarmLocked() {
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Finalizer) dispatch(events []event) {
	for _, e := range events {
		switch {
		case e.bubble != nil && f.onCompose != nil:
			f.onCompose(*e.bubble)
		case e.utterance != nil && f.onFinalize != nil:
			f.onFinalize(*e.utterance)
		}
	}
}

// key is the comparison form of a transcript.
func key(text string) string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if k := wordKey(w); k != "" {
			out = append(out, k)
		}
	}
	return strings.Join(out, " ")
}

func wordKey(w string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, w)
}
