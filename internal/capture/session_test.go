package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gabbyhq/gabby/pkg/provider/stt"
	sttmock "github.com/gabbyhq/gabby/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) record(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) all() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Update(nil), l.updates...)
}

func (l *updateLog) last(t *testing.T) Update {
	t.Helper()
	all := l.all()
	if len(all) == 0 {
		t.Fatal("no updates published")
	}
	return all[len(all)-1]
}

func newSession(t *testing.T) (*Session, *sttmock.Recognizer, *updateLog) {
	t.Helper()
	rec := &sttmock.Recognizer{}
	log := &updateLog{}
	return New(rec, WithListener(log.record)), rec, log
}

func final(texts ...string) []stt.Result {
	out := make([]stt.Result, len(texts))
	for i, t := range texts {
		out[i] = stt.Result{Transcript: t, Final: true}
	}
	return out
}

// ── Start / Stop ─────────────────────────────────────────────────────────────

func TestStart_ConfiguresRecognizer(t *testing.T) {
	t.Parallel()
	s, rec, _ := newSession(t)

	tok, err := s.Start(context.Background(), "af-ZA", "voice-chat")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tok == "" {
		t.Fatal("Start returned an empty token")
	}
	if len(rec.StartCalls) != 1 {
		t.Fatalf("recognizer Start calls = %d, want 1", len(rec.StartCalls))
	}
	want := stt.Options{Language: "af-ZA", Continuous: true, InterimResults: true}
	if got := rec.StartCalls[0].Opts; got != want {
		t.Errorf("options = %+v, want %+v", got, want)
	}
	if !s.Listening() || s.Owner() != "voice-chat" {
		t.Errorf("listening=%v owner=%q", s.Listening(), s.Owner())
	}
}

func TestStart_Exclusivity(t *testing.T) {
	t.Parallel()
	s, rec, _ := newSession(t)

	tokA, err := s.Start(context.Background(), "en-US", "A")
	if err != nil {
		t.Fatalf("Start A: %v", err)
	}
	tokB, err := s.Start(context.Background(), "en-US", "B")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Start B err = %v, want ErrBusy", err)
	}
	if tokB != "" {
		t.Errorf("Start B token = %q, want empty", tokB)
	}
	if s.Owner() != "A" || !s.Listening() {
		t.Errorf("owner=%q listening=%v, want A/true", s.Owner(), s.Listening())
	}
	if rec.StartCallCount() != 1 {
		t.Errorf("recognizer Start calls = %d, want 1", rec.StartCallCount())
	}
	if snap := s.Snapshot(); snap.Token != tokA {
		t.Errorf("snapshot token = %q, want %q", snap.Token, tokA)
	}
}

func TestStop_RequiresOwnerToken(t *testing.T) {
	t.Parallel()
	s, rec, _ := newSession(t)

	tok, _ := s.Start(context.Background(), "en-US", "A")
	if err := s.Stop("someone-else"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Stop(foreign) err = %v, want ErrNotOwner", err)
	}
	if !s.Listening() {
		t.Fatal("foreign Stop must not end the session")
	}
	if err := s.Stop(tok); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Listening() || s.Owner() != "" {
		t.Errorf("listening=%v owner=%q after Stop", s.Listening(), s.Owner())
	}
	if rec.StopCalls() != 1 {
		t.Errorf("recognizer Stop calls = %d, want 1", rec.StopCalls())
	}
}

func TestStop_NoopWhenIdle(t *testing.T) {
	t.Parallel()
	s, rec, _ := newSession(t)
	if err := s.Stop("anything"); err != nil {
		t.Errorf("Stop on idle session: %v", err)
	}
	if rec.StopCalls() != 0 {
		t.Errorf("recognizer Stop calls = %d, want 0", rec.StopCalls())
	}
}

func TestStart_Unsupported(t *testing.T) {
	t.Parallel()
	rec := &sttmock.Recognizer{StartErr: stt.ErrUnsupported}
	s := New(rec)

	_, err := s.Start(context.Background(), "en-US", "A")
	if !errors.Is(err, stt.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if s.Listening() {
		t.Error("session must stay idle when recognition is unsupported")
	}

	// The session remains usable once a recognizer becomes available.
	rec.StartErr = nil
	if _, err := s.Start(context.Background(), "en-US", "A"); err != nil {
		t.Errorf("second Start: %v", err)
	}
}

func TestStart_ResetsAccumulation(t *testing.T) {
	t.Parallel()
	s, rec, _ := newSession(t)

	tok, _ := s.Start(context.Background(), "en-US", "A")
	rec.EmitResult(stt.Event{Results: final("hello there")})
	_ = s.Stop(tok)

	_, _ = s.Start(context.Background(), "en-US", "A")
	snap := s.Snapshot()
	if snap.FinalText != "" || snap.LiveText != "" || snap.FinalVersion != 0 {
		t.Errorf("snapshot after restart = %+v, want empty", snap)
	}
}

// ── Results ──────────────────────────────────────────────────────────────────

func TestResults_InterimAndFinal(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)
	tok, _ := s.Start(context.Background(), "en-US", "A")

	rec.EmitResult(stt.Event{Results: []stt.Result{{Transcript: " what's  the "}}})
	u := log.last(t)
	if u.LiveText != "what's the" || u.FinalText != "" || u.Delta != "" || u.FinalVersion != 0 {
		t.Errorf("interim update = %+v", u)
	}
	if u.Token != tok {
		t.Errorf("update token = %q, want %q", u.Token, tok)
	}

	rec.EmitResult(stt.Event{Results: []stt.Result{
		{Transcript: "what's the weather", Final: true},
		{Transcript: "in"},
	}})
	u = log.last(t)
	if u.FinalText != "what's the weather" || u.Delta != "what's the weather" || u.FinalVersion != 1 {
		t.Errorf("final update = %+v", u)
	}
	if u.LiveText != "what's the weather in" {
		t.Errorf("live text = %q", u.LiveText)
	}
}

func TestResults_DeltaCorrectness(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)
	_, _ = s.Start(context.Background(), "en-US", "A")

	chunks := []string{"hello", "how are", "you doing", "today"}
	for i := range chunks {
		rec.EmitResult(stt.Event{ResultIndex: i, Results: final(chunks[:i+1]...)})
	}
	// Re-delivery of an already committed result list adds nothing.
	rec.EmitResult(stt.Event{ResultIndex: 2, Results: final(chunks...)})

	var deltas strings.Builder
	var bumps int
	var prev uint64
	for _, u := range log.all() {
		deltas.WriteString(u.Delta)
		if u.FinalVersion != prev {
			if u.FinalVersion != prev+1 {
				t.Errorf("version jumped from %d to %d", prev, u.FinalVersion)
			}
			if u.Delta == "" {
				t.Error("version bumped without a delta")
			}
			bumps++
			prev = u.FinalVersion
		}
	}
	want := "hello how are you doing today"
	if deltas.String() != want {
		t.Errorf("concatenated deltas = %q, want %q", deltas.String(), want)
	}
	if bumps != len(chunks) {
		t.Errorf("version bumps = %d, want %d", bumps, len(chunks))
	}
	if got := s.Snapshot().FinalText; got != want {
		t.Errorf("final text = %q, want %q", got, want)
	}
}

func TestResults_RepeatedWordIsKept(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		segments  []string
		wantFinal string
	}{
		{name: "same word twice", segments: []string{"no", "no"}, wantFinal: "no no"},
		{name: "prefix repeated", segments: []string{"yes", "yes please"}, wantFinal: "yes yes please"},
		{name: "three repeats", segments: []string{"go", "go", "go"}, wantFinal: "go go go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, rec, log := newSession(t)
			_, _ = s.Start(context.Background(), "en-US", "A")

			for i := range tt.segments {
				rec.EmitResult(stt.Event{ResultIndex: i, Results: final(tt.segments[:i+1]...)})
			}
			u := log.last(t)
			if u.FinalText != tt.wantFinal {
				t.Errorf("final text = %q, want %q", u.FinalText, tt.wantFinal)
			}
			if u.FinalVersion != uint64(len(tt.segments)) {
				t.Errorf("final version = %d, want %d", u.FinalVersion, len(tt.segments))
			}
			if want := " " + tt.segments[len(tt.segments)-1]; u.Delta != want {
				t.Errorf("delta = %q, want %q", u.Delta, want)
			}
		})
	}
}

func TestResults_RedeliveredFinalsAreIgnored(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)
	_, _ = s.Start(context.Background(), "en-US", "A")

	rec.EmitResult(stt.Event{Results: final("no")})
	rec.EmitResult(stt.Event{ResultIndex: 1, Results: final("no", "no")})
	// Same cumulative list again with nothing new past the committed index.
	rec.EmitResult(stt.Event{ResultIndex: 1, Results: final("no", "no")})

	u := log.last(t)
	if u.FinalText != "no no" || u.FinalVersion != 2 {
		t.Errorf("final = %q v%d, want %q v2", u.FinalText, u.FinalVersion, "no no")
	}
	if u.Delta != "" {
		t.Errorf("redelivered delta = %q, want empty", u.Delta)
	}
}

func TestResults_FinalAfterInterimGapIsNotCommitted(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)
	_, _ = s.Start(context.Background(), "en-US", "A")

	rec.EmitResult(stt.Event{Results: []stt.Result{
		{Transcript: "still thinking"},
		{Transcript: "done", Final: true},
	}})
	u := log.last(t)
	if u.FinalText != "" || u.FinalVersion != 0 {
		t.Errorf("final committed past an interim result: %+v", u)
	}
	if u.LiveText != "still thinking done" {
		t.Errorf("live text = %q", u.LiveText)
	}
}

// ── Termination ──────────────────────────────────────────────────────────────

func TestError_DropsListening(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)
	_, _ = s.Start(context.Background(), "en-US", "A")

	boom := errors.New("network")
	rec.EmitError(boom)

	if s.Listening() {
		t.Fatal("session still listening after recognizer error")
	}
	ended := 0
	for _, u := range log.all() {
		if u.Ended {
			ended++
			if !errors.Is(u.Err, boom) {
				t.Errorf("ended update err = %v, want %v", u.Err, boom)
			}
		}
	}
	if ended != 1 {
		t.Errorf("ended updates = %d, want 1", ended)
	}
}

func TestEnd_DropsListening(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)
	_, _ = s.Start(context.Background(), "en-US", "A")

	rec.EmitEnd()
	if s.Listening() {
		t.Fatal("session still listening after end of stream")
	}
	if u := log.last(t); !u.Ended || u.Err != nil {
		t.Errorf("last update = %+v, want clean end", u)
	}
}

func TestStaleRunEventsAreDropped(t *testing.T) {
	t.Parallel()
	s, rec, log := newSession(t)

	tok, _ := s.Start(context.Background(), "en-US", "A")
	stale := rec.Handler()
	_ = s.Stop(tok)
	_, _ = s.Start(context.Background(), "en-US", "A")
	before := len(log.all())

	stale.OnResult(stt.Event{Results: final("ghost words")})
	stale.OnEnd()

	if got := len(log.all()); got != before {
		t.Errorf("stale run published %d updates", got-before)
	}
	if !s.Listening() {
		t.Error("stale OnEnd ended the current run")
	}
	if s.Snapshot().FinalText != "" {
		t.Errorf("stale result leaked into final text: %q", s.Snapshot().FinalText)
	}
}

func TestStop_SuppressesTrailingEnd(t *testing.T) {
	t.Parallel()
	rec := &sttmock.Recognizer{EndOnStop: true}
	log := &updateLog{}
	s := New(rec, WithListener(log.record))

	tok, _ := s.Start(context.Background(), "en-US", "A")
	_ = s.Stop(tok)
	for _, u := range log.all() {
		if u.Ended {
			t.Error("intentional Stop must not publish an ended update")
		}
	}
}
