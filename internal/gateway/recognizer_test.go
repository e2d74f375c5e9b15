package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gabbyhq/gabby/pkg/provider/stt"
)

type recordingHandler struct {
	mu     sync.Mutex
	errs   []error
	ends   int
	events []stt.Event
}

func (h *recordingHandler) OnStart() {}

func (h *recordingHandler) OnResult(ev stt.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnEnd() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends++
}

// readMicStart reads one mic_start frame from the client end.
func readMicStart(t *testing.T, c *websocket.Conn) MicStart {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m MicStart
	if err := json.Unmarshal(data, &m); err != nil || m.Type != TypeMicStart {
		t.Fatalf("frame = %s, err = %v", data, err)
	}
	return m
}

func TestPageRecognizer_ErrorEndsRun(t *testing.T) {
	t.Parallel()
	p, client := connPair(t)
	r := newPageRecognizer(p, true)

	first := &recordingHandler{}
	if err := r.Start(context.Background(), stt.Options{Language: "en-US"}, first); err != nil {
		t.Fatalf("Start: %v", err)
	}
	run := readMicStart(t, client).Run

	r.handle(RecognitionError{Type: TypeRecognitionError, Run: run, Error: "network"})

	first.mu.Lock()
	errs := first.errs
	first.mu.Unlock()
	var failure *RecognitionFailure
	if len(errs) != 1 || !errors.As(errs[0], &failure) || failure.Code != "network" {
		t.Fatalf("errors = %v", errs)
	}

	second := &recordingHandler{}
	if err := r.Start(context.Background(), stt.Options{Language: "en-US"}, second); err != nil {
		t.Fatalf("Start after error: %v", err)
	}
	if next := readMicStart(t, client).Run; next == run {
		t.Error("new run reused the failed run id")
	}

	// Late frames of the failed run do not reach the new handler.
	r.handle(RecognitionResult{Type: TypeRecognitionResult, Run: run, Results: []RecognitionOutput{{Transcript: "late"}}})
	r.handle(RecognitionEnd{Type: TypeRecognitionEnd, Run: run})
	second.mu.Lock()
	defer second.mu.Unlock()
	if len(second.events) != 0 || second.ends != 0 {
		t.Errorf("stale frames delivered: events=%d ends=%d", len(second.events), second.ends)
	}
}

func TestPageRecognizer_StartWhileRunning(t *testing.T) {
	t.Parallel()
	p, client := connPair(t)
	r := newPageRecognizer(p, true)

	if err := r.Start(context.Background(), stt.Options{}, &recordingHandler{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	readMicStart(t, client)
	if err := r.Start(context.Background(), stt.Options{}, &recordingHandler{}); !errors.Is(err, errRecognizerRunning) {
		t.Errorf("second Start err = %v, want errRecognizerRunning", err)
	}
}

func TestPageRecognizer_Unsupported(t *testing.T) {
	t.Parallel()
	p, _ := connPair(t)
	r := newPageRecognizer(p, false)
	if err := r.Start(context.Background(), stt.Options{}, &recordingHandler{}); !errors.Is(err, stt.ErrUnsupported) {
		t.Errorf("Start err = %v, want stt.ErrUnsupported", err)
	}
}
