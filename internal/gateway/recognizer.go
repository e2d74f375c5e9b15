package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/gabbyhq/gabby/pkg/provider/stt"
)

var errRecognizerRunning = errors.New("gateway: page recognizer already running")

// pageRecognizer implements [stt.Recognizer] by relaying to the speech
// recognizer running in the browser. Start and Stop become mic_start and
// mic_stop frames; recognition_* frames from the page become Handler calls.
// Every run has an id so frames of a stopped run that arrive after the next
// mic_start are not mistaken for the new run.
type pageRecognizer struct {
	peer      *peer
	supported bool

	mu      sync.Mutex
	handler stt.Handler
	run     string
}

var _ stt.Recognizer = (*pageRecognizer)(nil)

func newPageRecognizer(p *peer, supported bool) *pageRecognizer {
	return &pageRecognizer{peer: p, supported: supported}
}

// Start implements [stt.Recognizer].
func (r *pageRecognizer) Start(_ context.Context, opts stt.Options, h stt.Handler) error {
	if !r.supported {
		return stt.ErrUnsupported
	}
	r.mu.Lock()
	if r.handler != nil {
		r.mu.Unlock()
		return errRecognizerRunning
	}
	r.handler = h
	r.run = uuid.NewString()
	run := r.run
	r.mu.Unlock()

	err := r.peer.send(MicStart{
		Type:           TypeMicStart,
		Run:            run,
		Language:       opts.Language,
		Continuous:     opts.Continuous,
		InterimResults: opts.InterimResults,
	})
	if err != nil {
		r.clear(h)
		return err
	}
	return nil
}

// Stop implements [stt.Recognizer]. Events the page sends after mic_stop are
// dropped.
func (r *pageRecognizer) Stop() error {
	r.mu.Lock()
	running := r.handler != nil
	r.handler = nil
	r.run = ""
	r.mu.Unlock()
	if !running {
		return nil
	}
	return r.peer.send(MicStop{Type: TypeMicStop})
}

// current returns the handler of the active run if run matches it. An empty
// run matches any active run, for pages that do not echo run ids.
func (r *pageRecognizer) current(run string) stt.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run != "" && run != r.run {
		return nil
	}
	return r.handler
}

func (r *pageRecognizer) clear(h stt.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == h {
		r.handler = nil
		r.run = ""
	}
}

// handle delivers a recognition_* frame to the active run. It is called from
// the connection read loop, so calls for one run are sequential.
func (r *pageRecognizer) handle(msg any) {
	switch m := msg.(type) {
	case RecognitionStart:
		if h := r.current(m.Run); h != nil {
			h.OnStart()
		}
	case RecognitionResult:
		h := r.current(m.Run)
		if h == nil {
			return
		}
		ev := stt.Event{ResultIndex: m.ResultIndex, Results: make([]stt.Result, len(m.Results))}
		for i, res := range m.Results {
			ev.Results[i] = stt.Result{Transcript: res.Transcript, Final: res.Final, Confidence: res.Confidence}
		}
		h.OnResult(ev)
	case RecognitionError:
		// An error ends the run even if the page never sends recognition_end.
		if h := r.current(m.Run); h != nil {
			r.clear(h)
			h.OnError(&RecognitionFailure{Code: m.Error})
		}
	case RecognitionEnd:
		if h := r.current(m.Run); h != nil {
			r.clear(h)
			h.OnEnd()
		}
	}
}

// RecognitionFailure is the error reported by the page recognizer, such as
// "no-speech", "network" or "not-allowed".
type RecognitionFailure struct {
	Code string
}

func (e *RecognitionFailure) Error() string {
	if e.Code == "" {
		return "gateway: page recognizer failed"
	}
	return "gateway: page recognizer failed: " + e.Code
}
