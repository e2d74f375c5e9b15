// Package stt defines the Recognizer interface for speech recognition backends.
//
// A Recognizer mirrors the contract of a browser's continuous speech recognizer:
// it is started for a language with interim results enabled, reports an ordered
// and growing list of results for the current run, and signals errors and the
// end of the stream through a Handler. Recognition may happen in the user's
// browser (relayed over the gateway websocket) or on a server-side streaming
// service that is fed raw audio.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Recognizer.Start when speech recognition is not
// available, for example in a browser without SpeechRecognition support.
var ErrUnsupported = errors.New("stt: speech recognition not supported")

// Options configures a recognition run.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "af-ZA").
	Language string

	// Continuous keeps the recognizer running across pauses instead of stopping
	// after the first final result.
	Continuous bool

	// InterimResults enables delivery of not-yet-final results.
	InterimResults bool
}

// Result is a single recognition result. Interim results may be revised by
// later events; final results never change.
type Result struct {
	Transcript string
	Final      bool
	Confidence float64
}

// Event carries the cumulative result list of the current recognition run.
// Results before ResultIndex are unchanged since the previous event.
type Event struct {
	ResultIndex int
	Results     []Result
}

// Handler receives the events of one recognition run. Calls for a single run are
// delivered sequentially.
type Handler interface {
	// OnStart is called once the recognizer has begun capturing audio.
	OnStart()

	// OnResult is called for every result update.
	OnResult(ev Event)

	// OnError is called when recognition fails. OnEnd follows.
	OnError(err error)

	// OnEnd is called when the recognition stream terminates for any reason.
	OnEnd()
}

// Recognizer is the abstraction over any speech recognition backend.
type Recognizer interface {
	// Start begins a recognition run that reports to h. Starting a recognizer that
	// is already running returns an error. Returns ErrUnsupported when recognition
	// cannot be offered at all.
	Start(ctx context.Context, opts Options, h Handler) error

	// Stop ends the current run. The handler receives OnEnd once the stream has
	// drained. Stopping an idle recognizer is a no-op.
	Stop() error
}

// AudioSink is implemented by recognizers that transcribe audio on the server and
// must be fed the raw audio frames captured by the client.
type AudioSink interface {
	WriteAudio(chunk []byte) error
}

// HandlerFuncs adapts plain functions to the Handler interface. Nil fields are
// ignored.
type HandlerFuncs struct {
	Start  func()
	Result func(Event)
	Error  func(error)
	End    func()
}

// OnStart implements Handler.
func (h HandlerFuncs) OnStart() {
	if h.Start != nil {
		h.Start()
	}
}

// OnResult implements Handler.
func (h HandlerFuncs) OnResult(ev Event) {
	if h.Result != nil {
		h.Result(ev)
	}
}

// OnError implements Handler.
func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// OnEnd implements Handler.
func (h HandlerFuncs) OnEnd() {
	if h.End != nil {
		h.End()
	}
}

var _ Handler = HandlerFuncs{}
