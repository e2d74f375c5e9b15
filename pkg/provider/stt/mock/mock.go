// Package mock provides a test double for the stt.Recognizer interface.
//
// Use Recognizer to verify the options a consumer starts recognition with and to
// drive the registered handler with controlled result, error and end events.
//
// Example:
//
//	rec := &mock.Recognizer{}
//	_ = rec.Start(ctx, stt.Options{Language: "en-US"}, handler)
//	rec.EmitResult(stt.Event{Results: []stt.Result{{Transcript: "hello", Final: true}}})
package mock

import (
	"context"
	"sync"

	"github.com/gabbyhq/gabby/pkg/provider/stt"
)

// StartCall records a single invocation of Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Opts is the Options passed to Start.
	Opts stt.Options
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by every Start call.
	StartErr error

	// StopErr, if non-nil, is returned by every Stop call.
	StopErr error

	// EndOnStop makes Stop deliver OnEnd to the active handler, as a browser
	// recognizer does.
	EndOnStop bool

	// StartCalls records every call to Start in order.
	StartCalls []StartCall

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// AudioChunks records every chunk passed to WriteAudio.
	AudioChunks [][]byte

	handler stt.Handler
	running bool
}

// Start records the call and, if StartErr is nil, registers h as the active handler.
func (r *Recognizer) Start(ctx context.Context, opts stt.Options, h stt.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls = append(r.StartCalls, StartCall{Ctx: ctx, Opts: opts})
	if r.StartErr != nil {
		return r.StartErr
	}
	r.handler = h
	r.running = true
	return nil
}

// Stop records the call and returns StopErr.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	r.StopCallCount++
	h := r.handler
	wasRunning := r.running
	r.running = false
	err := r.StopErr
	endOnStop := r.EndOnStop
	r.mu.Unlock()
	if endOnStop && wasRunning && h != nil {
		h.OnEnd()
	}
	return err
}

// WriteAudio records the chunk.
func (r *Recognizer) WriteAudio(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	r.AudioChunks = append(r.AudioChunks, cp)
	return nil
}

// Handler returns the handler registered by the most recent Start call.
func (r *Recognizer) Handler() stt.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// Running reports whether Start succeeded without a later Stop.
func (r *Recognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// StartCallCount returns the number of Start calls. Thread-safe.
func (r *Recognizer) StartCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.StartCalls)
}

// StopCalls returns the number of Stop calls. Thread-safe.
func (r *Recognizer) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StopCallCount
}

// ChunkCount returns the number of WriteAudio calls. Thread-safe.
func (r *Recognizer) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.AudioChunks)
}

// EmitResult delivers ev to the active handler.
func (r *Recognizer) EmitResult(ev stt.Event) {
	if h := r.Handler(); h != nil {
		h.OnResult(ev)
	}
}

// EmitError delivers err followed by OnEnd to the active handler.
func (r *Recognizer) EmitError(err error) {
	h := r.Handler()
	if h == nil {
		return
	}
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	h.OnError(err)
	h.OnEnd()
}

// EmitEnd delivers OnEnd to the active handler.
func (r *Recognizer) EmitEnd() {
	h := r.Handler()
	if h == nil {
		return
	}
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	h.OnEnd()
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls = nil
	r.StopCallCount = 0
	r.AudioChunks = nil
}

var (
	_ stt.Recognizer = (*Recognizer)(nil)
	_ stt.AudioSink  = (*Recognizer)(nil)
)
