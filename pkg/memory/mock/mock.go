// Package mock provides an in-memory test double for [memory.SessionStore].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.SessionStore{}
//	store.GetSessionResult = []types.TranscriptEntry{{SessionID: "s1"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("WriteEntry"); got != 2 {
//	    t.Errorf("expected 2 WriteEntry calls, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gabbyhq/gabby/pkg/memory"
	"github.com/gabbyhq/gabby/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a configurable test double for [memory.SessionStore].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice returned).
type SessionStore struct {
	mu sync.Mutex

	calls   []Call
	written []types.TranscriptEntry

	// WriteEntryErr is returned by [SessionStore.WriteEntry] when non-nil.
	WriteEntryErr error

	// GetSessionResult is returned by [SessionStore.GetSession].
	GetSessionResult []types.TranscriptEntry

	// GetSessionErr is returned by [SessionStore.GetSession] when non-nil.
	GetSessionErr error

	// GetRecentResult is returned by [SessionStore.GetRecent].
	GetRecentResult []types.TranscriptEntry

	// GetRecentErr is returned by [SessionStore.GetRecent] when non-nil.
	GetRecentErr error

	// SearchResult is returned by [SessionStore.Search].
	SearchResult []types.TranscriptEntry

	// SearchErr is returned by [SessionStore.Search] when non-nil.
	SearchErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Written returns a copy of every entry accepted by WriteEntry.
func (m *SessionStore) Written() []types.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.written)
}

// Reset clears all recorded calls without altering response configuration.
func (m *SessionStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.written = nil
}

// WriteEntry implements [memory.SessionStore].
func (m *SessionStore) WriteEntry(_ context.Context, entry types.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntry", Args: []any{entry}})
	if m.WriteEntryErr != nil {
		return m.WriteEntryErr
	}
	m.written = append(m.written, entry)
	return nil
}

// GetSession implements [memory.SessionStore].
func (m *SessionStore) GetSession(_ context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetSession", Args: []any{sessionID}})
	return clone(m.GetSessionResult), m.GetSessionErr
}

// GetRecent implements [memory.SessionStore].
func (m *SessionStore) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]types.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetRecent", Args: []any{sessionID, duration}})
	return clone(m.GetRecentResult), m.GetRecentErr
}

// Search implements [memory.SessionStore].
func (m *SessionStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]types.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	return clone(m.SearchResult), m.SearchErr
}

func clone(in []types.TranscriptEntry) []types.TranscriptEntry {
	out := make([]types.TranscriptEntry, len(in))
	copy(out, in)
	return out
}

// Ensure SessionStore satisfies the interface at compile time.
var _ memory.SessionStore = (*SessionStore)(nil)
