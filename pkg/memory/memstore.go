package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gabbyhq/gabby/pkg/types"
)

// errNoSession is returned when an entry is written without a session id.
var errNoSession = errors.New("memory: entry has no session id")

// MemStore is an in-process [SessionStore]. Entries live until the process
// exits. The zero value is not usable; call [NewMemStore].
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string][]types.TranscriptEntry
	now      func() time.Time
}

var _ SessionStore = (*MemStore)(nil)

// MemOption is a functional option for [NewMemStore].
type MemOption func(*MemStore)

// WithClock overrides the clock used by GetRecent. Intended for tests.
func WithClock(now func() time.Time) MemOption {
	return func(m *MemStore) {
		m.now = now
	}
}

// NewMemStore returns an empty in-memory store.
func NewMemStore(opts ...MemOption) *MemStore {
	m := &MemStore{
		sessions: make(map[string][]types.TranscriptEntry),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// WriteEntry implements [SessionStore].
func (m *MemStore) WriteEntry(_ context.Context, entry types.TranscriptEntry) error {
	if entry.SessionID == "" {
		return errNoSession
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[entry.SessionID] = append(m.sessions[entry.SessionID], entry)
	return nil
}

// GetSession implements [SessionStore].
func (m *MemStore) GetSession(_ context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.sessions[sessionID]
	out := make([]types.TranscriptEntry, len(src))
	copy(out, src)
	return out, nil
}

// GetRecent implements [SessionStore].
func (m *MemStore) GetRecent(_ context.Context, sessionID string, duration time.Duration) ([]types.TranscriptEntry, error) {
	cutoff := m.now().Add(-duration)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.TranscriptEntry{}
	for _, e := range m.sessions[sessionID] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search implements [SessionStore]. Every word of query must appear in the
// message content, ignoring case. Results across sessions are ordered by
// timestamp.
func (m *MemStore) Search(_ context.Context, query string, opts SearchOpts) ([]types.TranscriptEntry, error) {
	words := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	var out []types.TranscriptEntry
	for id, entries := range m.sessions {
		if opts.SessionID != "" && id != opts.SessionID {
			continue
		}
		for _, e := range entries {
			if matches(e, words, opts) {
				out = append(out, e)
			}
		}
	}
	m.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b types.TranscriptEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if out == nil {
		out = []types.TranscriptEntry{}
	}
	return out, nil
}

func matches(e types.TranscriptEntry, words []string, opts SearchOpts) bool {
	if opts.Role != "" && e.Message.Role != opts.Role {
		return false
	}
	if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
		return false
	}
	content := strings.ToLower(e.Message.Content)
	for _, w := range words {
		if !strings.Contains(content, w) {
			return false
		}
	}
	return true
}
