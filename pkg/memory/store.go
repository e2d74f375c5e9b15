// Package memory defines the transcript log that records every conversation
// entry of a voice session.
//
// A [SessionStore] is an append-only, time-ordered log of
// [types.TranscriptEntry] records. The turn controller writes to it through its
// Recorder hook; operators read it back for support and auditing. Two
// implementations ship with gabby: [MemStore] for single-process deployments
// and tests, and the postgres subpackage for durable storage.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/gabbyhq/gabby/pkg/types"
)

// SearchOpts configures a keyword search over transcript entries.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	// An empty string searches across all sessions.
	SessionID string

	// After filters entries recorded after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters entries recorded before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Role restricts results to messages of one role.
	// An empty string matches all roles.
	Role string

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// SessionStore is a time-ordered, append-only log of [types.TranscriptEntry]
// records for one or more voice sessions.
//
// Entries are returned in chronological order. Empty results are empty,
// non-nil slices.
type SessionStore interface {
	// WriteEntry appends entry to the log. entry.SessionID must be non-empty.
	// Returns an error only on persistent storage failure.
	WriteEntry(ctx context.Context, entry types.TranscriptEntry) error

	// GetSession returns every entry of the given session.
	GetSession(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error)

	// GetRecent returns all entries for the given session whose Timestamp is
	// no earlier than time.Now()-duration.
	GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]types.TranscriptEntry, error)

	// Search performs a keyword search over message content.
	// opts refines the result set by time range, role, or session scope.
	Search(ctx context.Context, query string, opts SearchOpts) ([]types.TranscriptEntry, error)
}
