package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabbyhq/gabby/pkg/memory"
	"github.com/gabbyhq/gabby/pkg/types"
)

var _ memory.SessionStore = (*Store)(nil)

// entryColumns is the column list shared by every SELECT.
const entryColumns = "session_id, language, role, content, timestamp"

// Store is the transcript log backed by the session_entries table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, verifies the
// connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies the database is reachable. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WriteEntry implements [memory.SessionStore].
func (s *Store) WriteEntry(ctx context.Context, entry types.TranscriptEntry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("session store: write entry: empty session id")
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	const q = `
		INSERT INTO session_entries (session_id, language, role, content, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		entry.Language,
		entry.Message.Role,
		entry.Message.Content,
		ts,
	)
	if err != nil {
		return fmt.Errorf("session store: write entry: %w", err)
	}
	return nil
}

// GetSession implements [memory.SessionStore].
func (s *Store) GetSession(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	const q = `
		SELECT ` + entryColumns + `
		FROM   session_entries
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: get session: %w", err)
	}
	return collectEntries(rows)
}

// GetRecent implements [memory.SessionStore]. Entries are ordered oldest first.
func (s *Store) GetRecent(ctx context.Context, sessionID string, duration time.Duration) ([]types.TranscriptEntry, error) {
	const q = `
		SELECT ` + entryColumns + `
		FROM   session_entries
		WHERE  session_id = $1
		  AND  timestamp  >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, sessionID, duration.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("session store: get recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [memory.SessionStore]. query is passed to
// plainto_tsquery with the 'simple' configuration, so no operator syntax is
// required and no language-specific stemming is applied. An empty query
// matches every entry.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]types.TranscriptEntry, error) {
	q, args := buildSearch(query, opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("session store: search: %w", err)
	}
	return collectEntries(rows)
}

// buildSearch renders the search statement and its positional arguments.
func buildSearch(query string, opts memory.SearchOpts) (string, []any) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if strings.TrimSpace(query) != "" {
		conditions = append(conditions,
			"to_tsvector('simple', content) @@ plainto_tsquery('simple', "+next(query)+")")
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(opts.Role))
	}

	q := "SELECT " + entryColumns + "\nFROM   session_entries"
	if len(conditions) > 0 {
		q += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	q += "\nORDER  BY timestamp, id"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}
	return q, args
}

// collectEntries scans pgx rows into a slice of TranscriptEntry values.
func collectEntries(rows pgx.Rows) ([]types.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var e types.TranscriptEntry
		err := row.Scan(
			&e.SessionID,
			&e.Language,
			&e.Message.Role,
			&e.Message.Content,
			&e.Timestamp,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []types.TranscriptEntry{}
	}
	return entries, nil
}
