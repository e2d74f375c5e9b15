// Package postgres provides a PostgreSQL-backed [memory.SessionStore].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteEntry(ctx, entry)
//	entries, _ := store.GetSession(ctx, sessionID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionEntries = `
CREATE TABLE IF NOT EXISTS session_entries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    language    TEXT         NOT NULL DEFAULT '',
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_entries_session_timestamp
    ON session_entries (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_session_entries_timestamp
    ON session_entries (timestamp);

CREATE INDEX IF NOT EXISTS idx_session_entries_fts
    ON session_entries USING GIN (to_tsvector('simple', content));
`

// Migrate creates the session_entries table and its indexes. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessionEntries); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
