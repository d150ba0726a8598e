// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Record(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    turn_id      TEXT         PRIMARY KEY,
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    user_text    TEXT         NOT NULL DEFAULT '',
    reply_text   TEXT         NOT NULL DEFAULT '',
    actions      JSONB        NOT NULL DEFAULT '[]',
    outcome      TEXT         NOT NULL,
    error        TEXT         NOT NULL DEFAULT '',
    stages       JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_turns_started_at
    ON turns (started_at DESC);

CREATE INDEX IF NOT EXISTS idx_turns_fts
    ON turns USING GIN (to_tsvector('english', user_text || ' ' || reply_text));
`

// Migrate creates the turns table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
