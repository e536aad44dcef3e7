// Package postgres provides a PostgreSQL-backed [transcript.Sink] that keeps
// the conversation log of every session.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Write(ctx, sessionID, items)
//	log, _ := store.List(ctx, sessionID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscriptItems = `
CREATE TABLE IF NOT EXISTS transcript_items (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_items_session
    ON transcript_items (session_id, id);

CREATE INDEX IF NOT EXISTS idx_transcript_items_fts
    ON transcript_items USING GIN (to_tsvector('english', text));
`

// Migrate creates the transcript tables if they do not exist. It is
// idempotent and runs on every [NewStore].
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptItems); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
