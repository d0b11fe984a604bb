// Package postgres provides a PostgreSQL-backed [store.Store] with optional
// semantic transcript search through the pgvector extension.
//
// All records share a single [pgxpool.Pool]. [Migrate] installs the vector
// extension and the tables on every start; it is idempotent.
//
//	s, err := postgres.New(ctx, dsn, postgres.WithEmbedder(provider))
//	if err != nil { … }
//	defer s.Close()
//
//	hits, _ := s.SearchTranscripts(ctx, "pricing discussion", 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id            TEXT         PRIMARY KEY,
    title         TEXT         NOT NULL DEFAULT '',
    date          TIMESTAMPTZ  NOT NULL,
    duration_ns   BIGINT       NOT NULL DEFAULT 0,
    participants  TEXT[],
    tags          TEXT[],
    audio_path    TEXT         NOT NULL DEFAULT '',
    notes         TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_meetings_date ON meetings (date DESC);
CREATE INDEX IF NOT EXISTS idx_meetings_tags ON meetings USING GIN (tags);
`

const ddlSummaries = `
CREATE TABLE IF NOT EXISTS summaries (
    id                  TEXT         PRIMARY KEY,
    meeting_id          TEXT         NOT NULL UNIQUE REFERENCES meetings (id) ON DELETE CASCADE,
    summary_text        TEXT         NOT NULL DEFAULT '',
    key_points          TEXT[],
    topics              JSONB        NOT NULL DEFAULT '[]',
    decisions           TEXT[],
    questions           JSONB        NOT NULL DEFAULT '[]',
    model_used          TEXT         NOT NULL DEFAULT '',
    processing_time_ns  BIGINT       NOT NULL DEFAULT 0,
    unavailable         BOOLEAN      NOT NULL DEFAULT false,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlActionItems = `
CREATE TABLE IF NOT EXISTS action_items (
    id          TEXT         PRIMARY KEY,
    meeting_id  TEXT         REFERENCES meetings (id) ON DELETE CASCADE,
    task        TEXT         NOT NULL,
    assignee    TEXT         NOT NULL DEFAULT 'Unassigned',
    due_date    TIMESTAMPTZ,
    status      TEXT         NOT NULL DEFAULT 'pending',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_action_items_meeting_id ON action_items (meeting_id);
CREATE INDEX IF NOT EXISTS idx_action_items_status ON action_items (status);
`

// ddlTranscripts returns the transcript DDL with the embedding dimension
// substituted. The dimension is fixed when the table is first created.
func ddlTranscripts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcripts (
    id          TEXT         PRIMARY KEY,
    meeting_id  TEXT         NOT NULL UNIQUE REFERENCES meetings (id) ON DELETE CASCADE,
    full_text   TEXT         NOT NULL DEFAULT '',
    segments    JSONB        NOT NULL DEFAULT '[]',
    language    TEXT         NOT NULL DEFAULT '',
    word_count  INTEGER      NOT NULL DEFAULT 0,
    backend     TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_embedding
    ON transcripts USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', full_text));
`, embeddingDimensions)
}

// Migrate creates the extension, tables, and indexes if they do not exist.
//
// embeddingDimensions must match the embedding model in use (1536 for
// text-embedding-3-small, 768 for nomic-embed-text). Changing it after the
// first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMeetings,
		ddlTranscripts(embeddingDimensions),
		ddlSummaries,
		ddlActionItems,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
