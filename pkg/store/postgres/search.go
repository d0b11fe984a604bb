package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/minutes/pkg/store"
)

// ErrSearchDisabled is returned by [Store.SearchTranscripts] when no
// embedder is configured. It wraps [store.ErrSearchUnavailable].
var ErrSearchDisabled = fmt.Errorf("postgres store: transcript search needs an embeddings provider: %w", store.ErrSearchUnavailable)

// excerptRunes is the length of the transcript opening returned with a hit.
const excerptRunes = 240

// SearchTranscripts returns the meetings whose transcripts are closest in
// meaning to query, nearest first. Transcripts stored without an embedding
// are never returned.
func (s *Store) SearchTranscripts(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if s.embedder == nil {
		return nil, ErrSearchDisabled
	}
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: embed query: %w", err)
	}

	const q = `
		SELECT t.meeting_id, m.title, left(t.full_text, $3), t.embedding <=> $1 AS distance
		FROM   transcripts t
		JOIN   meetings m ON m.id = t.meeting_id
		WHERE  t.embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), limit, excerptRunes)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search transcripts: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SearchResult, error) {
		var r store.SearchResult
		err := row.Scan(&r.MeetingID, &r.Title, &r.Excerpt, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan search results: %w", err)
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	return results, nil
}
