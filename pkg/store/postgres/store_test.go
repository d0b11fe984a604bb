package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/provider/embeddings/mock"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/postgres"
	"github.com/MrWong99/minutes/pkg/store/storetest"
)

const testEmbeddingDim = 4

// testDSN returns the integration database DSN or skips the test.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MINUTES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MINUTES_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a store on a freshly dropped schema.
func newTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	dropSchema(t, ctx, dsn)

	opts = append([]postgres.Option{postgres.WithEmbeddingDimensions(testEmbeddingDim)}, opts...)
	s, err := postgres.New(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dropSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS action_items CASCADE",
		"DROP TABLE IF EXISTS summaries CASCADE",
		"DROP TABLE IF EXISTS transcripts CASCADE",
		"DROP TABLE IF EXISTS meetings CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema (%s): %v", stmt, err)
		}
	}
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	ctx := context.Background()
	cfg, err := pgxpool.ParseConfig(testDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(ctx, pool, testEmbeddingDim); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}

func TestSearchTranscripts(t *testing.T) {
	emb := &mock.Provider{DimensionsValue: testEmbeddingDim, ModelIDValue: "test-embed"}
	s := newTestStore(t, postgres.WithEmbedder(emb))
	ctx := context.Background()

	add := func(title, text string, vec []float32) meeting.Meeting {
		t.Helper()
		m := meeting.Meeting{Title: title}
		if err := s.CreateMeeting(ctx, &m); err != nil {
			t.Fatalf("CreateMeeting: %v", err)
		}
		emb.EmbedResult = vec
		tr := meeting.Transcript{MeetingID: m.ID, FullText: text}
		if err := s.CreateTranscript(ctx, &tr); err != nil {
			t.Fatalf("CreateTranscript: %v", err)
		}
		return m
	}
	pricing := add("Pricing", "we discussed the new pricing tiers", []float32{1, 0, 0, 0})
	add("Hiring", "two new engineers start in May", []float32{0, 1, 0, 0})

	emb.EmbedErr = errors.New("rate limited")
	add("Unsearchable", "embedding failed for this one", nil)
	emb.EmbedErr = nil

	emb.EmbedResult = []float32{0.9, 0.1, 0, 0}
	hits, err := s.SearchTranscripts(ctx, "how much will it cost", 5)
	if err != nil {
		t.Fatalf("SearchTranscripts: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (unembedded transcript excluded)", len(hits))
	}
	if hits[0].MeetingID != pricing.ID || hits[0].Title != "Pricing" {
		t.Errorf("top hit = %+v, want the pricing meeting", hits[0])
	}
	if hits[0].Distance > hits[1].Distance {
		t.Errorf("hits not ordered by distance: %v > %v", hits[0].Distance, hits[1].Distance)
	}
}

func TestSearchTranscripts_Disabled(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SearchTranscripts(context.Background(), "x", 1); !errors.Is(err, postgres.ErrSearchDisabled) {
		t.Errorf("err = %v, want ErrSearchDisabled", err)
	}
}

func TestNew_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.New(context.Background(), "postgres://%zz"); err == nil {
		t.Error("expected a parse error")
	}
}
