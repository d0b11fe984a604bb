package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/provider/embeddings"
	"github.com/MrWong99/minutes/pkg/store"
)

var (
	_ store.Store    = (*Store)(nil)
	_ store.Searcher = (*Store)(nil)
)

// DefaultEmbeddingDimensions matches text-embedding-3-small.
const DefaultEmbeddingDimensions = 1536

// pgForeignKeyViolation is the SQLSTATE raised when a referenced meeting is
// missing.
const pgForeignKeyViolation = "23503"

// Option configures [New].
type Option func(*Store)

// WithEmbedder enables transcript embeddings and [Store.SearchTranscripts].
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Store) { s.embedder = p }
}

// WithEmbeddingDimensions sets the vector column size used by [Migrate].
// When unset, the embedder's dimensions are used, or
// [DefaultEmbeddingDimensions] without an embedder.
func WithEmbeddingDimensions(n int) Option {
	return func(s *Store) { s.dims = n }
}

// Store is a PostgreSQL-backed [store.Store]. It is safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	dims     int
	now      func() time.Time
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.dims <= 0 {
		s.dims = DefaultEmbeddingDimensions
		if s.embedder != nil && s.embedder.Dimensions() > 0 {
			s.dims = s.embedder.Dimensions()
		}
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, s.dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ─── meetings ────────────────────────────────────────────────────────────────

const meetingColumns = `id, title, date, duration_ns, participants, tags, audio_path, notes, created_at, updated_at`

func (s *Store) CreateMeeting(ctx context.Context, m *meeting.Meeting) error {
	store.Stamp(&m.ID, &m.CreatedAt, &m.UpdatedAt, s.now())
	const q = `INSERT INTO meetings (` + meetingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, q,
		m.ID, m.Title, m.Date, int64(m.Duration), m.Participants, m.Tags,
		m.AudioPath, m.Notes, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: create meeting: %w", err)
	}
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, id string) (meeting.Meeting, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("postgres store: get meeting: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.Meeting{}, store.ErrNotFound
	}
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("postgres store: get meeting: %w", err)
	}
	return m, nil
}

func (s *Store) ListMeetings(ctx context.Context, f store.MeetingFilter) ([]meeting.Meeting, error) {
	f = f.Normalized()

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if len(f.Tags) > 0 {
		conditions = append(conditions, "tags @> "+next(f.Tags)+"::text[]")
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "date >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "date <= "+next(f.To))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   meetings
		%s
		ORDER  BY date DESC, created_at DESC, id
		LIMIT  %s OFFSET %s`, meetingColumns, where, next(f.Limit), next(f.Offset))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list meetings: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanMeeting)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan meetings: %w", err)
	}
	if out == nil {
		out = []meeting.Meeting{}
	}
	return out, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, m meeting.Meeting) error {
	const q = `
		UPDATE meetings SET
		    title = $2, date = $3, duration_ns = $4, participants = $5, tags = $6,
		    audio_path = $7, notes = $8, updated_at = $9
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q,
		m.ID, m.Title, m.Date, int64(m.Duration), m.Participants, m.Tags,
		m.AudioPath, m.Notes, s.now(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: update meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMeeting removes the meeting; foreign keys cascade to its transcript,
// summary, and action items.
func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanMeeting(row pgx.CollectableRow) (meeting.Meeting, error) {
	var (
		m   meeting.Meeting
		dur int64
	)
	err := row.Scan(&m.ID, &m.Title, &m.Date, &dur, &m.Participants, &m.Tags,
		&m.AudioPath, &m.Notes, &m.CreatedAt, &m.UpdatedAt)
	m.Duration = time.Duration(dur)
	return m, err
}

// ─── transcripts ─────────────────────────────────────────────────────────────

// CreateTranscript stores t, replacing any earlier transcript of the same
// meeting. With an embedder configured the full text is embedded as well; an
// embedding failure is logged and leaves the transcript unsearchable.
func (s *Store) CreateTranscript(ctx context.Context, t *meeting.Transcript) error {
	store.Stamp(&t.ID, &t.CreatedAt, nil, s.now())

	const q = `
		INSERT INTO transcripts
		    (id, meeting_id, full_text, segments, language, word_count, backend, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (meeting_id) DO UPDATE SET
		    id         = EXCLUDED.id,
		    full_text  = EXCLUDED.full_text,
		    segments   = EXCLUDED.segments,
		    language   = EXCLUDED.language,
		    word_count = EXCLUDED.word_count,
		    backend    = EXCLUDED.backend,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		t.ID, t.MeetingID, t.FullText, orEmpty(t.Segments), t.Language,
		t.WordCount, t.Backend, s.embed(ctx, t.FullText), t.CreatedAt,
	)
	if err != nil {
		return wrapWrite("create transcript", err)
	}
	return nil
}

func (s *Store) GetTranscript(ctx context.Context, meetingID string) (meeting.Transcript, error) {
	const q = `
		SELECT id, meeting_id, full_text, segments, language, word_count, backend, created_at
		FROM   transcripts
		WHERE  meeting_id = $1`
	var t meeting.Transcript
	err := s.pool.QueryRow(ctx, q, meetingID).Scan(
		&t.ID, &t.MeetingID, &t.FullText, &t.Segments, &t.Language,
		&t.WordCount, &t.Backend, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.Transcript{}, store.ErrNotFound
	}
	if err != nil {
		return meeting.Transcript{}, fmt.Errorf("postgres store: get transcript: %w", err)
	}
	return t, nil
}

// ─── summaries ───────────────────────────────────────────────────────────────

// CreateSummary stores sum, replacing any earlier summary of the same meeting.
func (s *Store) CreateSummary(ctx context.Context, sum *meeting.Summary) error {
	store.Stamp(&sum.ID, &sum.CreatedAt, nil, s.now())

	const q = `
		INSERT INTO summaries
		    (id, meeting_id, summary_text, key_points, topics, decisions, questions,
		     model_used, processing_time_ns, unavailable, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (meeting_id) DO UPDATE SET
		    id                 = EXCLUDED.id,
		    summary_text       = EXCLUDED.summary_text,
		    key_points         = EXCLUDED.key_points,
		    topics             = EXCLUDED.topics,
		    decisions          = EXCLUDED.decisions,
		    questions          = EXCLUDED.questions,
		    model_used         = EXCLUDED.model_used,
		    processing_time_ns = EXCLUDED.processing_time_ns,
		    unavailable        = EXCLUDED.unavailable,
		    created_at         = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		sum.ID, sum.MeetingID, sum.SummaryText, orEmpty(sum.KeyPoints), orEmpty(sum.Topics),
		orEmpty(sum.Decisions), orEmpty(sum.Questions), sum.ModelUsed,
		int64(sum.ProcessingTime), sum.Unavailable, sum.CreatedAt,
	)
	if err != nil {
		return wrapWrite("create summary", err)
	}
	return nil
}

func (s *Store) GetSummary(ctx context.Context, meetingID string) (meeting.Summary, error) {
	const q = `
		SELECT id, meeting_id, summary_text, key_points, topics, decisions, questions,
		       model_used, processing_time_ns, unavailable, created_at
		FROM   summaries
		WHERE  meeting_id = $1`
	var (
		sum meeting.Summary
		pt  int64
	)
	err := s.pool.QueryRow(ctx, q, meetingID).Scan(
		&sum.ID, &sum.MeetingID, &sum.SummaryText, &sum.KeyPoints, &sum.Topics,
		&sum.Decisions, &sum.Questions, &sum.ModelUsed, &pt, &sum.Unavailable, &sum.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.Summary{}, store.ErrNotFound
	}
	if err != nil {
		return meeting.Summary{}, fmt.Errorf("postgres store: get summary: %w", err)
	}
	sum.ProcessingTime = time.Duration(pt)
	return sum, nil
}

// ─── action items ────────────────────────────────────────────────────────────

const itemColumns = `id, meeting_id, task, assignee, due_date, status, created_at, updated_at`

func (s *Store) CreateActionItem(ctx context.Context, a *meeting.ActionItem) error {
	store.Stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt, s.now())
	const q = `INSERT INTO action_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q,
		a.ID, nullable(a.MeetingID), a.Task, a.Assignee, a.DueDate,
		string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return wrapWrite("create action item", err)
	}
	return nil
}

func (s *Store) GetActionItem(ctx context.Context, id string) (meeting.ActionItem, error) {
	return getItem(ctx, s.pool, id, "")
}

func (s *Store) ListActionItems(ctx context.Context, f store.ActionItemFilter) ([]meeting.ActionItem, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.MeetingID != "" {
		conditions = append(conditions, "meeting_id = "+next(f.MeetingID))
	}
	if f.Status != "" {
		conditions = append(conditions, "status = "+next(string(f.Status)))
	}
	if f.Assignee != "" {
		conditions = append(conditions, "lower(assignee) = lower("+next(f.Assignee)+")")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   action_items
		%s
		ORDER  BY due_date ASC NULLS LAST, created_at, id`, itemColumns, where)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list action items: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan action items: %w", err)
	}
	if out == nil {
		out = []meeting.ActionItem{}
	}
	return out, nil
}

// UpdateActionItem applies u under a row lock so concurrent partial updates
// do not lose each other's fields.
func (s *Store) UpdateActionItem(ctx context.Context, id string, u store.ActionItemUpdate) (meeting.ActionItem, error) {
	if err := u.Validate(); err != nil {
		return meeting.ActionItem{}, err
	}
	var a meeting.ActionItem
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		a, err = getItem(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return err
		}
		u.Apply(&a, s.now())
		const q = `
			UPDATE action_items
			SET    assignee = $2, due_date = $3, status = $4, updated_at = $5
			WHERE  id = $1`
		_, err = tx.Exec(ctx, q, a.ID, a.Assignee, a.DueDate, string(a.Status), a.UpdatedAt)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return meeting.ActionItem{}, err
	}
	if err != nil {
		return meeting.ActionItem{}, fmt.Errorf("postgres store: update action item: %w", err)
	}
	return a, nil
}

func (s *Store) DeleteActionItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM action_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete action item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getItem(ctx context.Context, db querier, id, lock string) (meeting.ActionItem, error) {
	rows, err := db.Query(ctx, `SELECT `+itemColumns+` FROM action_items WHERE id = $1 `+lock, id)
	if err != nil {
		return meeting.ActionItem{}, fmt.Errorf("postgres store: get action item: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.ActionItem{}, store.ErrNotFound
	}
	if err != nil {
		return meeting.ActionItem{}, fmt.Errorf("postgres store: get action item: %w", err)
	}
	return a, nil
}

func scanItem(row pgx.CollectableRow) (meeting.ActionItem, error) {
	var (
		a         meeting.ActionItem
		meetingID *string
		status    string
	)
	err := row.Scan(&a.ID, &meetingID, &a.Task, &a.Assignee, &a.DueDate,
		&status, &a.CreatedAt, &a.UpdatedAt)
	if meetingID != nil {
		a.MeetingID = *meetingID
	}
	a.Status = meeting.Status(status)
	return a, err
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// maxEmbedRunes bounds the text sent to the embedder; longer transcripts are
// embedded by their opening.
const maxEmbedRunes = 8000

// embed returns the transcript vector, or nil when embeddings are off or fail.
func (s *Store) embed(ctx context.Context, text string) *pgvector.Vector {
	if s.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	if r := []rune(text); len(r) > maxEmbedRunes {
		text = string(r[:maxEmbedRunes])
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		observe.Logger(ctx).Warn("postgres store: transcript embedding failed", "model", s.embedder.ModelID(), "err", err)
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

// wrapWrite maps a missing parent meeting to [store.ErrNotFound].
func wrapWrite(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return store.ErrNotFound
	}
	return fmt.Errorf("postgres store: %s: %w", op, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
