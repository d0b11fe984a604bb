// Package store defines the persistence contract for meeting records.
//
// A Store holds meetings and the records derived from them: one transcript
// and one summary per meeting, and any number of action items. Deleting a
// meeting deletes everything that references it. Identities are assigned by
// the store when a record is created without one.
//
// Concurrent updates to the same record are last-write-wins per field; there
// is no versioning.
//
// Implementations live in sub-packages (postgres, badger) plus the in-memory
// [Memory] store in this package. All implementations must be safe for
// concurrent use.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/minutes/pkg/meeting"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultListLimit is applied when a filter leaves Limit at zero.
const DefaultListLimit = 100

// MeetingFilter selects meetings for [Store.ListMeetings]. Zero fields do
// not filter.
type MeetingFilter struct {
	Limit  int
	Offset int

	// Tags keeps meetings carrying every listed tag.
	Tags []string

	// From and To bound Meeting.Date, inclusive.
	From time.Time
	To   time.Time
}

// Normalized returns f with the default limit applied and a negative offset
// cleared.
func (f MeetingFilter) Normalized() MeetingFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match reports whether m passes the tag and date conditions of f.
func (f MeetingFilter) Match(m meeting.Meeting) bool {
	if !f.From.IsZero() && m.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.Date.After(f.To) {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(m.Tags, tag) {
			return false
		}
	}
	return true
}

// ActionItemFilter selects action items for [Store.ListActionItems]. Zero
// fields do not filter.
type ActionItemFilter struct {
	MeetingID string
	Status    meeting.Status

	// Assignee matches case-insensitively.
	Assignee string
}

// Match reports whether a passes f.
func (f ActionItemFilter) Match(a meeting.ActionItem) bool {
	if f.MeetingID != "" && a.MeetingID != f.MeetingID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Assignee != "" && !strings.EqualFold(a.Assignee, f.Assignee) {
		return false
	}
	return true
}

// ActionItemUpdate changes the fields of an action item that are set.
type ActionItemUpdate struct {
	Status   *meeting.Status
	Assignee *string
	DueDate  *time.Time

	// ClearDueDate removes the due date. It wins over DueDate.
	ClearDueDate bool
}

// Apply writes the set fields of u into a and stamps UpdatedAt.
func (u ActionItemUpdate) Apply(a *meeting.ActionItem, now time.Time) {
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Assignee != nil {
		a.Assignee = *u.Assignee
	}
	if u.DueDate != nil {
		d := *u.DueDate
		a.DueDate = &d
	}
	if u.ClearDueDate {
		a.DueDate = nil
	}
	a.UpdatedAt = now
}

// Validate rejects an unknown status.
func (u ActionItemUpdate) Validate() error {
	if u.Status != nil && !u.Status.IsValid() {
		return errors.New("store: invalid action item status " + string(*u.Status))
	}
	return nil
}

// Store is the persistence collaborator of the meeting pipeline.
type Store interface {
	// CreateMeeting stores m, assigning m.ID, CreatedAt, and UpdatedAt when
	// unset.
	CreateMeeting(ctx context.Context, m *meeting.Meeting) error
	GetMeeting(ctx context.Context, id string) (meeting.Meeting, error)
	// ListMeetings returns meetings newest first.
	ListMeetings(ctx context.Context, f MeetingFilter) ([]meeting.Meeting, error)
	UpdateMeeting(ctx context.Context, m meeting.Meeting) error
	// DeleteMeeting removes the meeting with its transcript, summary, and
	// action items.
	DeleteMeeting(ctx context.Context, id string) error

	// CreateTranscript stores the transcript of t.MeetingID, replacing any
	// previous one.
	CreateTranscript(ctx context.Context, t *meeting.Transcript) error
	GetTranscript(ctx context.Context, meetingID string) (meeting.Transcript, error)

	// CreateSummary stores the summary of s.MeetingID, replacing any
	// previous one.
	CreateSummary(ctx context.Context, s *meeting.Summary) error
	GetSummary(ctx context.Context, meetingID string) (meeting.Summary, error)

	CreateActionItem(ctx context.Context, a *meeting.ActionItem) error
	GetActionItem(ctx context.Context, id string) (meeting.ActionItem, error)
	// ListActionItems returns items with a due date first, by due date,
	// then by creation time.
	ListActionItems(ctx context.Context, f ActionItemFilter) ([]meeting.ActionItem, error)
	UpdateActionItem(ctx context.Context, id string, u ActionItemUpdate) (meeting.ActionItem, error)
	DeleteActionItem(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// SearchResult is one hit of a transcript search.
type SearchResult struct {
	MeetingID string  `json:"meeting_id"`
	Title     string  `json:"title"`
	Excerpt   string  `json:"excerpt"`
	Distance  float64 `json:"distance"`
}

// ErrSearchUnavailable is returned by a [Searcher] that cannot search in its
// current configuration.
var ErrSearchUnavailable = errors.New("store: transcript search unavailable")

// Searcher is implemented by stores that can search transcripts by meaning.
type Searcher interface {
	SearchTranscripts(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// NewID returns a fresh record identity.
func NewID() string {
	return uuid.NewString()
}

// CompareActionItems orders items the way ListActionItems returns them.
func CompareActionItems(a, b meeting.ActionItem) int {
	switch {
	case a.DueDate != nil && b.DueDate == nil:
		return -1
	case a.DueDate == nil && b.DueDate != nil:
		return 1
	case a.DueDate != nil && b.DueDate != nil:
		if c := a.DueDate.Compare(*b.DueDate); c != 0 {
			return c
		}
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// CompareMeetings orders meetings newest first.
func CompareMeetings(a, b meeting.Meeting) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Page returns the window [offset, offset+limit) of s.
func Page[T any](s []T, f MeetingFilter) []T {
	f = f.Normalized()
	if f.Offset >= len(s) {
		return []T{}
	}
	end := min(f.Offset+f.Limit, len(s))
	return s[f.Offset:end]
}

// Stamp fills the identity and timestamps of a record being created.
func Stamp(id *string, created, updated *time.Time, now time.Time) {
	if *id == "" {
		*id = NewID()
	}
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

// LoadRecord assembles the stored record of a meeting. A missing transcript
// or summary leaves the zero value in place.
func LoadRecord(ctx context.Context, s Store, meetingID string) (meeting.Record, error) {
	m, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		return meeting.Record{}, err
	}
	rec := meeting.Record{Meeting: m}
	if rec.Transcript, err = s.GetTranscript(ctx, meetingID); err != nil && !errors.Is(err, ErrNotFound) {
		return meeting.Record{}, err
	}
	if rec.Summary, err = s.GetSummary(ctx, meetingID); err != nil && !errors.Is(err, ErrNotFound) {
		return meeting.Record{}, err
	}
	if rec.ActionItems, err = s.ListActionItems(ctx, ActionItemFilter{MeetingID: meetingID}); err != nil {
		return meeting.Record{}, err
	}
	if rec.ActionItems == nil {
		rec.ActionItems = []meeting.ActionItem{}
	}
	return rec, nil
}
