// Package meeting defines the records produced by a recording session: the
// meeting itself, its transcript, its summary, and its action items.
//
// Records carry string identities assigned by the store. Timestamps are
// serialised as RFC 3339 with second precision so that a record written to
// JSON and read back compares equal to the second.
package meeting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/minutes/pkg/provider/stt"
)

// Status is the lifecycle state of an [ActionItem].
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus parses s case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("meeting: unknown action item status %q (want pending, completed or cancelled)", s)
	}
	return st, nil
}

// Unassigned is the assignee of an action item nobody took on.
const Unassigned = "Unassigned"

// Meeting is one recorded session.
type Meeting struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Date         time.Time     `json:"date"`
	Duration     time.Duration `json:"duration"`
	Participants []string      `json:"participants,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	AudioPath    string        `json:"audio_path,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// MarshalJSON truncates timestamps to whole seconds.
func (m Meeting) MarshalJSON() ([]byte, error) {
	type plain Meeting
	p := plain(m)
	p.Date = seconds(p.Date)
	p.CreatedAt = seconds(p.CreatedAt)
	p.UpdatedAt = seconds(p.UpdatedAt)
	return json.Marshal(p)
}

// Transcript is the authoritative full-file transcription of a meeting.
type Transcript struct {
	ID        string        `json:"id"`
	MeetingID string        `json:"meeting_id"`
	FullText  string        `json:"full_text"`
	Segments  []stt.Segment `json:"segments"`
	Language  string        `json:"language,omitempty"`
	WordCount int           `json:"word_count"`
	Backend   string        `json:"backend,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewTranscript builds the transcript of meetingID from a transcription
// result.
func NewTranscript(meetingID string, res stt.Result) Transcript {
	segs := res.Segments
	if segs == nil {
		segs = []stt.Segment{}
	}
	return Transcript{
		MeetingID: meetingID,
		FullText:  res.Text,
		Segments:  segs,
		Language:  res.Language,
		WordCount: WordCount(res.Text),
		Backend:   res.Backend,
	}
}

// MarshalJSON truncates timestamps to whole seconds.
func (t Transcript) MarshalJSON() ([]byte, error) {
	type plain Transcript
	p := plain(t)
	p.CreatedAt = seconds(p.CreatedAt)
	return json.Marshal(p)
}

// Topic is a subject discussed in the meeting.
type Topic struct {
	Name       string `json:"name"`
	Discussion string `json:"discussion"`
}

// Question is a question raised in the meeting with its answer, if any.
type Question struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Summary is the structured LLM summary of a meeting.
type Summary struct {
	ID             string        `json:"id"`
	MeetingID      string        `json:"meeting_id"`
	SummaryText    string        `json:"summary_text"`
	KeyPoints      []string      `json:"key_points"`
	Topics         []Topic       `json:"topics"`
	Decisions      []string      `json:"decisions"`
	Questions      []Question    `json:"questions"`
	ModelUsed      string        `json:"model_used,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`

	// Unavailable is set when the summary engine failed and the fields above
	// are empty placeholders.
	Unavailable bool      `json:"unavailable,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalJSON truncates timestamps to whole seconds and writes empty arrays
// rather than null.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	p := plain(s)
	p.CreatedAt = seconds(p.CreatedAt)
	p.KeyPoints = nonNil(p.KeyPoints)
	p.Topics = nonNil(p.Topics)
	p.Decisions = nonNil(p.Decisions)
	p.Questions = nonNil(p.Questions)
	return json.Marshal(p)
}

// ActionItem is a task someone committed to during a meeting.
type ActionItem struct {
	ID        string     `json:"id,omitempty"`
	MeetingID string     `json:"meeting_id,omitempty"`
	Task      string     `json:"task"`
	Assignee  string     `json:"assignee"`
	DueDate   *time.Time `json:"due_date"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MarshalJSON truncates timestamps to whole seconds.
func (a ActionItem) MarshalJSON() ([]byte, error) {
	type plain ActionItem
	p := plain(a)
	if p.DueDate != nil {
		d := seconds(*p.DueDate)
		p.DueDate = &d
	}
	p.CreatedAt = seconds(p.CreatedAt)
	p.UpdatedAt = seconds(p.UpdatedAt)
	return json.Marshal(p)
}

// UnmarshalJSON fills defaults for a missing status and assignee.
func (a *ActionItem) UnmarshalJSON(data []byte) error {
	type plain ActionItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.Assignee == "" {
		p.Assignee = Unassigned
	}
	*a = ActionItem(p)
	return nil
}

// Overdue reports whether the item is still pending past its due date.
func (a ActionItem) Overdue(now time.Time) bool {
	return a.Status == StatusPending && a.DueDate != nil && a.DueDate.Before(now)
}

// Record is the merged output of a completed session: the meeting with
// everything derived from it.
type Record struct {
	Meeting     Meeting      `json:"meeting"`
	Transcript  Transcript   `json:"transcript"`
	Summary     Summary      `json:"summary"`
	ActionItems []ActionItem `json:"action_items"`
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func seconds(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
