package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/minutes/pkg/meeting"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store]. Records are lost when the process exits;
// it backs the "memory" store backend and tests.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	meetings    map[string]meeting.Meeting
	transcripts map[string]meeting.Transcript // by meeting ID
	summaries   map[string]meeting.Summary    // by meeting ID
	items       map[string]meeting.ActionItem
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		meetings:    make(map[string]meeting.Meeting),
		transcripts: make(map[string]meeting.Transcript),
		summaries:   make(map[string]meeting.Summary),
		items:       make(map[string]meeting.ActionItem),
	}
}

func (s *Memory) CreateMeeting(_ context.Context, m *meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	Stamp(&m.ID, &m.CreatedAt, &m.UpdatedAt, s.now())
	s.meetings[m.ID] = cloneMeeting(*m)
	return nil
}

func (s *Memory) GetMeeting(_ context.Context, id string) (meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return meeting.Meeting{}, ErrNotFound
	}
	return cloneMeeting(m), nil
}

func (s *Memory) ListMeetings(_ context.Context, f MeetingFilter) ([]meeting.Meeting, error) {
	s.mu.RLock()
	out := make([]meeting.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		if f.Match(m) {
			out = append(out, cloneMeeting(m))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, CompareMeetings)
	return Page(out, f), nil
}

func (s *Memory) UpdateMeeting(_ context.Context, m meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.meetings[m.ID]
	if !ok {
		return ErrNotFound
	}
	m.CreatedAt = old.CreatedAt
	m.UpdatedAt = s.now()
	s.meetings[m.ID] = cloneMeeting(m)
	return nil
}

func (s *Memory) DeleteMeeting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[id]; !ok {
		return ErrNotFound
	}
	delete(s.meetings, id)
	delete(s.transcripts, id)
	delete(s.summaries, id)
	for itemID, it := range s.items {
		if it.MeetingID == id {
			delete(s.items, itemID)
		}
	}
	return nil
}

func (s *Memory) CreateTranscript(_ context.Context, t *meeting.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[t.MeetingID]; !ok {
		return ErrNotFound
	}
	Stamp(&t.ID, &t.CreatedAt, nil, s.now())
	s.transcripts[t.MeetingID] = *t
	return nil
}

func (s *Memory) GetTranscript(_ context.Context, meetingID string) (meeting.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[meetingID]
	if !ok {
		return meeting.Transcript{}, ErrNotFound
	}
	return t, nil
}

func (s *Memory) CreateSummary(_ context.Context, sum *meeting.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[sum.MeetingID]; !ok {
		return ErrNotFound
	}
	Stamp(&sum.ID, &sum.CreatedAt, nil, s.now())
	s.summaries[sum.MeetingID] = *sum
	return nil
}

func (s *Memory) GetSummary(_ context.Context, meetingID string) (meeting.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[meetingID]
	if !ok {
		return meeting.Summary{}, ErrNotFound
	}
	return sum, nil
}

func (s *Memory) CreateActionItem(_ context.Context, a *meeting.ActionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.MeetingID != "" {
		if _, ok := s.meetings[a.MeetingID]; !ok {
			return ErrNotFound
		}
	}
	Stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt, s.now())
	s.items[a.ID] = *a
	return nil
}

func (s *Memory) GetActionItem(_ context.Context, id string) (meeting.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return meeting.ActionItem{}, ErrNotFound
	}
	return a, nil
}

func (s *Memory) ListActionItems(_ context.Context, f ActionItemFilter) ([]meeting.ActionItem, error) {
	s.mu.RLock()
	out := make([]meeting.ActionItem, 0)
	for _, a := range s.items {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, CompareActionItems)
	return out, nil
}

func (s *Memory) UpdateActionItem(_ context.Context, id string, u ActionItemUpdate) (meeting.ActionItem, error) {
	if err := u.Validate(); err != nil {
		return meeting.ActionItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return meeting.ActionItem{}, ErrNotFound
	}
	u.Apply(&a, s.now())
	s.items[id] = a
	return a, nil
}

func (s *Memory) DeleteActionItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() error { return nil }

func cloneMeeting(m meeting.Meeting) meeting.Meeting {
	m.Participants = slices.Clone(m.Participants)
	m.Tags = slices.Clone(m.Tags)
	return m
}
