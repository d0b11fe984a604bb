// Package mock provides a [store.Store] test double: a working in-memory
// store that records every call and can be told to fail chosen methods.
//
//	s := mock.New()
//	s.FailOn("CreateSummary", errors.New("disk full"))
//	...
//	if s.CallCount("CreateTranscript") != 1 { ... }
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store delegates to a [store.Memory] after recording the call.
type Store struct {
	mem *store.Memory

	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

// New returns an empty mock store.
func New() *Store {
	return &Store{mem: store.NewMemory(), fail: make(map[string]error)}
}

// FailOn makes every later call of method return err. A nil err clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

// Calls returns the method names called so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how often method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and injected failures. Stored data is kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	clear(s.fail)
}

func (s *Store) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
	return s.fail[method]
}

func (s *Store) CreateMeeting(ctx context.Context, m *meeting.Meeting) error {
	if err := s.record("CreateMeeting"); err != nil {
		return err
	}
	return s.mem.CreateMeeting(ctx, m)
}

func (s *Store) GetMeeting(ctx context.Context, id string) (meeting.Meeting, error) {
	if err := s.record("GetMeeting"); err != nil {
		return meeting.Meeting{}, err
	}
	return s.mem.GetMeeting(ctx, id)
}

func (s *Store) ListMeetings(ctx context.Context, f store.MeetingFilter) ([]meeting.Meeting, error) {
	if err := s.record("ListMeetings"); err != nil {
		return nil, err
	}
	return s.mem.ListMeetings(ctx, f)
}

func (s *Store) UpdateMeeting(ctx context.Context, m meeting.Meeting) error {
	if err := s.record("UpdateMeeting"); err != nil {
		return err
	}
	return s.mem.UpdateMeeting(ctx, m)
}

func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	if err := s.record("DeleteMeeting"); err != nil {
		return err
	}
	return s.mem.DeleteMeeting(ctx, id)
}

func (s *Store) CreateTranscript(ctx context.Context, t *meeting.Transcript) error {
	if err := s.record("CreateTranscript"); err != nil {
		return err
	}
	return s.mem.CreateTranscript(ctx, t)
}

func (s *Store) GetTranscript(ctx context.Context, meetingID string) (meeting.Transcript, error) {
	if err := s.record("GetTranscript"); err != nil {
		return meeting.Transcript{}, err
	}
	return s.mem.GetTranscript(ctx, meetingID)
}

func (s *Store) CreateSummary(ctx context.Context, sum *meeting.Summary) error {
	if err := s.record("CreateSummary"); err != nil {
		return err
	}
	return s.mem.CreateSummary(ctx, sum)
}

func (s *Store) GetSummary(ctx context.Context, meetingID string) (meeting.Summary, error) {
	if err := s.record("GetSummary"); err != nil {
		return meeting.Summary{}, err
	}
	return s.mem.GetSummary(ctx, meetingID)
}

func (s *Store) CreateActionItem(ctx context.Context, a *meeting.ActionItem) error {
	if err := s.record("CreateActionItem"); err != nil {
		return err
	}
	return s.mem.CreateActionItem(ctx, a)
}

func (s *Store) GetActionItem(ctx context.Context, id string) (meeting.ActionItem, error) {
	if err := s.record("GetActionItem"); err != nil {
		return meeting.ActionItem{}, err
	}
	return s.mem.GetActionItem(ctx, id)
}

func (s *Store) ListActionItems(ctx context.Context, f store.ActionItemFilter) ([]meeting.ActionItem, error) {
	if err := s.record("ListActionItems"); err != nil {
		return nil, err
	}
	return s.mem.ListActionItems(ctx, f)
}

func (s *Store) UpdateActionItem(ctx context.Context, id string, u store.ActionItemUpdate) (meeting.ActionItem, error) {
	if err := s.record("UpdateActionItem"); err != nil {
		return meeting.ActionItem{}, err
	}
	return s.mem.UpdateActionItem(ctx, id, u)
}

func (s *Store) DeleteActionItem(ctx context.Context, id string) error {
	if err := s.record("DeleteActionItem"); err != nil {
		return err
	}
	return s.mem.DeleteActionItem(ctx, id)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.record("Ping"); err != nil {
		return err
	}
	return s.mem.Ping(ctx)
}

func (s *Store) Close() error {
	if err := s.record("Close"); err != nil {
		return err
	}
	return s.mem.Close()
}
