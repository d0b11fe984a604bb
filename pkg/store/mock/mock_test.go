package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/mock"
	"github.com/MrWong99/minutes/pkg/store/storetest"
)

func TestStore_Conforms(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return mock.New() })
}

func TestStore_FailOnAndRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := mock.New()
	boom := errors.New("boom")

	m := meeting.Meeting{Title: "x"}
	if err := s.CreateMeeting(ctx, &m); err != nil {
		t.Fatal(err)
	}
	s.FailOn("CreateSummary", boom)
	if err := s.CreateSummary(ctx, &meeting.Summary{MeetingID: m.ID}); !errors.Is(err, boom) {
		t.Errorf("CreateSummary err = %v, want boom", err)
	}
	if _, err := s.GetSummary(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed call must not store anything, got %v", err)
	}

	s.FailOn("CreateSummary", nil)
	if err := s.CreateSummary(ctx, &meeting.Summary{MeetingID: m.ID}); err != nil {
		t.Errorf("after clearing: %v", err)
	}
	if got := s.CallCount("CreateSummary"); got != 2 {
		t.Errorf("CallCount = %d, want 2", got)
	}
	want := []string{"CreateMeeting", "CreateSummary", "GetSummary", "CreateSummary"}
	if got := s.Calls(); len(got) != len(want) {
		t.Errorf("Calls = %v, want %v", got, want)
	}

	s.FailOn("Ping", boom)
	s.Reset()
	if len(s.Calls()) != 0 || s.Ping(ctx) != nil {
		t.Error("Reset should clear calls and failures")
	}
	if _, err := s.GetMeeting(ctx, m.ID); err != nil {
		t.Errorf("Reset must keep data: %v", err)
	}
}
