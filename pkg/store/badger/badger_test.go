package badger_test

import (
	"context"
	"testing"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/badger"
	"github.com/MrWong99/minutes/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := badger.Open(badger.Options{InMemory: true})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s, err := badger.Open(badger.Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := meeting.Meeting{Title: "Retro"}
	if err := s.CreateMeeting(ctx, &m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	item := meeting.ActionItem{MeetingID: m.ID, Task: "fix CI", Assignee: meeting.Unassigned, Status: meeting.StatusPending}
	if err := s.CreateActionItem(ctx, &item); err != nil {
		t.Fatalf("CreateActionItem: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = badger.Open(badger.Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetMeeting(ctx, m.ID)
	if err != nil || got.Title != "Retro" {
		t.Fatalf("GetMeeting after reopen = %+v, %v", got, err)
	}
	items, err := s.ListActionItems(ctx, store.ActionItemFilter{MeetingID: m.ID})
	if err != nil || len(items) != 1 || items[0].Task != "fix CI" {
		t.Errorf("ListActionItems after reopen = %+v, %v", items, err)
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	t.Parallel()
	if _, err := badger.Open(badger.Options{}); err == nil {
		t.Error("expected an error without Dir")
	}
}

func TestPing_AfterClose(t *testing.T) {
	t.Parallel()
	s, err := badger.Open(badger.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded on a closed store")
	}
}
