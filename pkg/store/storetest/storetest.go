// Package storetest is a conformance suite run against every [store.Store]
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/provider/stt"
	"github.com/MrWong99/minutes/pkg/store"
)

// Run exercises s through the whole Store contract. newStore must return an
// empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"MeetingCRUD", testMeetingCRUD},
		{"ListMeetingsFilters", testListMeetings},
		{"TranscriptAndSummary", testTranscriptAndSummary},
		{"ActionItems", testActionItems},
		{"DeleteCascades", testDeleteCascades},
		{"NotFound", testNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC)

func mustMeeting(t *testing.T, s store.Store, title string, date time.Time, tags ...string) meeting.Meeting {
	t.Helper()
	m := meeting.Meeting{Title: title, Date: date, Duration: 30 * time.Minute, Tags: tags, Participants: []string{"Dana"}}
	if err := s.CreateMeeting(context.Background(), &m); err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	return m
}

func testMeetingCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := mustMeeting(t, s, "Standup", base, "team")
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("CreateMeeting did not stamp identity: %+v", m)
	}

	got, err := s.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if got.Title != "Standup" || !got.Date.Equal(base) || got.Duration != 30*time.Minute || len(got.Participants) != 1 {
		t.Errorf("GetMeeting = %+v", got)
	}

	got.Title = "Daily standup"
	got.Notes = "moved to 9:30"
	if err := s.UpdateMeeting(ctx, got); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	again, _ := s.GetMeeting(ctx, m.ID)
	if again.Title != "Daily standup" || again.Notes != "moved to 9:30" {
		t.Errorf("after update = %+v", again)
	}
}

func testListMeetings(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := mustMeeting(t, s, "old", base.Add(-48*time.Hour), "team")
	mid := mustMeeting(t, s, "mid", base.Add(-24*time.Hour), "team", "planning")
	newest := mustMeeting(t, s, "new", base, "client")

	all, err := s.ListMeetings(ctx, store.MeetingFilter{})
	if err != nil {
		t.Fatalf("ListMeetings: %v", err)
	}
	if ids(all) != ids([]meeting.Meeting{newest, mid, old}) {
		t.Errorf("order = %s, want newest first", ids(all))
	}

	tests := []struct {
		name string
		f    store.MeetingFilter
		want []meeting.Meeting
	}{
		{"limit", store.MeetingFilter{Limit: 2}, []meeting.Meeting{newest, mid}},
		{"offset", store.MeetingFilter{Offset: 1}, []meeting.Meeting{mid, old}},
		{"offset past end", store.MeetingFilter{Offset: 10}, nil},
		{"tag", store.MeetingFilter{Tags: []string{"team"}}, []meeting.Meeting{mid, old}},
		{"all tags", store.MeetingFilter{Tags: []string{"team", "planning"}}, []meeting.Meeting{mid}},
		{"from", store.MeetingFilter{From: base.Add(-24 * time.Hour)}, []meeting.Meeting{newest, mid}},
		{"to", store.MeetingFilter{To: base.Add(-time.Hour)}, []meeting.Meeting{mid, old}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListMeetings(ctx, tc.f)
			if err != nil {
				t.Fatalf("ListMeetings: %v", err)
			}
			if ids(got) != ids(tc.want) {
				t.Errorf("got %s, want %s", ids(got), ids(tc.want))
			}
		})
	}
}

func testTranscriptAndSummary(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := mustMeeting(t, s, "Review", base)

	tr := meeting.NewTranscript(m.ID, stt.Result{
		Text:     "hello world",
		Language: "en",
		Segments: []stt.Segment{{Start: 0, End: 1.5, Text: "hello world", Words: []stt.Word{{Word: "hello", Start: 0, End: 0.5}}}},
	})
	if err := s.CreateTranscript(ctx, &tr); err != nil {
		t.Fatalf("CreateTranscript: %v", err)
	}
	gotT, err := s.GetTranscript(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if gotT.FullText != "hello world" || gotT.WordCount != 2 || len(gotT.Segments) != 1 || len(gotT.Segments[0].Words) != 1 {
		t.Errorf("GetTranscript = %+v", gotT)
	}

	sum := meeting.Summary{
		MeetingID:   m.ID,
		SummaryText: "short",
		KeyPoints:   []string{"a"},
		Topics:      []meeting.Topic{{Name: "x", Discussion: "y"}},
		Questions:   []meeting.Question{{Question: "q", Answer: "Unanswered"}},
		ModelUsed:   "gpt-4-turbo",
	}
	if err := s.CreateSummary(ctx, &sum); err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}
	replaced := meeting.Summary{MeetingID: m.ID, SummaryText: "second pass", Unavailable: true}
	if err := s.CreateSummary(ctx, &replaced); err != nil {
		t.Fatalf("CreateSummary (replace): %v", err)
	}
	gotS, err := s.GetSummary(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if gotS.SummaryText != "second pass" || !gotS.Unavailable {
		t.Errorf("GetSummary = %+v, want the replacement", gotS)
	}

	orphan := meeting.Transcript{MeetingID: "missing"}
	if err := s.CreateTranscript(ctx, &orphan); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("transcript for unknown meeting: err = %v, want ErrNotFound", err)
	}
}

func testActionItems(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := mustMeeting(t, s, "Planning", base)
	other := mustMeeting(t, s, "Other", base)

	due1 := base.Add(48 * time.Hour)
	due2 := base.Add(24 * time.Hour)
	items := []meeting.ActionItem{
		{MeetingID: m.ID, Task: "no due date", Assignee: "Dana", Status: meeting.StatusPending, CreatedAt: base},
		{MeetingID: m.ID, Task: "later", Assignee: "dana", Status: meeting.StatusPending, DueDate: &due1, CreatedAt: base},
		{MeetingID: m.ID, Task: "sooner", Assignee: meeting.Unassigned, Status: meeting.StatusPending, DueDate: &due2, CreatedAt: base},
		{MeetingID: other.ID, Task: "elsewhere", Assignee: "Sam", Status: meeting.StatusCompleted, CreatedAt: base},
	}
	for i := range items {
		if err := s.CreateActionItem(ctx, &items[i]); err != nil {
			t.Fatalf("CreateActionItem: %v", err)
		}
		if items[i].ID == "" {
			t.Fatal("CreateActionItem did not assign an ID")
		}
	}

	got, err := s.ListActionItems(ctx, store.ActionItemFilter{MeetingID: m.ID})
	if err != nil {
		t.Fatalf("ListActionItems: %v", err)
	}
	if tasks(got) != "sooner,later,no due date" {
		t.Errorf("order = %s, want due dates first then undated", tasks(got))
	}

	byAssignee, _ := s.ListActionItems(ctx, store.ActionItemFilter{Assignee: "DANA"})
	if len(byAssignee) != 2 {
		t.Errorf("assignee filter returned %d items, want 2", len(byAssignee))
	}
	completed, _ := s.ListActionItems(ctx, store.ActionItemFilter{Status: meeting.StatusCompleted})
	if tasks(completed) != "elsewhere" {
		t.Errorf("status filter = %s", tasks(completed))
	}

	st := meeting.StatusCompleted
	who := "Sam"
	updated, err := s.UpdateActionItem(ctx, items[1].ID, store.ActionItemUpdate{Status: &st, Assignee: &who, ClearDueDate: true})
	if err != nil {
		t.Fatalf("UpdateActionItem: %v", err)
	}
	if updated.Status != meeting.StatusCompleted || updated.Assignee != "Sam" || updated.DueDate != nil || updated.Task != "later" {
		t.Errorf("UpdateActionItem = %+v", updated)
	}
	reread, _ := s.GetActionItem(ctx, items[1].ID)
	if reread.Status != meeting.StatusCompleted || reread.DueDate != nil {
		t.Errorf("GetActionItem after update = %+v", reread)
	}

	bad := meeting.Status("archived")
	if _, err := s.UpdateActionItem(ctx, items[0].ID, store.ActionItemUpdate{Status: &bad}); err == nil {
		t.Error("invalid status accepted")
	}

	if err := s.DeleteActionItem(ctx, items[0].ID); err != nil {
		t.Fatalf("DeleteActionItem: %v", err)
	}
	if _, err := s.GetActionItem(ctx, items[0].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted item: err = %v, want ErrNotFound", err)
	}
}

func testDeleteCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := mustMeeting(t, s, "Doomed", base)
	tr := meeting.Transcript{MeetingID: m.ID, FullText: "x"}
	sum := meeting.Summary{MeetingID: m.ID}
	item := meeting.ActionItem{MeetingID: m.ID, Task: "t", Assignee: meeting.Unassigned, Status: meeting.StatusPending}
	for _, err := range []error{
		s.CreateTranscript(ctx, &tr),
		s.CreateSummary(ctx, &sum),
		s.CreateActionItem(ctx, &item),
	} {
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if err := s.DeleteMeeting(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMeeting: %v", err)
	}
	if _, err := s.GetTranscript(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("transcript survived: %v", err)
	}
	if _, err := s.GetSummary(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("summary survived: %v", err)
	}
	if _, err := s.GetActionItem(ctx, item.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("action item survived: %v", err)
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	checks := map[string]error{
		"GetMeeting":       second(s.GetMeeting(ctx, "nope")),
		"UpdateMeeting":    s.UpdateMeeting(ctx, meeting.Meeting{ID: "nope"}),
		"DeleteMeeting":    s.DeleteMeeting(ctx, "nope"),
		"GetTranscript":    second(s.GetTranscript(ctx, "nope")),
		"GetSummary":       second(s.GetSummary(ctx, "nope")),
		"GetActionItem":    second(s.GetActionItem(ctx, "nope")),
		"UpdateActionItem": second(s.UpdateActionItem(ctx, "nope", store.ActionItemUpdate{})),
		"DeleteActionItem": s.DeleteActionItem(ctx, "nope"),
	}
	for name, err := range checks {
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("%s: err = %v, want ErrNotFound", name, err)
		}
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func second[T any](_ T, err error) error { return err }

func ids(ms []meeting.Meeting) string {
	out := ""
	for i, m := range ms {
		if i > 0 {
			out += ","
		}
		out += m.ID
	}
	return out
}

func tasks(items []meeting.ActionItem) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it.Task
	}
	return out
}
