package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

type searchingStore struct {
	*store.Memory
	hits []store.SearchResult
}

func (s searchingStore) SearchTranscripts(_ context.Context, query string, limit int) ([]store.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []store.SearchResult
	for _, h := range s.hits {
		if strings.Contains(strings.ToLower(h.Excerpt), strings.ToLower(query)) {
			out = append(out, h)
		}
	}
	return out, nil
}

// connect wires a client session to a Server over in-memory transports.
func connect(t *testing.T, st store.Store) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv := New(st, "test")
	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// call invokes a tool and decodes its JSON text content into out. It
// returns the tool error text when the result is an error.
func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any, out any) string {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s: empty content", name)
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("%s: content is %T", name, res.Content[0])
	}
	if res.IsError {
		return text.Text
	}
	if out != nil {
		if err := json.Unmarshal([]byte(text.Text), out); err != nil {
			t.Fatalf("%s: decode %q: %v", name, text.Text, err)
		}
	}
	return ""
}

func seed(t *testing.T, st store.Store) (meeting.Meeting, meeting.ActionItem) {
	t.Helper()
	ctx := context.Background()
	m := meeting.Meeting{Title: "Planning", Date: time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC), Tags: []string{"team"}}
	if err := st.CreateMeeting(ctx, &m); err != nil {
		t.Fatal(err)
	}
	old := meeting.Meeting{Title: "Retro", Date: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)}
	if err := st.CreateMeeting(ctx, &old); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateTranscript(ctx, &meeting.Transcript{MeetingID: m.ID, FullText: "we plan the launch"}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateSummary(ctx, &meeting.Summary{MeetingID: m.ID, SummaryText: "Launch planning."}); err != nil {
		t.Fatal(err)
	}
	item := meeting.ActionItem{MeetingID: m.ID, Task: "Book venue", Assignee: "Dana", Status: meeting.StatusPending}
	if err := st.CreateActionItem(ctx, &item); err != nil {
		t.Fatal(err)
	}
	return m, item
}

func TestListTools(t *testing.T) {
	t.Parallel()

	cs := connect(t, store.NewMemory())
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
		if tool.InputSchema == nil {
			t.Errorf("%s has no input schema", tool.Name)
		}
	}
	for _, want := range []string{"list_meetings", "get_meeting", "list_action_items", "update_action_item_status", "search_transcripts"} {
		if !got[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestListMeetings(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st)
	cs := connect(t, st)

	tests := []struct {
		name    string
		args    map[string]any
		titles  []string
		wantErr string
	}{
		{name: "all", args: map[string]any{}, titles: []string{"Planning", "Retro"}},
		{name: "tag", args: map[string]any{"tags": []string{"team"}}, titles: []string{"Planning"}},
		{name: "range", args: map[string]any{"from": "2024-01-01", "to": "2024-01-31"}, titles: []string{"Retro"}},
		{name: "page", args: map[string]any{"limit": 1}, titles: []string{"Planning"}},
		{name: "bad date", args: map[string]any{"from": "last week"}, wantErr: "from"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out struct {
				Meetings []meeting.Meeting `json:"meetings"`
			}
			errText := call(t, cs, "list_meetings", tc.args, &out)
			if tc.wantErr != "" {
				if !strings.Contains(errText, tc.wantErr) {
					t.Errorf("error = %q, want it to mention %q", errText, tc.wantErr)
				}
				return
			}
			if errText != "" {
				t.Fatalf("tool error: %s", errText)
			}
			var titles []string
			for _, m := range out.Meetings {
				titles = append(titles, m.Title)
			}
			if strings.Join(titles, ",") != strings.Join(tc.titles, ",") {
				t.Errorf("titles = %v, want %v", titles, tc.titles)
			}
		})
	}
}

func TestGetMeeting(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m, _ := seed(t, st)
	cs := connect(t, st)

	var rec meeting.Record
	if errText := call(t, cs, "get_meeting", map[string]any{"meeting_id": m.ID}, &rec); errText != "" {
		t.Fatalf("tool error: %s", errText)
	}
	if rec.Meeting.Title != "Planning" || rec.Transcript.FullText != "we plan the launch" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Summary.SummaryText != "Launch planning." || len(rec.ActionItems) != 1 {
		t.Errorf("summary/items = %+v / %+v", rec.Summary, rec.ActionItems)
	}

	errText := call(t, cs, "get_meeting", map[string]any{"meeting_id": "nope"}, nil)
	if !strings.Contains(errText, "not found") {
		t.Errorf("missing meeting error = %q", errText)
	}
}

func TestActionItemTools(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	m, item := seed(t, st)
	cs := connect(t, st)

	type list struct {
		Items []meeting.ActionItem `json:"action_items"`
	}

	var pending list
	call(t, cs, "list_action_items", map[string]any{"meeting_id": m.ID, "assignee": "dana", "status": "pending"}, &pending)
	if len(pending.Items) != 1 || pending.Items[0].ID != item.ID {
		t.Fatalf("pending = %+v", pending.Items)
	}

	var updated meeting.ActionItem
	if errText := call(t, cs, "update_action_item_status", map[string]any{"id": item.ID, "status": "completed"}, &updated); errText != "" {
		t.Fatalf("tool error: %s", errText)
	}
	if updated.Status != meeting.StatusCompleted || updated.Task != "Book venue" {
		t.Errorf("updated = %+v", updated)
	}

	var still list
	call(t, cs, "list_action_items", map[string]any{"status": "pending"}, &still)
	if len(still.Items) != 0 {
		t.Errorf("pending after update = %+v", still.Items)
	}

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{name: "bad status", tool: "update_action_item_status", args: map[string]any{"id": item.ID, "status": "done"}},
		{name: "missing item", tool: "update_action_item_status", args: map[string]any{"id": "nope", "status": "cancelled"}},
		{name: "bad filter", tool: "list_action_items", args: map[string]any{"status": "later"}},
	}
	for _, tc := range tests {
		if errText := call(t, cs, tc.tool, tc.args, nil); errText == "" {
			t.Errorf("%s: expected a tool error", tc.name)
		}
	}
}

func TestSearchTranscripts(t *testing.T) {
	t.Parallel()

	t.Run("unsupported store", func(t *testing.T) {
		t.Parallel()
		cs := connect(t, store.NewMemory())
		errText := call(t, cs, "search_transcripts", map[string]any{"query": "launch"}, nil)
		if !strings.Contains(errText, "unavailable") {
			t.Errorf("error = %q", errText)
		}
	})

	t.Run("hits", func(t *testing.T) {
		t.Parallel()
		st := searchingStore{
			Memory: store.NewMemory(),
			hits: []store.SearchResult{
				{MeetingID: "m1", Title: "Planning", Excerpt: "we plan the launch"},
				{MeetingID: "m2", Title: "Retro", Excerpt: "what went wrong"},
			},
		}
		cs := connect(t, st)

		var out struct {
			Results []store.SearchResult `json:"results"`
		}
		if errText := call(t, cs, "search_transcripts", map[string]any{"query": "Launch"}, &out); errText != "" {
			t.Fatalf("tool error: %s", errText)
		}
		if len(out.Results) != 1 || out.Results[0].MeetingID != "m1" {
			t.Errorf("results = %+v", out.Results)
		}

		if errText := call(t, cs, "search_transcripts", map[string]any{"query": "  "}, nil); errText == "" {
			t.Error("blank query accepted")
		}
	})
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	end, err := parseDate("2024-03-13", true)
	if err != nil || !end.Equal(time.Date(2024, 3, 13, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("end of day = %v, %v", end, err)
	}
	if _, err := parseDate("13.03.2024", false); err == nil {
		t.Error("expected an error for an unknown layout")
	}
}
