// Package mcpserver exposes stored meetings and action items as MCP tools.
//
// Five tools are registered:
//   - "list_meetings"             meetings, newest first, with tag and date filters.
//   - "get_meeting"               one meeting with transcript, summary, and action items.
//   - "list_action_items"         action items filtered by meeting, status, or assignee.
//   - "update_action_item_status" set an item to pending, completed, or cancelled.
//   - "search_transcripts"        semantic transcript search, when the store supports it.
//
// The same [Server] is served over stdio by [Server.Run] and over streamable
// HTTP by [Server.Handler].
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

// defaultSearchLimit applies when search_transcripts is called without a limit.
const defaultSearchLimit = 10

// Server wraps an MCP server whose tools read and write st.
type Server struct {
	store store.Store
	mcp   *mcpsdk.Server
}

// New registers every tool against st.
func New(st store.Store, version string) *Server {
	s := &Server{
		store: st,
		mcp:   mcpsdk.NewServer(&mcpsdk.Implementation{Name: "minutes", Version: version}, nil),
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_meetings",
		Description: "List recorded meetings, newest first. Dates are YYYY-MM-DD or RFC 3339.",
	}, s.listMeetings)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_meeting",
		Description: "Get a meeting with its transcript, summary, and action items.",
	}, s.getMeeting)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_action_items",
		Description: "List action items. Items with a due date come first.",
	}, s.listActionItems)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "update_action_item_status",
		Description: "Set the status of an action item to pending, completed, or cancelled.",
	}, s.updateActionItemStatus)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "search_transcripts",
		Description: "Search meeting transcripts by meaning.",
	}, s.searchTranscripts)

	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Run serves the tools over stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// ─── list_meetings ───────────────────────────────────────────────────────────

type listMeetingsArgs struct {
	Limit  int      `json:"limit,omitempty" jsonschema:"maximum number of meetings, default 100"`
	Offset int      `json:"offset,omitempty" jsonschema:"number of meetings to skip"`
	Tags   []string `json:"tags,omitempty" jsonschema:"only meetings carrying every tag"`
	From   string   `json:"from,omitempty" jsonschema:"earliest meeting date"`
	To     string   `json:"to,omitempty" jsonschema:"latest meeting date, inclusive"`
}

func (s *Server) listMeetings(ctx context.Context, _ *mcpsdk.CallToolRequest, a listMeetingsArgs) (*mcpsdk.CallToolResult, any, error) {
	if a.Limit < 0 || a.Offset < 0 {
		return nil, nil, errors.New("list_meetings: limit and offset must not be negative")
	}
	f := store.MeetingFilter{Limit: a.Limit, Offset: a.Offset, Tags: a.Tags}
	var err error
	if f.From, err = parseDate(a.From, false); err != nil {
		return nil, nil, fmt.Errorf("list_meetings: from: %w", err)
	}
	if f.To, err = parseDate(a.To, true); err != nil {
		return nil, nil, fmt.Errorf("list_meetings: to: %w", err)
	}
	ms, err := s.store.ListMeetings(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("list_meetings: %w", err)
	}
	if ms == nil {
		ms = []meeting.Meeting{}
	}
	return jsonResult(map[string]any{"meetings": ms})
}

// ─── get_meeting ─────────────────────────────────────────────────────────────

type getMeetingArgs struct {
	MeetingID string `json:"meeting_id" jsonschema:"the meeting ID"`
}

func (s *Server) getMeeting(ctx context.Context, _ *mcpsdk.CallToolRequest, a getMeetingArgs) (*mcpsdk.CallToolResult, any, error) {
	if strings.TrimSpace(a.MeetingID) == "" {
		return nil, nil, errors.New("get_meeting: meeting_id must not be empty")
	}
	rec, err := store.LoadRecord(ctx, s.store, a.MeetingID)
	if err != nil {
		return nil, nil, fmt.Errorf("get_meeting: %w", err)
	}
	return jsonResult(rec)
}

// ─── list_action_items ───────────────────────────────────────────────────────

type listActionItemsArgs struct {
	MeetingID string `json:"meeting_id,omitempty" jsonschema:"only items of this meeting"`
	Status    string `json:"status,omitempty" jsonschema:"pending, completed, or cancelled"`
	Assignee  string `json:"assignee,omitempty" jsonschema:"only items assigned to this person, case-insensitive"`
}

func (s *Server) listActionItems(ctx context.Context, _ *mcpsdk.CallToolRequest, a listActionItemsArgs) (*mcpsdk.CallToolResult, any, error) {
	f := store.ActionItemFilter{MeetingID: a.MeetingID, Assignee: strings.TrimSpace(a.Assignee)}
	if a.Status != "" {
		st, err := meeting.ParseStatus(a.Status)
		if err != nil {
			return nil, nil, fmt.Errorf("list_action_items: %w", err)
		}
		f.Status = st
	}
	items, err := s.store.ListActionItems(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("list_action_items: %w", err)
	}
	if items == nil {
		items = []meeting.ActionItem{}
	}
	return jsonResult(map[string]any{"action_items": items})
}

// ─── update_action_item_status ───────────────────────────────────────────────

type updateStatusArgs struct {
	ID     string `json:"id" jsonschema:"the action item ID"`
	Status string `json:"status" jsonschema:"pending, completed, or cancelled"`
}

func (s *Server) updateActionItemStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, a updateStatusArgs) (*mcpsdk.CallToolResult, any, error) {
	st, err := meeting.ParseStatus(a.Status)
	if err != nil {
		return nil, nil, fmt.Errorf("update_action_item_status: %w", err)
	}
	item, err := s.store.UpdateActionItem(ctx, a.ID, store.ActionItemUpdate{Status: &st})
	if err != nil {
		return nil, nil, fmt.Errorf("update_action_item_status: %w", err)
	}
	return jsonResult(item)
}

// ─── search_transcripts ──────────────────────────────────────────────────────

type searchArgs struct {
	Query string `json:"query" jsonschema:"what to look for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of hits, default 10"`
}

func (s *Server) searchTranscripts(ctx context.Context, _ *mcpsdk.CallToolRequest, a searchArgs) (*mcpsdk.CallToolResult, any, error) {
	searcher, ok := s.store.(store.Searcher)
	if !ok {
		return nil, nil, fmt.Errorf("search_transcripts: %w", store.ErrSearchUnavailable)
	}
	q := strings.TrimSpace(a.Query)
	if q == "" {
		return nil, nil, errors.New("search_transcripts: query must not be empty")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := searcher.SearchTranscripts(ctx, q, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("search_transcripts: %w", err)
	}
	if hits == nil {
		hits = []store.SearchResult{}
	}
	return jsonResult(map[string]any{"results": hits})
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// jsonResult returns v as both structured content and a JSON text block.
func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
		StructuredContent: json.RawMessage(b),
	}, nil, nil
}

// parseDate accepts RFC 3339 or YYYY-MM-DD. A bare day ends at its last
// second when endOfDay is set.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Second)
	}
	return d, nil
}
