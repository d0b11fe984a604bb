package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/minutes/pkg/provider/llm"
	llmmock "github.com/MrWong99/minutes/pkg/provider/llm/mock"
)

const validResponse = `{
  "summary": "The team agreed to ship on Friday.",
  "action_items": [{"task": "Write release notes", "assignee": "Dana", "due_date": "Friday"}],
  "key_points": ["Release is on track"],
  "topics": [{"name": "Release", "discussion": "Timeline reviewed"}],
  "decisions": ["Ship on Friday"],
  "questions": [{"question": "Do we need a freeze?", "answer": "Unanswered"}]
}`

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("parses the six keys", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validResponse, Model: "gpt-4-turbo-2024"}}
		e := New(p, WithModel("gpt-4-turbo"))

		res := e.Summarize(context.Background(), "we ship friday", "", "")
		if res.Degraded || res.Unparsed {
			t.Fatalf("unexpected degraded result: %+v", res)
		}
		if res.SummaryText != "The team agreed to ship on Friday." {
			t.Errorf("SummaryText = %q", res.SummaryText)
		}
		if len(res.KeyPoints) != 1 || len(res.Topics) != 1 || len(res.Decisions) != 1 || len(res.Questions) != 1 {
			t.Errorf("structured fields = %+v", res)
		}
		if len(res.ActionItems) != 1 || res.ActionItems[0].Assignee != "Dana" {
			t.Errorf("ActionItems = %+v", res.ActionItems)
		}
		if res.Model != "gpt-4-turbo-2024" {
			t.Errorf("Model = %q, want the provider-reported model", res.Model)
		}
	})

	t.Run("request shape", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: validResponse}}
		e := New(p, WithModel("gpt-4-turbo"))

		res := e.Summarize(context.Background(), "transcript body", "Weekly sync", "Q3 planning")
		if res.Model != "gpt-4-turbo" {
			t.Errorf("Model = %q, want configured fallback", res.Model)
		}
		calls := p.Calls()
		if len(calls) != 1 {
			t.Fatalf("Complete called %d times", len(calls))
		}
		req := calls[0].Req
		if req.Temperature != summaryTemperature || !req.JSONMode {
			t.Errorf("temperature=%v json=%v", req.Temperature, req.JSONMode)
		}
		if !strings.Contains(req.SystemPrompt, "Title: Weekly sync\n") || !strings.Contains(req.SystemPrompt, "Context: Q3 planning\n") {
			t.Errorf("system prompt missing title/context lines:\n%s", req.SystemPrompt)
		}
		for _, key := range []string{`"summary"`, `"action_items"`, `"key_points"`, `"topics"`, `"decisions"`, `"questions"`} {
			if !strings.Contains(req.SystemPrompt, key) {
				t.Errorf("system prompt missing key %s", key)
			}
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "transcript body" {
			t.Errorf("messages = %+v", req.Messages)
		}
	})

	t.Run("invalid JSON keeps raw text", func(t *testing.T) {
		t.Parallel()
		raw := "The meeting was short and nobody decided anything."
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: raw}}

		res := New(p).Summarize(context.Background(), "", "", "")
		if res.SummaryText != raw || !res.Unparsed || res.Degraded {
			t.Fatalf("got %+v", res)
		}
		if res.KeyPoints == nil || len(res.KeyPoints) != 0 || len(res.Topics) != 0 || len(res.Decisions) != 0 || len(res.Questions) != 0 {
			t.Errorf("structured fields should be empty arrays: %+v", res)
		}
	})

	t.Run("prose with braces keeps raw text", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{
			`Summary: we agreed on {"x": 1} as the config.`,
			"Summary: the meeting covered budget {unfinished",
			"Summary: {}",
		} {
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: raw}}
			res := New(p).Summarize(context.Background(), "", "", "")
			if res.SummaryText != raw || !res.Unparsed || res.Degraded {
				t.Errorf("content %q: got SummaryText=%q Unparsed=%v", raw, res.SummaryText, res.Unparsed)
			}
			if len(res.KeyPoints) != 0 || len(res.ActionItems) != 0 {
				t.Errorf("content %q: structured fields = %+v", raw, res)
			}
		}
	})

	t.Run("llm failure degrades", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteErr: errors.New("503 service unavailable")}

		res := New(p).Summarize(context.Background(), "hello", "", "")
		if !res.Degraded || res.Err == nil {
			t.Fatalf("expected a degraded result, got %+v", res)
		}
		if res.SummaryText != "" {
			t.Errorf("SummaryText = %q, want empty", res.SummaryText)
		}
		if s := res.Summary("m1"); !s.Unavailable || s.MeetingID != "m1" {
			t.Errorf("Summary() = %+v", s)
		}
	})

	t.Run("missing arrays become empty", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"summary": "Nothing was said."}`}}

		res := New(p).Summarize(context.Background(), "", "", "")
		if res.SummaryText != "Nothing was said." || res.Decisions == nil || res.ActionItems == nil {
			t.Errorf("got %+v", res)
		}
	})
}

func TestGenerateTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		err     error
		want    string
	}{
		{name: "double quotes stripped", content: `"Q3 Roadmap Review"`, want: "Q3 Roadmap Review"},
		{name: "single quotes and whitespace", content: "  'Budget sync'\n", want: "Budget sync"},
		{name: "empty output falls back", content: `""`, want: DefaultTitle},
		{name: "error falls back", err: errors.New("timeout"), want: DefaultTitle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteErr: tc.err}
			if tc.err == nil {
				p.CompleteResponse = &llm.CompletionResponse{Content: tc.content}
			}
			if got := New(p).GenerateTitle(context.Background(), "some transcript"); got != tc.want {
				t.Errorf("GenerateTitle = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGenerateTitle_TruncatesTranscript(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Title"}}
	long := strings.Repeat("ü", 6000)

	New(p).GenerateTitle(context.Background(), long)

	req := p.Calls()[0].Req
	if n := utf8.RuneCountInString(req.Messages[0].Content); n != titlePrefixRunes {
		t.Errorf("sent %d runes, want %d", n, titlePrefixRunes)
	}
	if req.Temperature != titleTemperature || req.MaxTokens != titleMaxTokens || req.JSONMode {
		t.Errorf("request = %+v", req)
	}
}
