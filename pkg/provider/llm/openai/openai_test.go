package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

// TestConvertMessage checks role mapping.
func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role  string
		check func(t *testing.T, m llm.Message)
	}{
		{role: "system", check: func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfSystem == nil {
				t.Fatalf("OfSystem not set (err %v)", err)
			}
		}},
		{role: "user", check: func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfUser == nil {
				t.Fatalf("OfUser not set (err %v)", err)
			}
			if p.OfUser.Name.Value != "alice" {
				t.Errorf("name = %q", p.OfUser.Name.Value)
			}
		}},
		{role: "assistant", check: func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("OfAssistant not set (err %v)", err)
			}
		}},
		{role: "tool", check: func(t *testing.T, m llm.Message) {
			if _, err := convertMessage(m); err == nil {
				t.Fatal("expected an error for an unsupported role")
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			tc.check(t, llm.Message{Role: tc.role, Content: "hi", Name: "alice"})
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty key should fail")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("empty model should fail")
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model    string
		window   int
		jsonMode bool
	}{
		{"gpt-4-turbo", 128_000, true},
		{"gpt-4", 8_192, false},
		{"gpt-4o-mini", 128_000, true},
		{"o3-mini", 200_000, true},
		{"some-local-model", 128_000, true},
	}
	for _, tc := range tests {
		caps := modelCapabilities(tc.model)
		if caps.ContextWindow != tc.window || caps.SupportsJSONMode != tc.jsonMode {
			t.Errorf("%s: got %+v", tc.model, caps)
		}
	}
}

func TestComplete_JSONMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model      string
		wantFormat bool
		wantSystem string
	}{
		{model: "gpt-4-turbo", wantFormat: true, wantSystem: "be brief"},
		{model: "gpt-4", wantSystem: llm.WithJSONInstruction("be brief")},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()

			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &body)
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, `{
				  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "`+tc.model+`-2024-04-09",
				  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"summary\": \"ok\"}"}}],
				  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
				}`)
			}))
			defer srv.Close()

			p, err := New("sk-test", tc.model, WithBaseURL(srv.URL), WithMaxRetries(0))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := p.Complete(context.Background(), llm.CompletionRequest{
				SystemPrompt: "be brief",
				Messages:     []llm.Message{{Role: "user", Content: "summarise"}},
				Temperature:  0.2,
				MaxTokens:    50,
				JSONMode:     true,
			})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != `{"summary": "ok"}` || resp.Usage.TotalTokens != 15 {
				t.Errorf("resp = %+v", resp)
			}
			if resp.Model != tc.model+"-2024-04-09" {
				t.Errorf("Model = %q", resp.Model)
			}

			rf, _ := body["response_format"].(map[string]any)
			if gotFormat := rf["type"] == "json_object"; gotFormat != tc.wantFormat {
				t.Errorf("response_format = %v, want native json %v", body["response_format"], tc.wantFormat)
			}
			if body["temperature"] != 0.2 {
				t.Errorf("temperature = %v", body["temperature"])
			}
			msgs, _ := body["messages"].([]any)
			if len(msgs) != 2 {
				t.Fatalf("messages = %v", body["messages"])
			}
			sys, _ := msgs[0].(map[string]any)
			if sys["content"] != tc.wantSystem {
				t.Errorf("system content = %v, want %q", sys["content"], tc.wantSystem)
			}
		})
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "bad", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o", WithBaseURL(srv.URL), WithMaxRetries(0))
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "x"}},
	}); err == nil {
		t.Fatal("expected an error")
	}
}
