// Package summary turns a meeting transcript into a structured summary with
// an LLM: summary text, key points, topics, decisions, and open questions.
//
// The engine never fails. A response that is not a JSON object degrades to
// the raw response text with empty structured fields, and a failed LLM call
// degrades to an empty result flagged [Result.Degraded] so the caller can
// persist the transcript and mark the summary unavailable.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/minutes/internal/llmjson"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/provider/llm"
)

const (
	summaryTemperature = 0.2
	titleTemperature   = 0.3
	titleMaxTokens     = 50

	// titlePrefixRunes is how much of the transcript the title call sees.
	titlePrefixRunes = 5000

	// DefaultTitle is returned by GenerateTitle when the model gives nothing
	// usable.
	DefaultTitle = "Meeting Transcript"
)

const titlePrompt = "Generate a brief, specific title for this meeting transcript. " +
	"The title should capture the main purpose or focus of the meeting in 10 words or less."

const schemaPrompt = `Analyze the meeting transcript and produce a JSON response with the following structure:
{
    "summary": "A concise 3-5 paragraph summary of the meeting highlighting the main topics and decisions",
    "action_items": [
        {
            "assignee": "Person name or 'Unassigned'",
            "task": "Description of the action item",
            "due_date": "Due date if mentioned or 'Not specified'"
        }
    ],
    "key_points": ["Key point 1", "Key point 2"],
    "topics": [
        {
            "name": "Topic name",
            "discussion": "Brief summary of the discussion about this topic"
        }
    ],
    "decisions": ["Decision 1", "Decision 2"],
    "questions": [
        {
            "question": "Question raised in the meeting",
            "answer": "Answer provided if any, or 'Unanswered'"
        }
    ]
}

Respond with that JSON object only. Use empty arrays for sections the meeting did not cover.`

// RawActionItem is an action item as the summary model wrote it. Due dates
// are free text; the action-item engine owns normalisation.
type RawActionItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee"`
	DueDate  string `json:"due_date"`
}

// Result is the outcome of [Engine.Summarize].
type Result struct {
	SummaryText string
	KeyPoints   []string
	Topics      []meeting.Topic
	Decisions   []string
	Questions   []meeting.Question
	ActionItems []RawActionItem

	// Model is the model that produced the summary.
	Model          string
	ProcessingTime time.Duration

	// Unparsed is set when the response was not a JSON object and
	// SummaryText holds the raw response.
	Unparsed bool

	// Degraded is set when the LLM call failed. All content fields are
	// empty and Err holds the cause.
	Degraded bool
	Err      error
}

// Summary converts r into the persisted record for meetingID.
func (r Result) Summary(meetingID string) meeting.Summary {
	return meeting.Summary{
		MeetingID:      meetingID,
		SummaryText:    r.SummaryText,
		KeyPoints:      r.KeyPoints,
		Topics:         r.Topics,
		Decisions:      r.Decisions,
		Questions:      r.Questions,
		ModelUsed:      r.Model,
		ProcessingTime: r.ProcessingTime,
		Unavailable:    r.Degraded,
	}
}

// response mirrors the six-key schema in schemaPrompt.
type response struct {
	Summary     string             `json:"summary"`
	ActionItems []RawActionItem    `json:"action_items"`
	KeyPoints   []string           `json:"key_points"`
	Topics      []meeting.Topic    `json:"topics"`
	Decisions   []string           `json:"decisions"`
	Questions   []meeting.Question `json:"questions"`
}

func (r response) empty() bool {
	return strings.TrimSpace(r.Summary) == "" && len(r.ActionItems) == 0 && len(r.KeyPoints) == 0 &&
		len(r.Topics) == 0 && len(r.Decisions) == 0 && len(r.Questions) == 0
}

// Option configures an [Engine].
type Option func(*Engine)

// WithModel sets the model name reported in [Result.Model] when the provider
// does not report one.
func WithModel(name string) Option {
	return func(e *Engine) { e.model = name }
}

// WithMetrics records call latency into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine summarises transcripts. It is safe for concurrent use.
type Engine struct {
	llm     llm.Provider
	model   string
	metrics *observe.Metrics
}

// New creates an Engine backed by p.
func New(p llm.Provider, opts ...Option) *Engine {
	e := &Engine{llm: p}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Summarize asks the model for a structured summary of transcript. title and
// meetingContext are optional and only add lines to the system prompt.
func (e *Engine) Summarize(ctx context.Context, transcript, title, meetingContext string) Result {
	ctx, span := observe.StartSpan(ctx, "summary.summarize")
	defer span.End()

	log := observe.Logger(ctx)
	log.Info("summary: generating", "transcript_chars", len(transcript))
	start := time.Now()

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(title, meetingContext),
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
		Temperature:  summaryTemperature,
		JSONMode:     true,
	})
	elapsed := time.Since(start)
	model := e.modelOf(resp)
	e.metrics.RecordLLM(ctx, "summary", model, elapsed, err)

	if err != nil {
		log.Error("summary: llm call failed", "err", err, "elapsed", elapsed)
		return Result{
			Model:          model,
			ProcessingTime: elapsed,
			Degraded:       true,
			Err:            fmt.Errorf("summary: %w", err),
		}
	}
	res := parse(resp.Content)
	res.Model = model
	res.ProcessingTime = elapsed
	log.Info("summary: generated",
		"elapsed", elapsed,
		"key_points", len(res.KeyPoints),
		"topics", len(res.Topics),
		"unparsed", res.Unparsed,
	)
	return res
}

// parse decodes the model output. Anything that is not the expected object
// becomes the summary text verbatim.
func parse(content string) Result {
	var r response
	err := llmjson.Decode(content, &r)
	if err == nil && r.empty() {
		// Prose with a stray brace decodes to an object with none of the keys.
		err = errors.New("no summary keys in decoded object")
	}
	if err != nil {
		slog.Warn("summary: response is not valid JSON, keeping raw text", "err", err)
		return Result{
			SummaryText: content,
			KeyPoints:   []string{},
			Topics:      []meeting.Topic{},
			Decisions:   []string{},
			Questions:   []meeting.Question{},
			ActionItems: []RawActionItem{},
			Unparsed:    true,
		}
	}
	return Result{
		SummaryText: r.Summary,
		KeyPoints:   orEmpty(r.KeyPoints),
		Topics:      orEmpty(r.Topics),
		Decisions:   orEmpty(r.Decisions),
		Questions:   orEmpty(r.Questions),
		ActionItems: orEmpty(r.ActionItems),
	}
}

// GenerateTitle asks the model for a short title based on the start of the
// transcript. It returns [DefaultTitle] on any failure.
func (e *Engine) GenerateTitle(ctx context.Context, transcript string) string {
	ctx, span := observe.StartSpan(ctx, "summary.title")
	defer span.End()

	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: titlePrompt,
		Messages:     []llm.Message{{Role: "user", Content: prefix(transcript, titlePrefixRunes)}},
		Temperature:  titleTemperature,
		MaxTokens:    titleMaxTokens,
	})
	e.metrics.RecordLLM(ctx, "title", e.modelOf(resp), time.Since(start), err)
	if err != nil {
		observe.Logger(ctx).Error("summary: title generation failed", "err", err)
		return DefaultTitle
	}
	title := cleanTitle(resp.Content)
	if title == "" {
		return DefaultTitle
	}
	return title
}

func (e *Engine) modelOf(resp *llm.CompletionResponse) string {
	if resp != nil && resp.Model != "" {
		return resp.Model
	}
	return e.model
}

func systemPrompt(title, meetingContext string) string {
	var b strings.Builder
	b.WriteString("You are an AI meeting assistant that creates clear, concise summaries of meeting transcripts.\n\n")
	if t := strings.TrimSpace(title); t != "" {
		fmt.Fprintf(&b, "Title: %s\n", t)
	}
	if c := strings.TrimSpace(meetingContext); c != "" {
		fmt.Fprintf(&b, "Context: %s\n", c)
	}
	b.WriteString("\n")
	b.WriteString(schemaPrompt)
	return b.String()
}

// cleanTitle trims whitespace and then any surrounding quote characters.
func cleanTitle(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

// prefix returns at most n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
