// Package actionitems extracts action items from a meeting transcript with an
// LLM and normalises them: free-text due dates are resolved against the
// current time and assignees are mapped onto the meeting's participants.
//
// A failed call or an unparseable response yields an empty list together with
// the cause, so callers can keep going and flag the stage as unavailable.
package actionitems

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/minutes/internal/llmjson"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/provider/llm"
)

const extractTemperature = 0.1

const extractPrompt = `You are an AI assistant specializing in extracting action items from meeting transcripts.

Review the meeting transcript carefully and extract all action items, tasks, or commitments that people agreed to do.

For each action item, identify:
1. The task description
2. Who is assigned to do it
3. Any mentioned due date or deadline

Return your response as a JSON object with the following structure:
{
    "action_items": [
        {
            "task": "Description of the task",
            "assignee": "Person name or 'Unassigned'",
            "due_date": "Due date if mentioned or 'Not specified'"
        }
    ]
}

Be specific about what needs to be done and who needs to do it.
If no assignee is mentioned, use "Unassigned".
If no due date is mentioned, use "Not specified".
Only include clear commitments or tasks, not general discussions or ideas.`

type rawItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee"`
	DueDate  string `json:"due_date"`
}

type response struct {
	ActionItems *[]rawItem `json:"action_items"`
}

// ErrNoActionItems is returned when the response parses but has no
// action_items key.
var ErrNoActionItems = errors.New("actionitems: response has no action_items key")

// Option configures an [Engine].
type Option func(*Engine)

// WithModel sets the model name used for metrics labels.
func WithModel(name string) Option {
	return func(e *Engine) { e.model = name }
}

// WithMetrics records call latency into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for due dates and CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMatchThreshold sets the Jaro-Winkler threshold for assignee
// canonicalisation.
func WithMatchThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// Engine extracts action items. It is safe for concurrent use.
type Engine struct {
	llm       llm.Provider
	model     string
	metrics   *observe.Metrics
	now       func() time.Time
	threshold float64
}

// New creates an Engine backed by p.
func New(p llm.Provider, opts ...Option) *Engine {
	e := &Engine{llm: p, now: time.Now, threshold: DefaultMatchThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract asks the model for the action items in transcript. Every item is
// pending, carries meetingID (which may be empty before the meeting is
// stored), and has its assignee matched against participants when any are
// known. The returned slice is never nil; err is set when the model call or
// its response failed and the empty list is not a real answer.
func (e *Engine) Extract(ctx context.Context, transcript, meetingID string, participants []string) ([]meeting.ActionItem, error) {
	ctx, span := observe.StartSpan(ctx, "actionitems.extract")
	defer span.End()

	log := observe.Logger(ctx)
	start := time.Now()
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractPrompt,
		Messages:     []llm.Message{{Role: "user", Content: transcript}},
		Temperature:  extractTemperature,
		JSONMode:     true,
	})
	elapsed := time.Since(start)
	model := e.model
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}
	e.metrics.RecordLLM(ctx, "action_items", model, elapsed, err)
	if err != nil {
		log.Error("actionitems: llm call failed", "err", err, "elapsed", elapsed)
		return []meeting.ActionItem{}, fmt.Errorf("actionitems: %w", err)
	}

	var r response
	err = llmjson.Decode(resp.Content, &r)
	if err == nil && r.ActionItems == nil {
		err = ErrNoActionItems
	}
	if err != nil {
		log.Warn("actionitems: response is not valid JSON", "err", err)
		return []meeting.ActionItem{}, fmt.Errorf("actionitems: parse response: %w", err)
	}

	items := e.normalize(ctx, *r.ActionItems, meetingID, participants)
	log.Info("actionitems: extracted", "count", len(items), "elapsed", elapsed)
	return items, nil
}

func (e *Engine) normalize(ctx context.Context, raw []rawItem, meetingID string, participants []string) []meeting.ActionItem {
	now := e.now()
	canon := NewCanonicalizer(participants, e.threshold)

	items := make([]meeting.ActionItem, 0, len(raw))
	for i, r := range raw {
		task := strings.TrimSpace(r.Task)
		if task == "" {
			observe.Logger(ctx).Warn("actionitems: dropping item without a task", "index", i)
			continue
		}
		item := meeting.ActionItem{
			MeetingID: meetingID,
			Task:      task,
			Assignee:  meeting.Unassigned,
			Status:    meeting.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if name, ok := normalizeAssignee(r.Assignee); ok {
			item.Assignee = canon.Canonical(name)
		}
		if due, ok := ParseDueDate(r.DueDate, now); ok {
			item.DueDate = &due
		}
		items = append(items, item)
	}
	return items
}
