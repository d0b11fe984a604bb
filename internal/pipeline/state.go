package pipeline

import (
	"fmt"
	"time"

	"github.com/MrWong99/minutes/pkg/meeting"
)

// State is the lifecycle position of the pipeline.
//
//	Idle → Recording → Finalizing → Summarizing → Complete
//	           │            │
//	           └────────────┴──→ Error
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateSummarizing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateSummarizing:
		return "summarizing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown state %q", text)
}

// canStart reports whether a new session may begin from s.
func (s State) canStart() bool {
	return s == StateIdle || s == StateComplete || s == StateError
}

// Event describes a state transition.
type Event struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Previous  State     `json:"previous"`
	MeetingID string    `json:"meeting_id,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// LiveText is one live transcription result. Results are delivered in
// completion order, which need not match capture order.
type LiveText struct {
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
	Text      string `json:"text"`
	Backend   string `json:"backend,omitempty"`
}

// Outcome is the final record of a completed session.
type Outcome struct {
	SessionID string         `json:"session_id"`
	Record    meeting.Record `json:"record"`

	// SummaryUnavailable is set when the summary or action-item engine
	// failed. The record may then carry an empty summary or no items.
	SummaryUnavailable bool `json:"summary_unavailable"`
}

// Observer receives pipeline notifications. Methods are called from
// pipeline goroutines and must not block.
type Observer interface {
	OnStateChange(Event)
	OnLiveTranscript(LiveText)
	OnComplete(Outcome)
	OnError(Event)
}

// ObserverFuncs adapts plain functions to [Observer]. Nil fields are
// skipped.
type ObserverFuncs struct {
	StateChange func(Event)
	Live        func(LiveText)
	Complete    func(Outcome)
	Error       func(Event)
}

func (f ObserverFuncs) OnStateChange(e Event) {
	if f.StateChange != nil {
		f.StateChange(e)
	}
}

func (f ObserverFuncs) OnLiveTranscript(l LiveText) {
	if f.Live != nil {
		f.Live(l)
	}
}

func (f ObserverFuncs) OnComplete(o Outcome) {
	if f.Complete != nil {
		f.Complete(o)
	}
}

func (f ObserverFuncs) OnError(e Event) {
	if f.Error != nil {
		f.Error(e)
	}
}

// Snapshot is a point-in-time view of the pipeline.
type Snapshot struct {
	SessionID string        `json:"session_id,omitempty"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Elapsed   time.Duration `json:"elapsed"`
	LiveText  []string      `json:"live_text"`
	MeetingID string        `json:"meeting_id,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}
