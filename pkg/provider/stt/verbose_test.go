package stt_test

import (
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/provider/stt"
)

const openAIVerbose = `{
  "task": "transcribe",
  "language": "english",
  "duration": 4.5,
  "text": "Hello team. Let's start.",
  "segments": [
    {"id": 1, "seek": 0, "start": 2.0, "end": 4.5, "text": " Let's start."},
    {"id": 0, "seek": 0, "start": 0.0, "end": 2.0, "text": " Hello team."}
  ],
  "words": [
    {"word": "Hello", "start": 0.1, "end": 0.5},
    {"word": "team", "start": 0.6, "end": 1.0},
    {"word": "Let's", "start": 2.1, "end": 2.4},
    {"word": "start", "start": 2.5, "end": 3.0}
  ]
}`

func TestVerbose_OpenAIShape(t *testing.T) {
	t.Parallel()

	v, err := stt.DecodeVerbose([]byte(openAIVerbose))
	if err != nil {
		t.Fatalf("DecodeVerbose: %v", err)
	}
	r := v.Result("openai", time.Now())
	if r.Text != "Hello team. Let's start." {
		t.Errorf("Text = %q", r.Text)
	}
	if len(r.Segments) != 2 || r.Segments[0].ID != 0 {
		t.Fatalf("segments not ordered by start: %+v", r.Segments)
	}
	if len(r.Segments[0].Words) != 2 || len(r.Segments[1].Words) != 2 {
		t.Errorf("words per segment = %d/%d, want 2/2", len(r.Segments[0].Words), len(r.Segments[1].Words))
	}
	if r.Duration != 4500*time.Millisecond {
		t.Errorf("Duration = %v", r.Duration)
	}
	if r.Language != "english" || r.Backend != "openai" || r.Failed() {
		t.Errorf("unexpected result metadata: %+v", r)
	}
}

func TestVerbose_TextOnly(t *testing.T) {
	t.Parallel()

	v, err := stt.DecodeVerbose([]byte(`{"text":"  just text  ","duration":1.5}`))
	if err != nil {
		t.Fatalf("DecodeVerbose: %v", err)
	}
	r := v.Result("whisper-server", time.Now())
	if r.Text != "just text" || len(r.Segments) != 1 || r.Segments[0].End != 1.5 {
		t.Errorf("got %+v", r)
	}
}

func TestVerbose_Empty(t *testing.T) {
	t.Parallel()

	v, err := stt.DecodeVerbose([]byte(`{"text":"","segments":[]}`))
	if err != nil {
		t.Fatalf("DecodeVerbose: %v", err)
	}
	r := v.Result("x", time.Now())
	if r.Text != "" || len(r.Segments) != 0 || r.Failed() {
		t.Errorf("got %+v", r)
	}
}

func TestDecodeVerbose_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := stt.DecodeVerbose([]byte("<html>")); err == nil {
		t.Error("expected error")
	}
}
