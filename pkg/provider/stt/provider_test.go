package stt_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/provider/stt"
)

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		segs []stt.Segment
		want string
	}{
		{name: "nil", want: ""},
		{name: "single", segs: []stt.Segment{{Text: " hello "}}, want: "hello"},
		{name: "skips blanks", segs: []stt.Segment{{Text: "a"}, {Text: "  "}, {Text: "b"}}, want: "a b"},
		{name: "keeps order", segs: []stt.Segment{{Text: "second", Start: 2}, {Text: "first", Start: 1}}, want: "second first"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := stt.JoinSegments(tc.segs); got != tc.want {
				t.Errorf("JoinSegments = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFailure(t *testing.T) {
	t.Parallel()

	started := time.Now().Add(-time.Second)
	r := stt.Failure("openai", errors.New("429 rate limited"), started)
	if !r.Failed() {
		t.Fatal("Failed() = false")
	}
	if r.Text != "" || len(r.Segments) != 0 {
		t.Errorf("failure carries text %q / %d segments", r.Text, len(r.Segments))
	}
	if r.Backend != "openai" || r.Error != "429 rate limited" {
		t.Errorf("got backend=%q error=%q", r.Backend, r.Error)
	}
	if r.ProcessingTime < time.Second {
		t.Errorf("ProcessingTime = %v, want >= 1s", r.ProcessingTime)
	}
	if stt.Failure("x", nil, time.Now()).Error == "" {
		t.Error("nil error should still produce a failure")
	}
	if (stt.Result{Text: "ok"}).Failed() {
		t.Error("successful result reports Failed")
	}
}
