// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns audio into text with time-aligned segments. Two calls are
// exposed: TranscribeFile for the authoritative pass over a complete
// recording, and TranscribeChunk for the advisory live path while recording
// is still in progress.
//
// Providers never return Go errors from transcription. Every failure is
// reported inside the [Result] as an empty text plus a populated Error, so
// callers decide per path whether a failure is fatal (full-file pass) or
// simply "nothing new" (live path).
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
)

// TargetSampleRate is the rate every provider transcribes at. Whisper models
// are trained on 16 kHz mono audio.
const TargetSampleRate = 16000

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Name identifies the backend in logs, metrics, and [Result.Backend].
	Name() string

	// TranscribeFile transcribes the WAV file at path. It blocks until the
	// whole file has been processed.
	TranscribeFile(ctx context.Context, path string) Result

	// TranscribeChunk transcribes a short mono signal. It is called from
	// worker goroutines during recording.
	TranscribeChunk(ctx context.Context, sig audio.Signal) Result
}

// Word is a single word with its position in the audio, in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a time-aligned span of transcribed text. Start and End are in
// seconds from the beginning of the transcribed audio.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the outcome of one transcription call.
type Result struct {
	// Text is the whitespace-joined concatenation of segment texts.
	Text string `json:"text"`

	// Segments are ordered by Start.
	Segments []Segment `json:"segments"`

	// Language is the detected or configured language code.
	Language string `json:"language,omitempty"`

	// Duration is the length of the transcribed audio.
	Duration time.Duration `json:"duration"`

	// ProcessingTime is the wall time the call took.
	ProcessingTime time.Duration `json:"processing_time"`

	// Backend names the provider that actually produced this result. It
	// differs from the requested provider when a fallback served the call.
	Backend string `json:"backend,omitempty"`

	// Error describes the failure. Text and Segments are empty when set.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the call failed.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Failure builds the result returned when a call fails. started is the time
// the call began and is used for ProcessingTime.
func Failure(backend string, err error, started time.Time) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Segments:       []Segment{},
		ProcessingTime: time.Since(started),
		Backend:        backend,
		Error:          msg,
	}
}

// JoinSegments whitespace-joins the trimmed, non-empty segment texts.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
