package stt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Verbose is the verbose_json transcription body shared by the OpenAI
// transcription API and whisper-server. Words may be reported per segment or,
// as OpenAI does, in one top-level list.
type Verbose struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []VerboseSegment `json:"segments"`
	Words    []Word           `json:"words"`
}

// VerboseSegment is one entry of [Verbose.Segments].
type VerboseSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words"`
}

// DecodeVerbose parses a verbose_json body.
func DecodeVerbose(data []byte) (Verbose, error) {
	var v Verbose
	if err := json.Unmarshal(data, &v); err != nil {
		return Verbose{}, fmt.Errorf("stt: decode verbose transcription: %w", err)
	}
	return v, nil
}

// Result converts v into a [Result]. Top-level words are attached to the
// segment whose time span contains their start. When the body carries no
// segments but has text, the text becomes a single segment.
func (v Verbose) Result(backend string, started time.Time) Result {
	segs := make([]Segment, 0, len(v.Segments))
	for _, s := range v.Segments {
		segs = append(segs, Segment{
			ID:    s.ID,
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
			Words: trimWords(s.Words),
		})
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	if len(segs) == 0 && strings.TrimSpace(v.Text) != "" {
		segs = append(segs, Segment{End: v.Duration, Text: strings.TrimSpace(v.Text)})
	}
	attachWords(segs, trimWords(v.Words))

	text := JoinSegments(segs)
	if text == "" {
		text = strings.TrimSpace(v.Text)
	}
	return Result{
		Text:           text,
		Segments:       segs,
		Language:       v.Language,
		Duration:       time.Duration(v.Duration * float64(time.Second)),
		ProcessingTime: time.Since(started),
		Backend:        backend,
	}
}

func trimWords(words []Word) []Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]Word, 0, len(words))
	for _, w := range words {
		w.Word = strings.TrimSpace(w.Word)
		if w.Word != "" {
			out = append(out, w)
		}
	}
	return out
}

// attachWords distributes words over segs by start time. Words before the
// first segment go to it; words after the last go to the last.
func attachWords(segs []Segment, words []Word) {
	if len(segs) == 0 || len(words) == 0 {
		return
	}
	i := 0
	for _, w := range words {
		for i < len(segs)-1 && w.Start >= segs[i+1].Start {
			i++
		}
		segs[i].Words = append(segs[i].Words, w)
	}
}
