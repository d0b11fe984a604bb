package audio

import (
	"fmt"
	"time"
)

// Direction tells whether a device can capture, play back, or both.
type Direction int

const (
	DirectionInput Direction = iota + 1
	DirectionOutput
	DirectionDuplex
)

// String returns the lowercase direction name used in logs and API responses.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionDuplex:
		return "duplex"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Device describes one audio endpoint exposed by a [Source].
type Device struct {
	// Index is the selector passed to [Source.Open].
	Index int `json:"index"`

	// Name is the human-readable device name reported by the driver.
	Name string `json:"name"`

	// Direction reports whether the device captures, plays, or both.
	Direction Direction `json:"direction"`

	// DefaultSampleRate is the driver's preferred rate in Hz. Zero if unknown.
	DefaultSampleRate float64 `json:"default_sample_rate,omitempty"`

	// Default is true for the system default input device.
	Default bool `json:"default,omitempty"`
}

// CanCapture reports whether the device can be opened for recording.
func (d Device) CanCapture() bool {
	return d.Direction == DirectionInput || d.Direction == DirectionDuplex
}

// Chunk is a fixed-duration slice of captured audio. Data holds interleaved
// little-endian signed 16-bit PCM samples.
//
// A Chunk is owned by the pipeline iteration that received it and must not be
// shared across iterations.
type Chunk struct {
	Data []byte

	// SampleRate in Hz (e.g., 16000 for transcription, 48000 for Discord).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Seq is the zero-based capture order of this chunk within a recording.
	Seq uint64

	// Timestamp is the offset of the first sample from the start of recording.
	Timestamp time.Duration
}

// Format returns the chunk's sample format.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return c.Format().Duration(len(c.Data))
}

// Signal is mono floating-point audio in the range [-1, 1], the shape consumed
// by preprocessing and by chunk transcription.
type Signal struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the signal.
func (s Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Empty reports whether the signal carries no samples.
func (s Signal) Empty() bool {
	return len(s.Samples) == 0
}

// Recording is the concatenation of every chunk delivered by a capture
// between Start and Stop.
type Recording struct {
	Format Format
	Data   []byte
}

// Duration returns the playback length of the recording.
func (r Recording) Duration() time.Duration {
	return r.Format.Duration(len(r.Data))
}

// Frames returns the number of sample frames (samples per channel).
func (r Recording) Frames() int {
	return r.Format.Frames(len(r.Data))
}
