// Package audio defines the capture contracts and PCM helpers for meeting
// recording.
//
// A [Source] enumerates devices and opens one of them as a [Capture]. A
// capture delivers fixed-duration [Chunk] values on a channel while it keeps
// the full [Recording] for the final transcription pass. Hardware drivers
// implement the small [Driver] interface and get the chunking, bounded
// queueing, and guaranteed device release from [NewCapture].
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDevice is returned when a device cannot be enumerated or opened.
	ErrDevice = errors.New("audio: device error")

	// ErrCapture is returned when a stream fails to start or fails while recording.
	ErrCapture = errors.New("audio: capture error")

	// ErrNotStarted is returned by [Capture.Stop] when Start was never called
	// successfully. The device is still released.
	ErrNotStarted = errors.New("audio: capture not started")
)

// Source is an audio backend that can list and open devices.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Devices lists the endpoints this source can see.
	Devices(ctx context.Context) ([]Device, error)

	// Open acquires the device selected by index. A nil or unknown index falls
	// back to the system default input. Errors wrap [ErrDevice].
	Open(ctx context.Context, index *int) (Capture, error)
}

// Capture is an opened device. It holds the device exclusively until Stop
// returns.
type Capture interface {
	// Format reports the PCM format of delivered chunks.
	Format() Format

	// Start begins streaming. Chunks of chunkDuration arrive on the returned
	// channel, which is closed when capture ends or fails. Errors wrap
	// [ErrCapture]; on error the device has already been released.
	Start(ctx context.Context, chunkDuration time.Duration) (<-chan Chunk, error)

	// Stop ends the stream, releases the device, and returns everything
	// captured since Start. It is safe to call more than once and always
	// releases the device, even when Start failed or was never called.
	Stop() (Recording, error)

	// Err returns the failure that ended capture early, or nil.
	Err() error

	// Dropped returns the number of driver buffers discarded because the
	// queue was full.
	Dropped() uint64
}
