package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// FileSource replays a WAV file as if it were a live input device. It is
// used for offline processing of existing recordings and in end-to-end tests.
type FileSource struct {
	path      string
	frames    int
	realtime  bool
	queueSize int
}

var _ Source = (*FileSource)(nil)

// FileOption configures a [FileSource].
type FileOption func(*FileSource)

// WithRealtime paces playback at the file's sample rate instead of
// delivering it as fast as the consumer reads.
func WithRealtime(enabled bool) FileOption {
	return func(s *FileSource) { s.realtime = enabled }
}

// WithFramesPerBuffer sets the number of sample frames pushed per driver
// buffer. Defaults to 4096.
func WithFramesPerBuffer(n int) FileOption {
	return func(s *FileSource) { s.frames = n }
}

// WithFileQueueSize sets the capture queue size.
func WithFileQueueSize(n int) FileOption {
	return func(s *FileSource) { s.queueSize = n }
}

// NewFileSource returns a source that plays back the WAV file at path.
func NewFileSource(path string, opts ...FileOption) *FileSource {
	s := &FileSource{path: path, frames: 4096}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Devices returns the file as a single input device with index 0.
func (s *FileSource) Devices(_ context.Context) ([]Device, error) {
	return []Device{{
		Index:     0,
		Name:      filepath.Base(s.path),
		Direction: DirectionInput,
		Default:   true,
	}}, nil
}

// Open decodes the file. The index is ignored because there is only one device.
func (s *FileSource) Open(_ context.Context, index *int) (Capture, error) {
	if index != nil && *index != 0 {
		slog.Warn("audio: file source has a single device, ignoring index", "index", *index)
	}
	rec, err := ReadWAVFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDevice, err)
	}
	d := &fileDriver{rec: rec, frames: s.frames, realtime: s.realtime}
	return NewCapture(d, WithName(s.path), WithQueueSize(s.queueSize)), nil
}

// fileDriver pushes a decoded recording into a sink from its own goroutine.
type fileDriver struct {
	rec      Recording
	frames   int
	realtime bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *fileDriver) Format() Format { return d.rec.Format }

func (d *fileDriver) Start(sink *Sink) error {
	d.stop = make(chan struct{})
	step := d.frames * d.rec.Format.FrameBytes()
	if step <= 0 {
		step = len(d.rec.Data)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var tick *time.Ticker
		if d.realtime {
			tick = time.NewTicker(d.rec.Format.Duration(step))
			defer tick.Stop()
		}
		for off := 0; off < len(d.rec.Data); off += step {
			end := min(off+step, len(d.rec.Data))
			if !sink.PushWait(d.rec.Data[off:end], d.stop) {
				return
			}
			if tick != nil {
				select {
				case <-tick.C:
				case <-d.stop:
					return
				}
			}
		}
	}()
	return nil
}

func (d *fileDriver) Stop() error {
	if d.stop != nil {
		if d.realtime {
			close(d.stop)
		}
		d.wg.Wait()
	}
	return nil
}

func (d *fileDriver) Close() error { return nil }
