package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Driver is the hardware side of a capture. It pushes raw PCM into a [Sink]
// from whatever thread the underlying library uses.
type Driver interface {
	// Format is the PCM format the driver pushes.
	Format() Format

	// Start begins pushing buffers into sink.
	Start(sink *Sink) error

	// Stop halts the stream. After Stop returns the driver must not touch
	// the sink again.
	Stop() error

	// Close releases the device. It is called exactly once.
	Close() error
}

// defaultQueueSize bounds the driver-to-worker queue.
const defaultQueueSize = 64

// Sink is the bounded hand-off between a driver callback and the capture
// worker. Push never blocks, so it is safe to call from real-time audio threads.
type Sink struct {
	mu      sync.RWMutex
	closed  bool
	frames  chan []byte
	dropped atomic.Uint64

	failOnce sync.Once
	failed   chan struct{}
	err      error
}

func newSink(size int) *Sink {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Sink{
		frames: make(chan []byte, size),
		failed: make(chan struct{}),
	}
}

// Push copies pcm into the queue without blocking. It returns false if the
// queue was full or the sink is closed; full-queue drops are counted.
func (s *Sink) Push(pcm []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case s.frames <- buf:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// PushWait copies pcm into the queue, waiting for space. It is meant for
// non-real-time drivers such as file playback. It returns false if stop
// closes first.
func (s *Sink) PushWait(pcm []byte, stop <-chan struct{}) bool {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	for {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return false
		}
		select {
		case s.frames <- buf:
			s.mu.RUnlock()
			return true
		default:
		}
		s.mu.RUnlock()

		select {
		case <-stop:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Fail records a mid-stream driver failure. Only the first call has effect.
func (s *Sink) Fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.failed)
	})
}

// Dropped returns the number of buffers discarded because the queue was full.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// CaptureOption configures a capture built by [NewCapture].
type CaptureOption func(*driverCapture)

// WithQueueSize sets the number of driver buffers that may be queued before
// new ones are dropped. Defaults to 64.
func WithQueueSize(n int) CaptureOption {
	return func(c *driverCapture) { c.queueSize = n }
}

// WithName sets the device name used in log messages.
func WithName(name string) CaptureOption {
	return func(c *driverCapture) { c.name = name }
}

// NewCapture wraps d in a [Capture] that chunks, records, and releases it.
func NewCapture(d Driver, opts ...CaptureOption) Capture {
	c := &driverCapture{
		driver:    d,
		queueSize: defaultQueueSize,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Capture = (*driverCapture)(nil)

type driverCapture struct {
	driver    Driver
	queueSize int
	name      string

	mu       sync.Mutex
	started  bool
	stopped  bool
	sink     *Sink
	recorder *Recorder
	rec      Recording
	stopErr  error

	errMu sync.Mutex
	err   error

	quit chan struct{}
	done chan struct{}
}

func (c *driverCapture) Format() Format {
	return c.driver.Format()
}

func (c *driverCapture) Start(ctx context.Context, chunkDuration time.Duration) (<-chan Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, fmt.Errorf("%w: capture already stopped", ErrCapture)
	}
	if c.started {
		return nil, fmt.Errorf("%w: capture already started", ErrCapture)
	}

	sink := newSink(c.queueSize)
	if err := c.driver.Start(sink); err != nil {
		c.stopped = true
		if cerr := c.driver.Close(); cerr != nil {
			slog.Warn("audio: close after failed start", "device", c.name, "err", cerr)
		}
		return nil, fmt.Errorf("%w: start stream: %w", ErrCapture, err)
	}

	c.started = true
	c.sink = sink
	c.recorder = NewRecorder(c.driver.Format(), chunkDuration)

	out := make(chan Chunk, 4)
	go c.loop(ctx, sink, out)

	slog.Debug("audio: capture started", "device", c.name, "format", c.driver.Format().String(), "chunk", chunkDuration)
	return out, nil
}

// loop moves driver buffers into the recorder and forwards completed chunks.
// It keeps recording after ctx is cancelled or a failure is reported so that
// Stop still sees everything the driver delivered; only emission stops.
func (c *driverCapture) loop(ctx context.Context, sink *Sink, out chan<- Chunk) {
	defer close(c.done)

	emitting := true
	stopEmitting := func() {
		if emitting {
			emitting = false
			close(out)
		}
	}
	defer stopEmitting()

	failed := sink.failed
	ctxDone := ctx.Done()

	emit := func(chunks []Chunk) {
		for _, ch := range chunks {
			if !emitting {
				return
			}
			select {
			case out <- ch:
			case <-ctxDone:
				stopEmitting()
			case <-c.quit:
				stopEmitting()
			}
		}
	}

	for {
		select {
		case pcm, ok := <-sink.frames:
			if !ok {
				if last, ok := c.recorder.Flush(); ok {
					emit([]Chunk{last})
				}
				return
			}
			emit(c.recorder.Write(pcm))

		case <-failed:
			failed = nil
			c.setErr(fmt.Errorf("%w: %w", ErrCapture, sink.err))
			slog.Error("audio: capture failed", "device", c.name, "err", sink.err)
			stopEmitting()

		case <-ctxDone:
			ctxDone = nil
			stopEmitting()
		}
	}
}

func (c *driverCapture) Stop() (Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return c.rec, c.stopErr
	}
	c.stopped = true

	if !c.started {
		if err := c.driver.Close(); err != nil {
			return Recording{}, fmt.Errorf("%w: release device: %w", ErrDevice, err)
		}
		c.stopErr = ErrNotStarted
		return Recording{}, ErrNotStarted
	}

	close(c.quit)
	var errs []error
	if err := c.driver.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	c.sink.close()
	<-c.done

	if err := c.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: release device: %w", ErrDevice, err))
	}

	c.rec = c.recorder.Recording()
	c.stopErr = errors.Join(errs...)

	if d := c.sink.Dropped(); d > 0 {
		slog.Warn("audio: driver buffers dropped", "device", c.name, "dropped", d)
	}
	slog.Debug("audio: capture stopped", "device", c.name, "duration", c.rec.Duration())
	return c.rec, c.stopErr
}

func (c *driverCapture) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *driverCapture) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *driverCapture) Dropped() uint64 {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return 0
	}
	return sink.Dropped()
}
