// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Driver] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Format: audio.Format{SampleRate: 16000, Channels: 1},
//	    Frames: [][]byte{silence, silence, silence},
//	}
//	capture, err := src.Open(ctx, nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/minutes/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. Every Open returns a
// capture backed by a fresh [Driver] that pushes Frames in order.
type Source struct {
	mu sync.Mutex

	// DeviceList is returned by Devices.
	DeviceList []audio.Device

	// DevicesErr, if non-nil, is returned by Devices.
	DevicesErr error

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// StartErr, if non-nil, is returned by the driver's Start.
	StartErr error

	// FailAfter, if non-nil, is reported as a mid-stream failure after all
	// Frames have been pushed.
	FailAfter error

	// Format is the PCM format of the pushed frames.
	// Defaults to 16 kHz mono.
	Format audio.Format

	// Frames are pushed into the capture, one driver buffer each.
	Frames [][]byte

	// OpenCalls records the index passed to each Open (nil for default).
	OpenCalls []*int

	// Drivers holds the driver created by each successful Open.
	Drivers []*Driver
}

var _ audio.Source = (*Source)(nil)

// Devices returns DeviceList and DevicesErr.
func (s *Source) Devices(_ context.Context) ([]audio.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DevicesErr != nil {
		return nil, s.DevicesErr
	}
	out := make([]audio.Device, len(s.DeviceList))
	copy(out, s.DeviceList)
	return out, nil
}

// Open records the call and returns a capture over a new [Driver].
func (s *Source) Open(_ context.Context, index *int) (audio.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, index)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	f := s.Format
	if f.SampleRate == 0 {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	d := &Driver{
		PCMFormat: f,
		Frames:    s.Frames,
		StartErr:  s.StartErr,
		FailAfter: s.FailAfter,
	}
	s.Drivers = append(s.Drivers, d)
	return audio.NewCapture(d, audio.WithName("mock")), nil
}

// OpenCount returns how many times Open was called.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// LastDriver returns the most recently created driver, or nil.
func (s *Source) LastDriver() *Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Drivers) == 0 {
		return nil
	}
	return s.Drivers[len(s.Drivers)-1]
}

// Reset clears all call records.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = nil
	s.Drivers = nil
}

// Driver is a mock implementation of [audio.Driver]. Start pushes every
// frame from a goroutine; Stop waits until all of them were delivered.
type Driver struct {
	mu sync.Mutex

	PCMFormat audio.Format
	Frames    [][]byte
	StartErr  error
	StopErr   error
	CloseErr  error
	FailAfter error

	// Hold, if non-nil, delays pushing until it is closed.
	Hold chan struct{}

	CallCountStart int
	CallCountStop  int
	CallCountClose int

	done chan struct{}
}

var _ audio.Driver = (*Driver)(nil)

// Format returns PCMFormat.
func (d *Driver) Format() audio.Format { return d.PCMFormat }

// Start begins pushing Frames into sink.
func (d *Driver) Start(sink *audio.Sink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	frames := d.Frames
	hold := d.Hold
	fail := d.FailAfter
	done := make(chan struct{})
	d.done = done
	go func() {
		defer close(done)
		if hold != nil {
			<-hold
		}
		for _, f := range frames {
			if !sink.PushWait(f, nil) {
				return
			}
		}
		if fail != nil {
			sink.Fail(fail)
		}
	}()
	return nil
}

// Stop waits for the push goroutine to finish.
func (d *Driver) Stop() error {
	d.mu.Lock()
	d.CallCountStop++
	done := d.done
	err := d.StopErr
	d.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}

// Close records the release of the device.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseErr
}

// Released reports whether Close has been called at least once.
func (d *Driver) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose > 0
}
