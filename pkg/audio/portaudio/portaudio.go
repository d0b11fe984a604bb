// Package portaudio provides an [audio.Source] for the operating system's
// audio devices via the PortAudio library.
//
// This package uses CGO; building it requires PortAudio development headers
// (portaudio19-dev on Debian, brew install portaudio on macOS).
package portaudio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/minutes/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithFramesPerBuffer sets the number of frames PortAudio delivers per
// callback. Defaults to 4096.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) { s.framesPerBuffer = n }
}

// WithQueueSize sets the number of callback buffers that may queue up before
// new ones are dropped.
func WithQueueSize(n int) Option {
	return func(s *Source) { s.queueSize = n }
}

// Source opens PortAudio input devices in a fixed capture format.
type Source struct {
	format          audio.Format
	framesPerBuffer int
	queueSize       int
}

// New returns a Source that captures in format.
func New(format audio.Format, opts ...Option) *Source {
	s := &Source{format: format, framesPerBuffer: 4096}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Devices lists every PortAudio device with its direction.
func (s *Source) Devices(_ context.Context) ([]audio.Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %w", audio.ErrDevice, err)
	}
	defer pa.Terminate()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %w", audio.ErrDevice, err)
	}
	defaultIndex := -1
	if def, err := pa.DefaultInputDevice(); err == nil && def != nil {
		defaultIndex = def.Index
	}
	return toDevices(infos, defaultIndex), nil
}

func toDevices(infos []*pa.DeviceInfo, defaultIndex int) []audio.Device {
	out := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		out = append(out, audio.Device{
			Index:             info.Index,
			Name:              info.Name,
			Direction:         direction(info),
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           info.Index == defaultIndex,
		})
	}
	return out
}

func direction(info *pa.DeviceInfo) audio.Direction {
	switch {
	case info.MaxInputChannels > 0 && info.MaxOutputChannels > 0:
		return audio.DirectionDuplex
	case info.MaxInputChannels > 0:
		return audio.DirectionInput
	default:
		return audio.DirectionOutput
	}
}

// pickDevice returns the input device at index, or def when index is nil,
// unknown, or not capable of capture.
func pickDevice(infos []*pa.DeviceInfo, def *pa.DeviceInfo, index *int) (*pa.DeviceInfo, error) {
	if index != nil {
		for _, info := range infos {
			if info != nil && info.Index == *index {
				if info.MaxInputChannels > 0 {
					return info, nil
				}
				slog.Warn("portaudio: device has no input channels, using default", "index", *index, "name", info.Name)
				break
			}
		}
		if def != nil {
			slog.Warn("portaudio: unknown device index, using default", "index", *index)
		}
	}
	if def == nil {
		return nil, fmt.Errorf("%w: no default input device", audio.ErrDevice)
	}
	return def, nil
}

// Open acquires the selected input device and opens a stream on it. The
// stream starts when the returned capture is started.
func (s *Source) Open(_ context.Context, index *int) (audio.Capture, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize portaudio: %w", audio.ErrDevice, err)
	}

	infos, err := pa.Devices()
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("%w: list devices: %w", audio.ErrDevice, err)
	}
	def, _ := pa.DefaultInputDevice()
	info, err := pickDevice(infos, def, index)
	if err != nil {
		pa.Terminate()
		return nil, err
	}

	format := s.format
	format.Channels = max(1, min(format.Channels, info.MaxInputChannels))

	d := &driver{
		format:  format,
		scratch: make([]byte, s.framesPerBuffer*format.FrameBytes()),
	}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: s.framesPerBuffer,
	}
	stream, err := pa.OpenStream(params, d.callback)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("%w: open %q at %s: %w", audio.ErrDevice, info.Name, format, err)
	}
	d.stream = stream

	slog.Info("portaudio: device opened", "index", info.Index, "name", info.Name, "format", format.String())
	return audio.NewCapture(d, audio.WithName(info.Name), audio.WithQueueSize(s.queueSize)), nil
}

// driver adapts a PortAudio callback stream to [audio.Driver].
type driver struct {
	format  audio.Format
	stream  *pa.Stream
	sink    *audio.Sink
	scratch []byte
}

func (d *driver) Format() audio.Format { return d.format }

func (d *driver) Start(sink *audio.Sink) error {
	d.sink = sink
	return d.stream.Start()
}

func (d *driver) Stop() error {
	return d.stream.Stop()
}

// Close closes the stream and releases this package's hold on PortAudio.
func (d *driver) Close() error {
	err := d.stream.Close()
	if terr := pa.Terminate(); terr != nil && err == nil {
		err = terr
	}
	return err
}

// callback runs on the PortAudio thread. It must not block, so it hands the
// buffer to the sink without waiting.
func (d *driver) callback(in []int16) {
	n := len(in) * 2
	if n > len(d.scratch) {
		d.scratch = make([]byte, n)
	}
	buf := d.scratch[:n]
	for i, s := range in {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	d.sink.Push(buf)
}
