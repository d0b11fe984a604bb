package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// mixFormat is the PCM format pushed into the capture: every speaker is
// decoded, folded to mono, and summed at Opus's native rate.
var mixFormat = audio.Format{SampleRate: opusSampleRate, Channels: 1}

// mixFrameSamples is the number of mono samples mixed per tick.
const mixFrameSamples = opusFrameSize

// maxPendingFrames bounds the per-speaker jitter buffer. Older audio is
// discarded when a speaker runs ahead of the mix clock.
const maxPendingFrames = 50

// voiceDriver turns a joined voice channel into an [audio.Driver]. Packets
// are demuxed by SSRC, decoded, and mixed on a 20 ms clock. Ticks without
// any speaker push silence so that the recording stays aligned with wall
// time.
type voiceDriver struct {
	packets    <-chan *discordgo.Packet
	disconnect func() error
	onSpeaker  func(ssrc uint32)
	tick       time.Duration

	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

func newVoiceDriver(packets <-chan *discordgo.Packet, disconnect func() error) *voiceDriver {
	return &voiceDriver{
		packets:    packets,
		disconnect: disconnect,
		tick:       opusFrameSizeMs * time.Millisecond,
	}
}

func (d *voiceDriver) Format() audio.Format { return mixFormat }

func (d *voiceDriver) Start(sink *audio.Sink) error {
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(sink)
	return nil
}

// Stop halts mixing. The voice connection stays open until Close.
func (d *voiceDriver) Stop() error {
	if d.quit == nil {
		return nil
	}
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.done
	return nil
}

// Close leaves the voice channel.
func (d *voiceDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.disconnect != nil {
			err = d.disconnect()
		}
	})
	return err
}

func (d *voiceDriver) loop(sink *audio.Sink) {
	defer close(d.done)

	speakers := make(map[uint32]*speaker)
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	packets := d.packets
	for {
		select {
		case <-d.quit:
			return

		case pkt, ok := <-packets:
			if !ok {
				// The gateway dropped the voice connection.
				packets = nil
				sink.Fail(errVoiceClosed)
				continue
			}
			if pkt == nil {
				continue
			}
			sp, known := speakers[pkt.SSRC]
			if !known {
				var err error
				if sp, err = newSpeaker(); err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				speakers[pkt.SSRC] = sp
				if d.onSpeaker != nil {
					d.onSpeaker(pkt.SSRC)
				}
			}
			if err := sp.push(pkt.Opus, maxPendingFrames*mixFrameSamples); err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
			}

		case <-ticker.C:
			sink.Push(mixFrame(speakers))
		}
	}
}

// mixFrame sums the next frame of every speaker into clipped PCM. Ticks
// where nobody talks yield silence.
func mixFrame(speakers map[uint32]*speaker) []byte {
	acc := make([]int32, mixFrameSamples)
	for _, sp := range speakers {
		sp.mixInto(acc)
	}
	return pcmBytes(acc)
}
