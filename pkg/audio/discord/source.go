// Package discord provides an [audio.Source] backed by Discord voice
// channels via the bwmarrin/discordgo library. Every voice channel of the
// configured guild is exposed as a device; opening one joins the channel
// muted and records a mix of everyone who speaks in it.
//
// The source requires an active *discordgo.Session owned by the caller.
package discord

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var errVoiceClosed = errors.New("discord: voice connection closed")

var _ audio.Source = (*Source)(nil)

// voiceLink is the part of a joined voice connection the driver needs.
type voiceLink struct {
	packets    <-chan *discordgo.Packet
	disconnect func() error
}

// Option configures a [Source].
type Option func(*Source)

// WithDefaultChannel sets the channel joined when Open is called without a
// device index.
func WithDefaultChannel(channelID string) Option {
	return func(s *Source) { s.defaultChannel = channelID }
}

// WithQueueSize sets the capture queue size passed to [audio.NewCapture].
func WithQueueSize(n int) Option {
	return func(s *Source) { s.queueSize = n }
}

// Source implements [audio.Source] using discordgo voice connections.
//
// Source is safe for concurrent use.
type Source struct {
	guildID        string
	defaultChannel string
	queueSize      int

	// listChannels and join default to the session methods; tests replace them.
	listChannels func(guildID string) ([]*discordgo.Channel, error)
	join         func(guildID, channelID string) (voiceLink, error)

	mu       sync.Mutex
	speakers map[uint32]struct{}
}

// New creates a Source for the given session and guild.
func New(session *discordgo.Session, guildID string, opts ...Option) *Source {
	s := &Source{
		guildID: guildID,
		listChannels: func(guildID string) ([]*discordgo.Channel, error) {
			return session.GuildChannels(guildID)
		},
		join: func(guildID, channelID string) (voiceLink, error) {
			// mute=true (we never send audio), deaf=false (we receive audio).
			vc, err := session.ChannelVoiceJoin(guildID, channelID, true, false)
			if err != nil {
				return voiceLink{}, err
			}
			return voiceLink{packets: vc.OpusRecv, disconnect: vc.Disconnect}, nil
		},
		speakers: make(map[uint32]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// voiceChannels returns the guild's voice channels ordered by their position
// in the Discord client, which is the device index order.
func (s *Source) voiceChannels() ([]*discordgo.Channel, error) {
	all, err := s.listChannels(s.guildID)
	if err != nil {
		return nil, fmt.Errorf("%w: list channels of guild %q: %w", audio.ErrDevice, s.guildID, err)
	}
	var voice []*discordgo.Channel
	for _, ch := range all {
		if ch != nil && ch.Type == discordgo.ChannelTypeGuildVoice {
			voice = append(voice, ch)
		}
	}
	slices.SortStableFunc(voice, func(a, b *discordgo.Channel) int {
		return cmp.Compare(a.Position, b.Position)
	})
	return voice, nil
}

// Devices lists the guild's voice channels as input devices.
func (s *Source) Devices(_ context.Context) ([]audio.Device, error) {
	voice, err := s.voiceChannels()
	if err != nil {
		return nil, err
	}
	devices := make([]audio.Device, 0, len(voice))
	for i, ch := range voice {
		devices = append(devices, audio.Device{
			Index:             i,
			Name:              ch.Name,
			Direction:         audio.DirectionInput,
			DefaultSampleRate: opusSampleRate,
			Default:           ch.ID == s.defaultChannel,
		})
	}
	return devices, nil
}

// Open joins the voice channel at index. A nil or out-of-range index joins
// the default channel.
func (s *Source) Open(ctx context.Context, index *int) (audio.Capture, error) {
	channelID, name, err := s.resolve(index)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDevice, err)
	}

	link, err := s.join(s.guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("%w: join voice channel %q: %w", audio.ErrDevice, channelID, err)
	}

	d := newVoiceDriver(link.packets, link.disconnect)
	d.onSpeaker = s.noteSpeaker
	slog.Info("discord: joined voice channel", "guild", s.guildID, "channel", name)
	return audio.NewCapture(d, audio.WithName("discord:"+name), audio.WithQueueSize(s.queueSize)), nil
}

func (s *Source) resolve(index *int) (id, name string, err error) {
	if index == nil {
		if s.defaultChannel == "" {
			return "", "", fmt.Errorf("%w: no voice channel selected and no default configured", audio.ErrDevice)
		}
		return s.defaultChannel, s.defaultChannel, nil
	}
	voice, err := s.voiceChannels()
	if err != nil {
		return "", "", err
	}
	if *index < 0 || *index >= len(voice) {
		if s.defaultChannel == "" {
			return "", "", fmt.Errorf("%w: voice channel index %d out of range", audio.ErrDevice, *index)
		}
		slog.Warn("discord: unknown voice channel index, using default", "index", *index)
		return s.defaultChannel, s.defaultChannel, nil
	}
	return voice[*index].ID, voice[*index].Name, nil
}

func (s *Source) noteSpeaker(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speakers[ssrc] = struct{}{}
}

// SpeakerCount returns how many distinct voice streams have been heard since
// the source was created.
func (s *Source) SpeakerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}
