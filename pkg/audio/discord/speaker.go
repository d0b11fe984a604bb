package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Voice packets carry 20 ms of 48 kHz stereo Opus.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	opusFrameSize   = opusSampleRate * opusFrameSizeMs / 1000
)

// speaker is one SSRC in the channel. Opus decoding is stateful, so every
// speaker keeps its own decoder next to its jitter buffer of mono samples.
type speaker struct {
	dec     *gopus.Decoder
	pending []int16
}

func newSpeaker() (*speaker, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &speaker{dec: dec}, nil
}

// push decodes packet, downmixes it and queues the samples. At most limit
// samples stay queued; the oldest go first.
func (s *speaker) push(packet []byte, limit int) error {
	stereo, err := s.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return fmt.Errorf("discord: opus decode: %w", err)
	}
	for i := 0; i+1 < len(stereo); i += opusChannels {
		s.pending = append(s.pending, int16((int32(stereo[i])+int32(stereo[i+1]))/2))
	}
	if over := len(s.pending) - limit; over > 0 {
		s.pending = s.pending[over:]
	}
	return nil
}

// mixInto adds up to len(acc) queued samples to acc and dequeues them.
func (s *speaker) mixInto(acc []int32) {
	n := min(len(s.pending), len(acc))
	for i, v := range s.pending[:n] {
		acc[i] += int32(v)
	}
	s.pending = s.pending[n:]
}

// pcmBytes clips acc to int16 and encodes it little-endian.
func pcmBytes(acc []int32) []byte {
	b := make([]byte, 2*len(acc))
	for i, v := range acc {
		v = max(min(v, 32767), -32768)
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(v)))
	}
	return b
}
