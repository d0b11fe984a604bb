package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Format describes the sample rate and channel count of an audio stream.
// Samples are always signed 16-bit little-endian.
type Format struct {
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	Channels   int `yaml:"channels" json:"channels"`
}

// FrameBytes returns the size in bytes of one sample frame.
func (f Format) FrameBytes() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return ch * 2
}

// Frames returns the number of whole sample frames in n bytes.
func (f Format) Frames(n int) int {
	return n / f.FrameBytes()
}

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames(n)) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the number of bytes covering d, rounded down to a whole frame.
func (f Format) Bytes(d time.Duration) int {
	frames := int(int64(d) * int64(f.SampleRate) / int64(time.Second))
	return frames * f.FrameBytes()
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter converts chunks to a target format. It logs a warning
// on the first format mismatch and drops chunks with misaligned PCM.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts c to the target format. If the source format already
// matches the target, the chunk is returned unchanged.
// Channel reduction runs before resampling so only one channel is resampled.
func (c *FormatConverter) Convert(chunk Chunk) Chunk {
	if len(chunk.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping chunk",
				"bytes", len(chunk.Data),
				"sample_rate", chunk.SampleRate,
				"channels", chunk.Channels,
			)
		})
		chunk.Data = nil
		chunk.SampleRate = c.Target.SampleRate
		chunk.Channels = c.Target.Channels
		return chunk
	}

	if chunk.SampleRate == c.Target.SampleRate && chunk.Channels == c.Target.Channels {
		return chunk
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(chunk.SampleRate, chunk.Channels),
			"to", c.Target.String(),
		)
	})

	pcm := chunk.Data
	channels := chunk.Channels

	if c.Target.Channels == 1 && channels > 1 {
		pcm = ToMono(pcm, channels)
		channels = 1
	}

	if chunk.SampleRate != c.Target.SampleRate {
		if channels == 1 {
			pcm = Float32ToPCM16(Resample(PCM16ToFloat32(pcm), chunk.SampleRate, c.Target.SampleRate))
		} else {
			pcm = ResampleStereo16(pcm, chunk.SampleRate, c.Target.SampleRate)
		}
	}

	if channels == 1 && c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
		channels = 2
	}

	chunk.Data = pcm
	chunk.SampleRate = c.Target.SampleRate
	chunk.Channels = channels
	return chunk
}

// ConvertRecording returns rec in the target format.
func ConvertRecording(rec Recording, target Format) Recording {
	if rec.Format == target {
		return rec
	}
	conv := FormatConverter{Target: target}
	out := conv.Convert(Chunk{Data: rec.Data, SampleRate: rec.Format.SampleRate, Channels: rec.Format.Channels})
	return Recording{Format: Format{SampleRate: out.SampleRate, Channels: out.Channels}, Data: out.Data}
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
func StereoToMono(pcm []byte) []byte {
	return ToMono(pcm, 2)
}

// ToMono averages all channels of interleaved int16 PCM into one. Sums use
// int32 arithmetic so the result cannot overflow.
func ToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := clampInt16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1.0, 1.0) by dividing by 32768.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float samples to little-endian int16 PCM, scaling by
// 32767 and clipping to the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := clampInt16(int32(math.Round(float64(f) * 32767)))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Resample converts mono float samples from srcRate to dstRate with a
// high-quality polyphase resampler. If the resampler cannot be built the
// conversion falls back to linear interpolation.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		slog.Warn("audio: resampler unavailable, using linear interpolation", "err", err)
		return resampleLinear(samples, srcRate, dstRate)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	res, err := r.Process(in)
	if err != nil {
		slog.Warn("audio: resample failed, using linear interpolation", "err", err)
		return resampleLinear(samples, srcRate, dstRate)
	}

	out := make([]float32, len(res))
	for i, s := range res {
		out[i] = float32(s)
	}
	return out
}

// resampleLinear resamples mono float samples using linear interpolation.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each stereo frame is 4 bytes (L+R interleaved).
// If srcRate == dstRate, the input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		}

		lInterp := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		rInterp := int16(float64(r0)*(1-frac) + float64(r1)*frac)

		out[i*4] = byte(lInterp)
		out[i*4+1] = byte(lInterp >> 8)
		out[i*4+2] = byte(rInterp)
		out[i*4+3] = byte(rInterp >> 8)
	}
	return out
}

func clampInt16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
