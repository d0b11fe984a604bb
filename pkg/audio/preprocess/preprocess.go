// Package preprocess cleans up captured speech before it is handed to a
// transcriber.
//
// [Process] runs three stages in a fixed order: peak normalisation, a noise
// gate, and energy-based silence trimming. Normalisation comes first because
// the gate and trim thresholds are calibrated to a signal peaking at 1.0.
// An optional output gain ([Config.GainDB]) is applied last.
// Every function here is pure; none retains or mutates its input.
package preprocess

import (
	"math"

	"github.com/MrWong99/minutes/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultWindowSize      = 2048
	DefaultEnergyThreshold = 0.02
	DefaultGateRatio       = 0.1
)

// Config tunes the preprocessing stages. Zero fields take the defaults.
type Config struct {
	// WindowSize is the silence-trim window length in samples. The hop is a
	// quarter of it.
	WindowSize int

	// EnergyThreshold is the mean squared amplitude a window must exceed to
	// count as speech.
	EnergyThreshold float64

	// GateRatio scales the mean absolute amplitude into the noise-gate
	// threshold.
	GateRatio float64

	// GainDB is applied after trimming. Zero leaves the normalised level.
	GainDB float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.GateRatio <= 0 {
		c.GateRatio = DefaultGateRatio
	}
	return c
}

// Process normalises, gates, and trims samples. An all-zero input is returned
// unchanged. A non-silent input whose energy never crosses the threshold
// collapses to an empty slice.
func Process(samples []float32, cfg Config) []float32 {
	cfg = cfg.withDefaults()

	out, ok := Normalize(samples)
	if !ok {
		return samples
	}
	out = NoiseGate(out, cfg.GateRatio)
	out, _, _ = TrimSilence(out, cfg.WindowSize, cfg.EnergyThreshold)
	if cfg.GainDB != 0 && len(out) > 0 {
		out = AdjustVolume(out, cfg.GainDB)
	}
	return out
}

// ProcessChunk converts a PCM chunk to mono float samples and runs [Process]
// on it.
func ProcessChunk(c audio.Chunk, cfg Config) audio.Signal {
	pcm := audio.ToMono(c.Data, c.Channels)
	return audio.Signal{
		Samples:    Process(audio.PCM16ToFloat32(pcm), cfg),
		SampleRate: c.SampleRate,
	}
}

// Normalize divides every sample by the peak absolute value so that the
// result peaks at exactly 1.0. It reports false, and returns samples
// untouched, when the input is empty or all zero.
func Normalize(samples []float32) ([]float32, bool) {
	var peak float32
	for _, s := range samples {
		if a := abs32(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples, false
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out, true
}

// NoiseGate zeroes every sample whose magnitude is below ratio times the mean
// absolute amplitude.
func NoiseGate(samples []float32, ratio float64) []float32 {
	if len(samples) == 0 {
		return samples
	}
	var sum float64
	for _, s := range samples {
		sum += float64(abs32(s))
	}
	threshold := float32(sum / float64(len(samples)) * ratio)

	out := make([]float32, len(samples))
	for i, s := range samples {
		if abs32(s) >= threshold {
			out[i] = s
		}
	}
	return out
}

// TrimSilence clips samples to the span covered by the first and last
// windows whose mean squared energy exceeds threshold. Windows are
// windowSize long and advance by windowSize/4. Inputs no longer than one
// window are returned as is. The returned bounds are sample offsets into the
// input.
func TrimSilence(samples []float32, windowSize int, threshold float64) (out []float32, start, end int) {
	n := len(samples)
	if n <= windowSize {
		return samples, 0, n
	}
	hop := max(windowSize/4, 1)

	first, last := -1, -1
	for w, i := 0, 0; i < n-windowSize; w, i = w+1, i+hop {
		var energy float64
		for _, s := range samples[i : i+windowSize] {
			energy += float64(s) * float64(s)
		}
		if energy/float64(windowSize) > threshold {
			if first < 0 {
				first = w
			}
			last = w
		}
	}
	if first < 0 {
		return []float32{}, 0, 0
	}

	start = first * hop
	end = min(n, (last+1)*hop+windowSize)
	return samples[start:end:end], start, end
}

// AdjustVolume applies a gain in decibels and clips the result to [-1, 1].
func AdjustVolume(samples []float32, gainDB float64) []float32 {
	gain := float32(math.Pow(10, gainDB/20))
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = max(-1, min(1, s*gain))
	}
	return out
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
