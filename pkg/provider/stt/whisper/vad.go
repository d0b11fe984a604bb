package whisper

import (
	"math"
	"time"
)

const (
	// vadFrameMs is the analysis frame length of the voice activity filter.
	vadFrameMs = 30

	// defaultVADThreshold is the frame RMS (on a [-1, 1] scale) below which a
	// frame counts as silence. 0.009 is roughly 300 on the 16-bit scale.
	defaultVADThreshold = 0.009

	// vadPadFrames keeps this many frames on either side of speech so word
	// onsets and tails are not clipped.
	vadPadFrames = 3
)

// span maps a run of kept samples back to its position in the input.
type span struct {
	src int // offset in the original signal
	dst int // offset in the filtered signal
	n   int
}

// voiced is the output of the voice activity filter.
type voiced struct {
	samples []float32
	spans   []span
	rate    int
}

// filterVoiced drops silent frames from samples. Frames are vadFrameMs long;
// a frame is kept when its RMS reaches threshold or it lies within
// vadPadFrames of such a frame.
func filterVoiced(samples []float32, rate int, threshold float64) voiced {
	frame := max(rate*vadFrameMs/1000, 1)
	nFrames := (len(samples) + frame - 1) / frame

	loud := make([]bool, nFrames)
	for f := range nFrames {
		start := f * frame
		end := min(start+frame, len(samples))
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s) * float64(s)
		}
		loud[f] = math.Sqrt(sum/float64(end-start)) >= threshold
	}

	keep := make([]bool, nFrames)
	for f, l := range loud {
		if !l {
			continue
		}
		for k := max(0, f-vadPadFrames); k <= min(nFrames-1, f+vadPadFrames); k++ {
			keep[k] = true
		}
	}

	v := voiced{rate: rate}
	for f := 0; f < nFrames; {
		if !keep[f] {
			f++
			continue
		}
		g := f
		for g < nFrames && keep[g] {
			g++
		}
		start := f * frame
		end := min(g*frame, len(samples))
		v.spans = append(v.spans, span{src: start, dst: len(v.samples), n: end - start})
		v.samples = append(v.samples, samples[start:end]...)
		f = g
	}
	return v
}

// original maps a timestamp in the filtered signal back to the input signal,
// in seconds.
func (v voiced) original(t time.Duration) float64 {
	if v.rate <= 0 || len(v.spans) == 0 {
		return t.Seconds()
	}
	pos := int(math.Round(t.Seconds() * float64(v.rate)))
	for _, s := range v.spans {
		if pos < s.dst+s.n {
			off := max(pos-s.dst, 0)
			return float64(s.src+off) / float64(v.rate)
		}
	}
	last := v.spans[len(v.spans)-1]
	return float64(last.src+last.n) / float64(v.rate)
}
