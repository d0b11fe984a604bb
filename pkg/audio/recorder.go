package audio

import "time"

// Recorder accumulates raw PCM and re-slices it into fixed-duration chunks.
//
// A Recorder is owned by a single goroutine: it is appended to only by the
// capture worker and read via [Recorder.Recording] only after capture stops.
type Recorder struct {
	format     Format
	chunkBytes int
	data       []byte
	emitted    int
	seq        uint64
}

// NewRecorder returns a Recorder that emits chunks of chunkDuration. A
// non-positive duration emits whatever each Write delivers as one chunk.
func NewRecorder(format Format, chunkDuration time.Duration) *Recorder {
	r := &Recorder{format: format}
	if chunkDuration > 0 {
		r.chunkBytes = format.Bytes(chunkDuration)
	}
	if r.chunkBytes <= 0 && chunkDuration > 0 {
		r.chunkBytes = format.FrameBytes()
	}
	return r
}

// Write appends pcm to the recording and returns any chunks that became
// complete. Returned chunks alias the recording buffer and must be treated
// as read-only.
func (r *Recorder) Write(pcm []byte) []Chunk {
	r.data = append(r.data, pcm...)

	if r.chunkBytes <= 0 {
		c, ok := r.Flush()
		if !ok {
			return nil
		}
		return []Chunk{c}
	}

	var out []Chunk
	for len(r.data)-r.emitted >= r.chunkBytes {
		out = append(out, r.next(r.chunkBytes))
	}
	return out
}

// Flush returns the trailing partial chunk, if any, aligned down to a whole
// sample frame.
func (r *Recorder) Flush() (Chunk, bool) {
	n := len(r.data) - r.emitted
	n -= n % r.format.FrameBytes()
	if n <= 0 {
		return Chunk{}, false
	}
	return r.next(n), true
}

func (r *Recorder) next(n int) Chunk {
	start := r.emitted
	end := start + n
	c := Chunk{
		Data:       r.data[start:end:end],
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
		Seq:        r.seq,
		Timestamp:  r.format.Duration(start),
	}
	r.emitted = end
	r.seq++
	return c
}

// Recording returns everything written so far. Any trailing bytes that do not
// form a whole sample frame are dropped.
func (r *Recorder) Recording() Recording {
	n := len(r.data) - len(r.data)%r.format.FrameBytes()
	return Recording{Format: r.format, Data: r.data[:n:n]}
}

// Len returns the number of bytes recorded.
func (r *Recorder) Len() int {
	return len(r.data)
}
