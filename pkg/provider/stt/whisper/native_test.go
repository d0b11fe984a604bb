package whisper

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// fakeModel satisfies whisperlib.Model for load tests. Only Close is called.
type fakeModel struct {
	whisperlib.Model
	closed int
}

func (m *fakeModel) Close() error {
	m.closed++
	return nil
}

func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("ggml"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNative_NoModelFails(t *testing.T) {
	t.Parallel()

	p := NewNative("")
	if p.Available() {
		t.Fatal("Available() = true without a model path")
	}
	res := p.TranscribeChunk(context.Background(), audio.Signal{Samples: make([]float32, 1600), SampleRate: 16000})
	if !res.Failed() {
		t.Fatal("expected a failed result")
	}
	if res.Backend != "whisper-local" {
		t.Errorf("Backend = %q", res.Backend)
	}
}

func TestNative_FallsBackToCPUModel(t *testing.T) {
	t.Parallel()

	gpu := touch(t, "large.bin")
	cpu := touch(t, "small-q5.bin")
	model := &fakeModel{}
	var tried []string

	p := NewNative(gpu, WithCPUModel(cpu))
	p.load = func(path string) (whisperlib.Model, error) {
		tried = append(tried, path)
		if path == gpu {
			return nil, errors.New("cuda: out of memory")
		}
		return model, nil
	}

	if _, err := p.ensureModel(); err != nil {
		t.Fatalf("ensureModel: %v, want the CPU model to load", err)
	}
	if p.Device() != "cpu" {
		t.Errorf("Device = %q, want cpu", p.Device())
	}
	if len(tried) != 2 || tried[0] != gpu || tried[1] != cpu {
		t.Errorf("load order = %v", tried)
	}

	// The outcome is cached.
	p.ensureModel()
	if !p.Available() || len(tried) != 2 {
		t.Errorf("model reloaded: %v", tried)
	}

	if err := p.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if model.closed != 1 || p.Device() != "" {
		t.Errorf("closed = %d, device = %q", model.closed, p.Device())
	}
}

func TestNative_AvailableDoesNotLoad(t *testing.T) {
	t.Parallel()

	loads := 0
	p := NewNative(touch(t, "m.bin"))
	p.load = func(string) (whisperlib.Model, error) {
		loads++
		return &fakeModel{}, nil
	}

	if !p.Available() {
		t.Fatal("Available() = false with an existing model file")
	}
	if loads != 0 {
		t.Fatalf("Available loaded the model %d times", loads)
	}
	res := p.TranscribeChunk(context.Background(), audio.Signal{Samples: make([]float32, 1600), SampleRate: 16000})
	if res.Failed() || loads != 1 || p.Device() != "accelerated" {
		t.Errorf("first transcription: err=%q loads=%d device=%q", res.Error, loads, p.Device())
	}

	missing := NewNative(filepath.Join(t.TempDir(), "missing.bin"))
	if missing.Available() {
		t.Error("Available() = true for a missing model file")
	}

	broken := NewNative(touch(t, "broken.bin"))
	broken.load = func(string) (whisperlib.Model, error) { return nil, errors.New("bad magic") }
	broken.ensureModel()
	if broken.Available() {
		t.Error("Available() = true after the model failed to load")
	}
}

func TestNative_BothModelsFail(t *testing.T) {
	t.Parallel()

	p := NewNative(touch(t, "a.bin"), WithCPUModel(filepath.Join(t.TempDir(), "missing.bin")))
	p.load = func(string) (whisperlib.Model, error) { return nil, errors.New("bad magic") }
	_, err := p.ensureModel()
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("err = %v, want ErrNoModel", err)
	}
}

func TestNative_SilenceSkipsInference(t *testing.T) {
	t.Parallel()

	p := NewNative(touch(t, "m.bin"))
	p.load = func(string) (whisperlib.Model, error) { return &fakeModel{}, nil }

	// fakeModel.NewContext would panic, so reaching inference fails the test.
	res := p.TranscribeChunk(context.Background(), audio.Signal{Samples: make([]float32, 16000), SampleRate: 16000})
	if res.Failed() {
		t.Fatalf("silence should succeed, got %q", res.Error)
	}
	if res.Text != "" || len(res.Segments) != 0 {
		t.Errorf("res = %+v", res)
	}
	if res.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", res.Duration)
	}
}

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestFilterVoiced(t *testing.T) {
	t.Parallel()

	const frame = 480 // 30 ms at 16 kHz
	silence := make([]float32, 20*frame)
	speech := tone(4*frame, 0.5)

	var in []float32
	in = append(in, silence...)
	in = append(in, speech...)
	in = append(in, silence...)

	v := filterVoiced(in, 16000, defaultVADThreshold)
	want := (4 + 2*vadPadFrames) * frame
	if len(v.samples) != want {
		t.Fatalf("kept %d samples, want %d", len(v.samples), want)
	}
	if len(v.spans) != 1 || v.spans[0].src != (20-vadPadFrames)*frame {
		t.Fatalf("spans = %+v", v.spans)
	}

	// Time zero of the filtered signal is where the padded speech began.
	if got, want := v.original(0), float64((20-vadPadFrames)*frame)/16000; math.Abs(got-want) > 1e-9 {
		t.Errorf("original(0) = %v, want %v", got, want)
	}
	if got := v.original(time.Hour); got != float64(len(silence)+len(speech)+vadPadFrames*frame)/16000 {
		t.Errorf("original past end = %v", got)
	}

	if quiet := filterVoiced(make([]float32, 10*frame), 16000, defaultVADThreshold); len(quiet.samples) != 0 {
		t.Errorf("silence kept %d samples", len(quiet.samples))
	}
}

func TestFilterVoiced_RemapsAcrossGaps(t *testing.T) {
	t.Parallel()

	const frame = 480
	var in []float32
	in = append(in, tone(frame, 0.5)...)
	in = append(in, make([]float32, 20*frame)...)
	in = append(in, tone(frame, 0.5)...)

	v := filterVoiced(in, 16000, defaultVADThreshold)
	if len(v.spans) != 2 {
		t.Fatalf("spans = %+v, want 2", v.spans)
	}
	// The first sample of the second span sits at its original position.
	second := v.spans[1]
	at := time.Duration(float64(second.dst) / 16000 * float64(time.Second))
	if got, want := v.original(at), float64(second.src)/16000; math.Abs(got-want) > 1.0/16000 {
		t.Errorf("original = %v, want %v", got, want)
	}
}

func TestWordsFromTokens(t *testing.T) {
	t.Parallel()

	v := voiced{rate: 16000, spans: []span{{src: 16000, dst: 0, n: 32000}}}
	toks := []token{
		{text: "[_BEG_]"},
		{text: " Hel", start: 0, end: 200 * time.Millisecond},
		{text: "lo", start: 200 * time.Millisecond, end: 400 * time.Millisecond},
		{text: " world", start: 500 * time.Millisecond, end: 900 * time.Millisecond},
		{text: "<|endoftext|>"},
	}
	words := wordsFromTokens(toks, v)
	if len(words) != 2 {
		t.Fatalf("words = %+v", words)
	}
	if words[0].Word != "Hello" || words[1].Word != "world" {
		t.Errorf("words = %+v", words)
	}
	// Timestamps are shifted by the one second the filter removed.
	if words[0].Start != 1.0 || math.Abs(words[0].End-1.4) > 1e-9 {
		t.Errorf("first word span = %v-%v, want 1.0-1.4", words[0].Start, words[0].End)
	}
}

func TestNative_RealModel(t *testing.T) {
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	p := NewNative(path)
	defer p.Unload()

	res := p.TranscribeChunk(context.Background(), audio.Signal{Samples: tone(16000, 0.3), SampleRate: 16000})
	if res.Failed() {
		t.Fatalf("transcribe: %s", res.Error)
	}
	if res.Backend != "whisper-local" {
		t.Errorf("Backend = %q", res.Backend)
	}
}
