// This file contains the Native implementation backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Provider.
var _ stt.Provider = (*Native)(nil)

// ErrNoModel is reported when neither the accelerated nor the CPU model can
// be loaded.
var ErrNoModel = errors.New("whisper: no model could be loaded")

// Native implements stt.Provider using whisper.cpp Go bindings (CGO). The
// model is loaded on first use and shared by all calls; each call creates
// its own whisper context.
type Native struct {
	modelPath    string
	cpuModelPath string
	language     string
	threads      uint
	vadThreshold float64

	// load defaults to whisperlib.New; tests replace it.
	load func(path string) (whisperlib.Model, error)

	mu      sync.Mutex
	model   whisperlib.Model
	device  string
	tried   bool
	loadErr error
}

// NativeOption is a functional option for configuring a Native provider.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *Native) { p.language = lang }
}

// WithCPUModel sets a model file used when the primary model cannot be
// loaded, typically a quantised build that runs acceptably without a GPU.
func WithCPUModel(path string) NativeOption {
	return func(p *Native) { p.cpuModelPath = path }
}

// WithThreads sets the number of inference threads. Zero uses the
// whisper.cpp default.
func WithThreads(n uint) NativeOption {
	return func(p *Native) { p.threads = n }
}

// WithVADThreshold sets the frame RMS (0-1 scale) below which audio is
// treated as silence and removed before inference. Defaults to 0.009.
func WithVADThreshold(v float64) NativeOption {
	return func(p *Native) { p.vadThreshold = v }
}

// NewNative creates a Native provider for the model at modelPath. Nothing is
// loaded until the first transcription or [Native.Available] call.
func NewNative(modelPath string, opts ...NativeOption) *Native {
	p := &Native{
		modelPath:    modelPath,
		language:     defaultLanguage,
		vadThreshold: defaultVADThreshold,
		load:         whisperlib.New,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "whisper-local".
func (p *Native) Name() string { return "whisper-local" }

// Available reports whether the provider can serve without loading the
// model: a load already succeeded, or none was tried and a configured model
// file exists. The model itself is loaded by the first transcription.
func (p *Native) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tried {
		return p.loadErr == nil
	}
	for _, path := range []string{p.modelPath, p.cpuModelPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// Device reports which model is loaded: "accelerated", "cpu", or "" when
// nothing is loaded.
func (p *Native) Device() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// ensureModel loads the model once. The primary model is tried first; if it
// fails the CPU model is tried. The bindings load with whisper.cpp's default
// device selection, so without a CPU model there is no second attempt. The
// outcome is cached until Unload.
func (p *Native) ensureModel() (whisperlib.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tried {
		return p.model, p.loadErr
	}
	p.tried = true

	candidates := []struct{ device, path string }{
		{"accelerated", p.modelPath},
		{"cpu", p.cpuModelPath},
	}
	var errs []error
	for _, c := range candidates {
		if c.path == "" {
			continue
		}
		if _, err := os.Stat(c.path); err != nil {
			errs = append(errs, fmt.Errorf("%s model: %w", c.device, err))
			continue
		}
		model, err := p.load(c.path)
		if err != nil {
			slog.Warn("whisper: model load failed", "device", c.device, "path", c.path, "err", err)
			errs = append(errs, fmt.Errorf("%s model %q: %w", c.device, c.path, err))
			continue
		}
		p.model = model
		p.device = c.device
		slog.Info("whisper: model loaded", "device", c.device, "path", c.path)
		return model, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no model path configured"))
	}
	p.loadErr = fmt.Errorf("%w: %w", ErrNoModel, errors.Join(errs...))
	return nil, p.loadErr
}

// Unload frees the model. The next call loads it again.
func (p *Native) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.model != nil {
		err = p.model.Close()
	}
	p.model = nil
	p.device = ""
	p.tried = false
	p.loadErr = nil
	return err
}

// TranscribeFile decodes the WAV at path and transcribes it.
func (p *Native) TranscribeFile(ctx context.Context, path string) stt.Result {
	started := time.Now()
	sig, err := audio.ReadSignalFile(path, whisperlib.SampleRate)
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("whisper: %w", err), started)
	}
	return p.transcribe(ctx, sig, started)
}

// TranscribeChunk transcribes sig.
func (p *Native) TranscribeChunk(ctx context.Context, sig audio.Signal) stt.Result {
	started := time.Now()
	sig = audio.Signal{
		Samples:    audio.Resample(sig.Samples, sig.SampleRate, whisperlib.SampleRate),
		SampleRate: whisperlib.SampleRate,
	}
	return p.transcribe(ctx, sig, started)
}

func (p *Native) transcribe(ctx context.Context, sig audio.Signal, started time.Time) stt.Result {
	model, err := p.ensureModel()
	if err != nil {
		return stt.Failure(p.Name(), err, started)
	}
	if err := ctx.Err(); err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("whisper: %w", err), started)
	}

	v := filterVoiced(sig.Samples, sig.SampleRate, p.vadThreshold)
	res := stt.Result{
		Segments: []stt.Segment{},
		Language: p.language,
		Duration: sig.Duration(),
		Backend:  p.Name(),
	}
	if len(v.samples) == 0 {
		res.ProcessingTime = time.Since(started)
		return res
	}

	segs, err := p.infer(model, v)
	if err != nil {
		return stt.Failure(p.Name(), err, started)
	}
	res.Segments = segs
	res.Text = stt.JoinSegments(segs)
	res.ProcessingTime = time.Since(started)
	return res
}

// infer runs whisper.cpp on the voiced samples with a fresh context and maps
// segment and token timestamps back onto the unfiltered timeline.
func (p *Native) infer(model whisperlib.Model, v voiced) ([]stt.Segment, error) {
	// Contexts are not thread-safe, but the model can be shared.
	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "err", err)
	}
	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(v.samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segs []stt.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		toks := make([]token, 0, len(segment.Tokens))
		for _, t := range segment.Tokens {
			toks = append(toks, token{text: t.Text, start: t.Start, end: t.End})
		}
		segs = append(segs, stt.Segment{
			ID:    len(segs),
			Start: v.original(segment.Start),
			End:   v.original(segment.End),
			Text:  text,
			Words: wordsFromTokens(toks, v),
		})
	}
	if segs == nil {
		segs = []stt.Segment{}
	}
	return segs, nil
}

// token is the subset of a whisper.cpp token used to build words.
type token struct {
	text       string
	start, end time.Duration
}

// wordsFromTokens merges sub-word tokens into words. A token starting with a
// space begins a new word. Special tokens such as "[_BEG_]" and
// "<|endoftext|>" are skipped.
func wordsFromTokens(toks []token, v voiced) []stt.Word {
	var words []stt.Word
	for _, t := range toks {
		if isSpecialToken(t.text) || strings.TrimSpace(t.text) == "" {
			continue
		}
		if len(words) == 0 || strings.HasPrefix(t.text, " ") {
			words = append(words, stt.Word{
				Word:  strings.TrimSpace(t.text),
				Start: v.original(t.start),
				End:   v.original(t.end),
			})
			continue
		}
		w := &words[len(words)-1]
		w.Word += t.text
		w.End = v.original(t.end)
	}
	return words
}

func isSpecialToken(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[_") || strings.HasPrefix(s, "<|")
}
