// Package openai provides the hosted remote transcription backend, backed by
// the OpenAI audio transcription API.
//
// Every call writes a temporary 16 kHz mono PCM16 WAV file, uploads it to
// whisper-1 with verbose_json output and word and segment timestamps, and
// deletes the file again whether the call succeeded or not.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	tempDir  string
}

type config struct {
	baseURL  string
	model    string
	language string
	tempDir  string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server that
// speaks the /audio/transcriptions API works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint. Empty lets the API detect it.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTempDir sets where the upload files are written. Defaults to
// os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *config) { c.tempDir = dir }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{timeout: 10 * time.Minute}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	model := DefaultModel
	if cfg.model != "" {
		model = oai.AudioModel(cfg.model)
	}
	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		tempDir:  cfg.tempDir,
	}, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// TranscribeFile transcribes the WAV at path. The file is always re-encoded
// as 16 kHz mono PCM16 before upload.
func (p *Provider) TranscribeFile(ctx context.Context, path string) stt.Result {
	started := time.Now()
	sig, err := audio.ReadSignalFile(path, stt.TargetSampleRate)
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("openai: %w", err), started)
	}
	return p.transcribe(ctx, sig, started)
}

// TranscribeChunk transcribes sig.
func (p *Provider) TranscribeChunk(ctx context.Context, sig audio.Signal) stt.Result {
	return p.transcribe(ctx, sig, time.Now())
}

func (p *Provider) transcribe(ctx context.Context, sig audio.Signal, started time.Time) stt.Result {
	f, err := os.CreateTemp(p.tempDir, "minutes-*.wav")
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("openai: create temp file: %w", err), started)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	rec := audio.SignalRecording(sig, stt.TargetSampleRate)
	if err := audio.EncodeWAV(f, rec.Format, rec.Data); err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("openai: write temp wav: %w", err), started)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("openai: rewind temp wav: %w", err), started)
	}

	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(f, "audio.wav", "audio/wav"),
		Model:                  p.model,
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word", "segment"},
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("openai: transcription: %w", err), started)
	}
	v, err := stt.DecodeVerbose([]byte(resp.RawJSON()))
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("openai: %w", err), started)
	}
	res := v.Result(p.Name(), started)
	if res.Duration == 0 {
		res.Duration = sig.Duration()
	}
	if res.Language == "" {
		res.Language = p.language
	}
	return res
}
