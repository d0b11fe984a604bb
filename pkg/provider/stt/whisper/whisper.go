// Package whisper provides two whisper.cpp transcription backends.
//
// [Provider] talks to a running whisper-server binary (POST /inference). It
// is the self-hosted remote variant: audio is encoded as a 16 kHz mono WAV in
// memory and uploaded, and the verbose_json response is mapped into
// [stt.Result].
//
// [Native] runs whisper.cpp in-process through the CGO bindings. It is the
// local variant: the model loads lazily on first use, preferring the
// accelerated model and falling back to a CPU model, and an energy-based
// voice activity filter removes silence before inference.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res := p.TranscribeFile(ctx, "meeting.wav")
//	if res.Failed() { ... }
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en". "auto" lets the server detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 10 minute
// timeout so that hour-long recordings can finish.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "whisper-server".
func (p *Provider) Name() string { return "whisper-server" }

// TranscribeFile converts the WAV at path to 16 kHz mono and uploads it.
func (p *Provider) TranscribeFile(ctx context.Context, path string) stt.Result {
	started := time.Now()
	sig, err := audio.ReadSignalFile(path, stt.TargetSampleRate)
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("whisper: %w", err), started)
	}
	return p.transcribe(ctx, sig, started)
}

// TranscribeChunk uploads sig as a 16 kHz mono WAV.
func (p *Provider) TranscribeChunk(ctx context.Context, sig audio.Signal) stt.Result {
	return p.transcribe(ctx, sig, time.Now())
}

func (p *Provider) transcribe(ctx context.Context, sig audio.Signal, started time.Time) stt.Result {
	wav := audio.WAVBytes(audio.SignalRecording(sig, stt.TargetSampleRate))
	body, err := p.infer(ctx, wav)
	if err != nil {
		return stt.Failure(p.Name(), err, started)
	}
	v, err := stt.DecodeVerbose(body)
	if err != nil {
		return stt.Failure(p.Name(), fmt.Errorf("whisper: %w", err), started)
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

// infer POSTs wav to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the raw verbose_json body.
func (p *Provider) infer(ctx context.Context, wav []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
	}
	if p.language != "" {
		fields["language"] = p.language
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	return data, nil
}
