package whisper_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt/whisper"
)

const verboseBody = `{
  "text": " Hello team. Let's start.",
  "language": "en",
  "duration": 2.5,
  "segments": [
    {"id": 1, "start": 1.2, "end": 2.5, "text": " Let's start.", "words": []},
    {"id": 0, "start": 0.0, "end": 1.2, "text": " Hello team.",
     "words": [{"word": " Hello", "start": 0.0, "end": 0.5}, {"word": " team.", "start": 0.5, "end": 1.2}]}
  ]
}`

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected an error for an empty server URL")
	}
}

func TestProvider_TranscribeChunk(t *testing.T) {
	t.Parallel()

	var gotFields map[string]string
	var gotWAV []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotWAV, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, verboseBody)
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL, whisper.WithLanguage("de"), whisper.WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := audio.Signal{Samples: make([]float32, 48000), SampleRate: 48000}
	res := p.TranscribeChunk(context.Background(), sig)
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	if gotFields["response_format"] != "verbose_json" {
		t.Errorf("response_format = %q", gotFields["response_format"])
	}
	if gotFields["language"] != "de" || gotFields["model"] != "base" {
		t.Errorf("fields = %v", gotFields)
	}
	rec, err := audio.ReadWAV(bytes.NewReader(gotWAV))
	if err != nil {
		t.Fatalf("uploaded file is not a WAV: %v", err)
	}
	if rec.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("uploaded format = %v, want 16000Hz mono", rec.Format)
	}

	if res.Text != "Hello team. Let's start." {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Segments) != 2 || res.Segments[0].Start != 0 {
		t.Fatalf("segments not sorted: %+v", res.Segments)
	}
	if len(res.Segments[0].Words) != 2 || res.Segments[0].Words[0].Word != "Hello" {
		t.Errorf("words = %+v", res.Segments[0].Words)
	}
	if res.Backend != "whisper-server" || res.Language != "en" {
		t.Errorf("Backend = %q, Language = %q", res.Backend, res.Language)
	}
}

func TestProvider_TranscribeFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"text": "just text"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "in.wav")
	rec := audio.Recording{Format: audio.Format{SampleRate: 16000, Channels: 1}, Data: make([]byte, 32000)}
	if err := audio.WriteWAVFile(path, rec); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	p, _ := whisper.New(srv.URL)
	res := p.TranscribeFile(context.Background(), path)
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Text != "just text" || len(res.Segments) != 1 {
		t.Errorf("res = %+v", res)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want configured default en", res.Language)
	}
	if res.Duration.Seconds() != 1 {
		t.Errorf("Duration = %v, want 1s from the signal", res.Duration)
	}
}

func TestProvider_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			wantErr: "HTTP 500",
		},
		{
			name: "invalid body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "<html>")
			},
			wantErr: "decode",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			p, _ := whisper.New(srv.URL)
			res := p.TranscribeChunk(context.Background(), audio.Signal{Samples: make([]float32, 1600), SampleRate: 16000})
			if !res.Failed() {
				t.Fatal("expected a failed result")
			}
			if !strings.Contains(res.Error, tc.wantErr) {
				t.Errorf("Error = %q, want it to contain %q", res.Error, tc.wantErr)
			}
			if res.Text != "" || len(res.Segments) != 0 {
				t.Errorf("failed result carries content: %+v", res)
			}
		})
	}
}

func TestProvider_MissingFile(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	res := p.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if !res.Failed() {
		t.Fatal("expected a failed result for a missing file")
	}
}
