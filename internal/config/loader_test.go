package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/minutes/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string // substrings; nil means valid
	}{
		{
			name: "memory store",
			yaml: "store:\n  backend: memory\n",
		},
		{
			name: "file source",
			yaml: "audio:\n  source: file\n  file_path: meeting.wav\n",
		},
		{
			name: "discord source",
			yaml: "audio:\n  source: discord\ndiscord:\n  token: abc\n  guild_id: \"123\"\n",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "bad log format",
			yaml:    "server:\n  log_format: xml\n",
			wantErr: []string{"server.log_format"},
		},
		{
			name:    "bad source",
			yaml:    "audio:\n  source: jack\n",
			wantErr: []string{"audio.source"},
		},
		{
			name:    "file source without path",
			yaml:    "audio:\n  source: file\n",
			wantErr: []string{"audio.file_path"},
		},
		{
			name:    "discord without credentials",
			yaml:    "audio:\n  source: discord\n",
			wantErr: []string{"discord.token", "discord.guild_id"},
		},
		{
			name:    "format out of range",
			yaml:    "audio:\n  sample_rate: 1000\n  channels: 6\n",
			wantErr: []string{"audio.sample_rate", "audio.channels"},
		},
		{
			name:    "tiny chunks",
			yaml:    "audio:\n  chunk_duration_ms: 20\n",
			wantErr: []string{"audio.chunk_duration_ms"},
		},
		{
			name: "preprocess gain",
			yaml: "audio:\n  preprocess:\n    gain_db: -6\n    window_size: 1024\n",
		},
		{
			name:    "preprocess out of range",
			yaml:    "audio:\n  preprocess:\n    gain_db: 60\n    gate_ratio: -1\n",
			wantErr: []string{"audio.preprocess.gain_db", "audio.preprocess window_size"},
		},
		{
			name:    "negative device",
			yaml:    "audio:\n  device_index: -1\n",
			wantErr: []string{"audio.device_index"},
		},
		{
			name:    "vad threshold",
			yaml:    "transcription:\n  vad_threshold: 2\n",
			wantErr: []string{"transcription.vad_threshold"},
		},
		{
			name: "s3 archive",
			yaml: "audio:\n  audio_dir: recordings\narchive:\n  backend: s3\n  bucket: meetings\n",
		},
		{
			name:    "s3 archive without bucket or audio dir",
			yaml:    "archive:\n  backend: s3\n",
			wantErr: []string{"archive.bucket", "audio.audio_dir"},
		},
		{
			name:    "unknown archive backend",
			yaml:    "archive:\n  backend: ftp\n",
			wantErr: []string{"archive.backend"},
		},
		{
			name:    "whisper server without url",
			yaml:    "transcription:\n  remote:\n    name: whisper\n",
			wantErr: []string{"transcription.remote.base_url"},
		},
		{
			name:    "unnamed fallback",
			yaml:    "llm:\n  fallbacks:\n    - model: x\n",
			wantErr: []string{"llm.fallbacks[0].name"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "store:\n  backend: postgres\n",
			wantErr: []string{"store.postgres_dsn"},
		},
		{
			name:    "bad backend",
			yaml:    "store:\n  backend: sqlite\n",
			wantErr: []string{"store.backend"},
		},
		{
			name:    "relative mcp path",
			yaml:    "mcp:\n  http_path: mcp\n",
			wantErr: []string{"mcp.http_path"},
		},
		{
			name:    "errors are joined",
			yaml:    "server:\n  log_level: loud\nstore:\n  backend: postgres\n",
			wantErr: []string{"server.log_level", "store.postgres_dsn"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v", tc.wantErr)
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}
