package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai", "whisper"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Empty input yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied and returns a joined error listing all failures.
// Problems that do not prevent startup are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != LogFormatText && cfg.Server.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Audio
	a := cfg.Audio
	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, discord, file", a.Source))
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.Channels < 1 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}
	if a.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d must be positive", a.ChunkSize))
	}
	if a.ChunkDurationMs < 100 {
		errs = append(errs, fmt.Errorf("audio.chunk_duration_ms %d must be at least 100", a.ChunkDurationMs))
	}
	if a.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be positive", a.QueueSize))
	}
	if a.DeviceIndex != nil && *a.DeviceIndex < 0 {
		errs = append(errs, fmt.Errorf("audio.device_index %d must not be negative", *a.DeviceIndex))
	}
	if pp := a.Preprocess; pp.WindowSize < 0 || pp.EnergyThreshold < 0 || pp.GateRatio < 0 {
		errs = append(errs, errors.New("audio.preprocess window_size, energy_threshold and gate_ratio must not be negative"))
	}
	if g := a.Preprocess.GainDB; g < -40 || g > 40 {
		errs = append(errs, fmt.Errorf("audio.preprocess.gain_db %g is out of range [-40, 40]", g))
	}
	if a.Source == SourceFile && a.FilePath == "" {
		errs = append(errs, errors.New("audio.file_path is required when audio.source is file"))
	}
	if a.Source == SourceDiscord {
		if cfg.Discord.Token == "" {
			errs = append(errs, errors.New("discord.token is required when audio.source is discord"))
		}
		if cfg.Discord.GuildID == "" {
			errs = append(errs, errors.New("discord.guild_id is required when audio.source is discord"))
		}
	}

	// Transcription
	t := cfg.Transcription
	if t.LiveWorkers < 1 {
		errs = append(errs, fmt.Errorf("transcription.live_workers %d must be positive", t.LiveWorkers))
	}
	if t.VADThreshold < 0 || t.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcription.vad_threshold %.3f is out of range [0, 1]", t.VADThreshold))
	}
	if t.Remote.Name == "whisper" && t.Remote.BaseURL == "" {
		errs = append(errs, errors.New("transcription.remote.base_url is required for the whisper server backend"))
	}
	validateProviderName("stt", t.Remote.Name)

	// LLM
	validateProviderName("llm", cfg.LLM.Provider.Name)
	for i, fb := range cfg.LLM.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("llm.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	// Store
	switch cfg.Store.Backend {
	case BackendPostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
		}
	case BackendBadger, BackendMemory:
		if cfg.Embeddings.Name != "" {
			slog.Warn("embeddings are only used by the postgres store; transcript search is disabled",
				"backend", cfg.Store.Backend)
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: postgres, badger, memory", cfg.Store.Backend))
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}
	validateProviderName("embeddings", cfg.Embeddings.Name)

	// MCP
	if !strings.HasPrefix(cfg.MCP.HTTPPath, "/") {
		errs = append(errs, fmt.Errorf("mcp.http_path %q must start with /", cfg.MCP.HTTPPath))
	}

	// Archive
	switch cfg.Archive.Backend {
	case ArchiveNone:
	case ArchiveS3:
		if cfg.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required when archive.backend is s3"))
		}
		if cfg.Audio.AudioDir == "" {
			errs = append(errs, errors.New("audio.audio_dir is required when archive.backend is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is invalid; valid values: s3", cfg.Archive.Backend))
	}

	// Credentials
	if usesOpenAI(cfg) && cfg.APIKey == "" && os.Getenv(APIKeyEnv) == "" {
		slog.Warn("no api_key configured and " + APIKeyEnv + " is unset; OpenAI requests need a key stored with 'minutes auth set-key openai'")
	}

	return errors.Join(errs...)
}

func usesOpenAI(cfg *Config) bool {
	entries := append([]ProviderEntry{cfg.LLM.Provider, cfg.Transcription.Remote, cfg.Embeddings}, cfg.LLM.Fallbacks...)
	for _, e := range entries {
		if e.Name == "openai" && e.APIKey == "" {
			return true
		}
	}
	return false
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
