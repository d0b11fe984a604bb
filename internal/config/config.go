// Package config provides the configuration schema, loader, watcher, and
// provider registry for the minutes server.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// AudioSource selects where meetings are recorded from.
type AudioSource string

const (
	SourcePortAudio AudioSource = "portaudio"
	SourceDiscord   AudioSource = "discord"
	SourceFile      AudioSource = "file"
)

// IsValid reports whether s is a recognised audio source.
func (s AudioSource) IsValid() bool {
	switch s {
	case SourcePortAudio, SourceDiscord, SourceFile:
		return true
	}
	return false
}

// StoreBackend selects the record store.
type StoreBackend string

const (
	BackendPostgres StoreBackend = "postgres"
	BackendBadger   StoreBackend = "badger"
	BackendMemory   StoreBackend = "memory"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case BackendPostgres, BackendBadger, BackendMemory:
		return true
	}
	return false
}

// APIKeyEnv is consulted when api_key is empty.
const APIKeyEnv = "OPENAI_API_KEY"

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultSummaryModel      = "gpt-4-turbo"
	DefaultLocalWhisperModel = "base"
	DefaultModelDir          = "models"
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultChunkSize         = 4096
	DefaultChunkDurationMs   = 5000
	DefaultLanguage          = "en"
	DefaultLiveWorkers       = 2
	DefaultQueueSize         = 64
	DefaultBadgerDir         = "minutes-data"
	DefaultEmbeddingDims     = 1536
	DefaultMCPPath           = "/mcp"
	DefaultVADThreshold      = 0.01
	DefaultArchiveRegion     = "us-east-1"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	LLM           LLMConfig           `yaml:"llm"`
	Store         StoreConfig         `yaml:"store"`

	// Embeddings enables transcript search on the postgres store.
	Embeddings ProviderEntry `yaml:"embeddings"`

	Discord DiscordConfig `yaml:"discord"`
	MCP     MCPConfig     `yaml:"mcp"`
	Archive ArchiveConfig `yaml:"archive"`

	// APIKey is the default credential for provider entries without one.
	APIKey string `yaml:"api_key"`

	// Secrets looks up a stored key by provider name. It is consulted after
	// the configured keys and before the environment.
	Secrets func(provider string) string `yaml:"-"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string    `yaml:"listen_addr"`
	LogLevel   LogLevel  `yaml:"log_level"`
	LogFormat  LogFormat `yaml:"log_format"`
}

// AudioConfig controls capture.
type AudioConfig struct {
	Source     AudioSource `yaml:"source"`
	SampleRate int         `yaml:"sample_rate"`
	Channels   int         `yaml:"channels"`

	// ChunkSize is the number of frames the driver delivers per callback.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkDurationMs is the length of each live transcription chunk.
	ChunkDurationMs int `yaml:"chunk_duration_ms"`

	// DeviceIndex selects the input device. Nil uses the system default.
	DeviceIndex *int `yaml:"device_index"`

	// FilePath is the WAV file replayed by the file source.
	FilePath string `yaml:"file_path"`

	// QueueSize bounds the driver-to-pipeline channel.
	QueueSize int `yaml:"queue_size"`

	// AudioDir keeps recordings as <meeting-id>.wav. Empty discards them
	// after transcription.
	AudioDir string `yaml:"audio_dir"`

	// Preprocess tunes the cleanup applied to live chunks.
	Preprocess PreprocessConfig `yaml:"preprocess"`
}

// PreprocessConfig mirrors the live preprocessing knobs. Zero values use the
// built-in defaults.
type PreprocessConfig struct {
	WindowSize      int     `yaml:"window_size"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
	GateRatio       float64 `yaml:"gate_ratio"`

	// GainDB adjusts the level handed to the live transcriber, in decibels.
	GainDB float64 `yaml:"gain_db"`
}

// ChunkDuration returns ChunkDurationMs as a duration.
func (a AudioConfig) ChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}

// TranscriptionConfig selects the transcription backends.
type TranscriptionConfig struct {
	// UseLocalWhisper prefers the in-process whisper.cpp model and keeps
	// Remote as its fallback.
	UseLocalWhisper   bool   `yaml:"use_local_whisper"`
	LocalWhisperModel string `yaml:"local_whisper_model"`
	ModelDir          string `yaml:"model_dir"`

	// CPUModelPath is a quantised model tried when the accelerated model
	// fails to load.
	CPUModelPath string `yaml:"cpu_model_path"`

	Language string `yaml:"language"`

	// Remote is the hosted backend: "openai" or "whisper" (whisper-server).
	Remote ProviderEntry `yaml:"remote"`

	LiveWorkers  int     `yaml:"live_workers"`
	VADThreshold float64 `yaml:"vad_threshold"`
}

// LocalModelPath returns the ggml model file for LocalWhisperModel.
func (t TranscriptionConfig) LocalModelPath() string {
	return filepath.Join(t.ModelDir, "ggml-"+t.LocalWhisperModel+".bin")
}

// LLMConfig selects the summary model and its fallbacks.
type LLMConfig struct {
	// SummaryModel is used when Provider.Model is empty.
	SummaryModel string          `yaml:"summary_model"`
	Provider     ProviderEntry   `yaml:"provider"`
	Fallbacks    []ProviderEntry `yaml:"fallbacks"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend             StoreBackend `yaml:"backend"`
	PostgresDSN         string       `yaml:"postgres_dsn"`
	BadgerDir           string       `yaml:"badger_dir"`
	EmbeddingDimensions int          `yaml:"embedding_dimensions"`
}

// DiscordConfig is used by the discord audio source.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// MCPConfig controls the MCP tool server.
type MCPConfig struct {
	// Enabled mounts the streamable HTTP endpoint on the server.
	Enabled  bool   `yaml:"enabled"`
	HTTPPath string `yaml:"http_path"`
}

// ArchiveBackend selects where kept recordings are uploaded.
type ArchiveBackend string

const (
	ArchiveNone ArchiveBackend = ""
	ArchiveS3   ArchiveBackend = "s3"
)

// ArchiveConfig uploads finished recordings to object storage. Credentials
// come from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
type ArchiveConfig struct {
	Backend ArchiveBackend `yaml:"backend"`
	Bucket  string         `yaml:"bucket"`
	Prefix  string         `yaml:"prefix"`
	Region  string         `yaml:"region"`

	// Endpoint targets an S3-compatible service such as MinIO.
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`

	// DeleteLocal removes the WAV from audio_dir after a successful upload.
	DeleteLocal bool `yaml:"delete_local"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey falls back to [Config.APIKey] when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// ApplyDefaults fills every unset field that has a default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ListenAddr, DefaultListenAddr)
	setDefault(&c.Server.LogLevel, LogInfo)
	setDefault(&c.Server.LogFormat, LogFormatText)

	setDefault(&c.Audio.Source, SourcePortAudio)
	setDefault(&c.Audio.SampleRate, DefaultSampleRate)
	setDefault(&c.Audio.Channels, DefaultChannels)
	setDefault(&c.Audio.ChunkSize, DefaultChunkSize)
	setDefault(&c.Audio.ChunkDurationMs, DefaultChunkDurationMs)
	setDefault(&c.Audio.QueueSize, DefaultQueueSize)

	setDefault(&c.Transcription.LocalWhisperModel, DefaultLocalWhisperModel)
	setDefault(&c.Transcription.ModelDir, DefaultModelDir)
	setDefault(&c.Transcription.Language, DefaultLanguage)
	setDefault(&c.Transcription.Remote.Name, "openai")
	setDefault(&c.Transcription.LiveWorkers, DefaultLiveWorkers)
	setDefault(&c.Transcription.VADThreshold, DefaultVADThreshold)

	setDefault(&c.LLM.SummaryModel, DefaultSummaryModel)
	setDefault(&c.LLM.Provider.Name, "openai")
	setDefault(&c.LLM.Provider.Model, c.LLM.SummaryModel)

	setDefault(&c.Store.Backend, BackendBadger)
	setDefault(&c.Store.BadgerDir, DefaultBadgerDir)
	if c.Embeddings.Name != "" {
		setDefault(&c.Store.EmbeddingDimensions, DefaultEmbeddingDims)
	}

	setDefault(&c.MCP.HTTPPath, DefaultMCPPath)

	if c.Archive.Backend == ArchiveS3 {
		setDefault(&c.Archive.Region, DefaultArchiveRegion)
	}
}

// ResolveAPIKey returns the credential for e: its own key, then
// [Config.APIKey], then the key stored for e.Name in [Config.Secrets], then
// the OPENAI_API_KEY environment variable.
func (c *Config) ResolveAPIKey(e ProviderEntry) string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.Secrets != nil && e.Name != "" {
		if key := c.Secrets(e.Name); key != "" {
			return key
		}
	}
	return os.Getenv(APIKeyEnv)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
