// Package app wires the minutes subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the record
// store, the transcription and language model backends, the audio source and
// the pipeline; Serve exposes them over HTTP; Shutdown tears everything down
// in reverse order.
//
// For testing, inject doubles via functional options (WithStore, WithSource,
// WithTranscriber, WithLLM). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/minutes/internal/actionitems"
	"github.com/MrWong99/minutes/internal/archive"
	"github.com/MrWong99/minutes/internal/api"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/health"
	"github.com/MrWong99/minutes/internal/live"
	"github.com/MrWong99/minutes/internal/mcpserver"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/pipeline"
	"github.com/MrWong99/minutes/internal/resilience"
	"github.com/MrWong99/minutes/internal/summary"
	"github.com/MrWong99/minutes/pkg/audio"
	discordaudio "github.com/MrWong99/minutes/pkg/audio/discord"
	"github.com/MrWong99/minutes/pkg/audio/portaudio"
	"github.com/MrWong99/minutes/pkg/audio/preprocess"
	"github.com/MrWong99/minutes/pkg/provider/embeddings"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/provider/stt"
	"github.com/MrWong99/minutes/pkg/provider/stt/whisper"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/badger"
	"github.com/MrWong99/minutes/pkg/store/postgres"
)

// readHeaderTimeout bounds slow clients on the HTTP listener.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	version  string
	registry *config.Registry
	metrics  *observe.Metrics
	realtime bool

	// Subsystems, initialised in New and torn down in Shutdown.
	store       store.Store
	source      audio.Source
	transcriber stt.Provider
	llm         llm.Provider
	pipeline    *pipeline.Pipeline
	hub         *live.Hub
	mcp         *mcpserver.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of opening one from config. The
// caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSource injects an audio source instead of building one from config.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithTranscriber injects the transcription backend.
func WithTranscriber(p stt.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithLLM injects the language model used for summaries and action items.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces the provider registry. Defaults to one populated by
// [RegisterBuiltinProviders].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithRealtimeFile paces the file source at playback speed, which makes a
// file behave like a live device. Without it the whole file is read at once.
func WithRealtimeFile(enabled bool) Option {
	return func(a *App) { a.realtime = enabled }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers(context.Background())
		}
	}()

	// ── 1. Record store ──────────────────────────────────────────────────
	if a.store == nil {
		st, err := OpenStore(ctx, cfg, a.registry)
		if err != nil {
			return nil, fmt.Errorf("app: init store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	// ── 2. Transcription ────────────────────────────────────────────────
	if err := a.initTranscriber(); err != nil {
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	// ── 3. Language model ───────────────────────────────────────────────
	if err := a.initLLM(); err != nil {
		return nil, fmt.Errorf("app: init llm: %w", err)
	}

	// ── 4. Audio source ─────────────────────────────────────────────────
	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init audio source: %w", err)
	}

	// ── 5. Pipeline ─────────────────────────────────────────────────────
	model := cfg.LLM.Provider.Model
	pcfg := pipeline.Config{
		Source:        a.source,
		Transcriber:   a.transcriber,
		Summarizer:    summary.New(a.llm, summary.WithModel(model), summary.WithMetrics(a.metrics)),
		Extractor:     actionitems.New(a.llm, actionitems.WithModel(model), actionitems.WithMetrics(a.metrics)),
		Store:         a.store,
		Metrics:       a.metrics,
		SourceName:    string(cfg.Audio.Source),
		ChunkDuration: cfg.Audio.ChunkDuration(),
		LiveWorkers:   cfg.Transcription.LiveWorkers,
		AudioDir:      cfg.Audio.AudioDir,
		Preprocess: preprocess.Config{
			WindowSize:      cfg.Audio.Preprocess.WindowSize,
			EnergyThreshold: cfg.Audio.Preprocess.EnergyThreshold,
			GateRatio:       cfg.Audio.Preprocess.GateRatio,
			GainDB:          cfg.Audio.Preprocess.GainDB,
		},
	}
	arch, err := archive.FromConfig(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}
	if arch != nil {
		pcfg.Archiver = arch
	}
	a.pipeline = pipeline.New(pcfg)

	// ── 6. Live view ────────────────────────────────────────────────────
	a.hub = live.NewHub(live.WithSnapshot(a.pipeline.Snapshot))
	unsubscribe := a.pipeline.Subscribe(a.hub)
	a.closers = append(a.closers, func() error {
		unsubscribe()
		a.hub.Close()
		return nil
	})

	// ── 7. MCP server ───────────────────────────────────────────────────
	a.mcp = mcpserver.New(a.store, a.version)

	slog.Info("app initialised",
		"source", cfg.Audio.Source,
		"transcriber", a.transcriber.Name(),
		"store", storeName(cfg, a.store),
	)
	return a, nil
}

// OpenStore opens the record store selected by cfg.Store.Backend. For
// postgres, a configured embeddings provider enables semantic search.
func OpenStore(ctx context.Context, cfg *config.Config, reg *config.Registry) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		opts := []postgres.Option{postgres.WithEmbeddingDimensions(cfg.Store.EmbeddingDimensions)}
		if cfg.Embeddings.Name != "" {
			p, err := newEmbedder(cfg, reg)
			if err != nil {
				return nil, err
			}
			opts = append(opts, postgres.WithEmbedder(p))
		}
		return postgres.New(ctx, cfg.Store.PostgresDSN, opts...)
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return badger.Open(badger.Options{Dir: cfg.Store.BadgerDir})
	}
}

func newEmbedder(cfg *config.Config, reg *config.Registry) (embeddings.Provider, error) {
	e := cfg.Embeddings
	e.APIKey = cfg.ResolveAPIKey(e)
	if cfg.Store.EmbeddingDimensions > 0 {
		e = withOption(e, "dimensions", cfg.Store.EmbeddingDimensions)
	}
	p, err := reg.CreateEmbeddings(e)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", describe("embeddings", e), err)
	}
	return p, nil
}

// initTranscriber combines the local model and the remote service. A remote
// backend that cannot be constructed, typically for lack of an API key, is
// tolerated while the local model serves.
func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}
	tc := a.cfg.Transcription

	remoteEntry := withOption(tc.Remote, "language", tc.Language)
	remoteEntry.APIKey = a.cfg.ResolveAPIKey(remoteEntry)
	remote, remoteErr := a.registry.CreateSTT(remoteEntry)
	if remoteErr != nil {
		slog.Warn("remote transcription unavailable", "provider", describe("stt", remoteEntry), "err", remoteErr)
		remote = nil
	}

	var local LocalTranscriber
	if tc.UseLocalWhisper {
		opts := []whisper.NativeOption{
			whisper.WithNativeLanguage(tc.Language),
			whisper.WithVADThreshold(tc.VADThreshold),
		}
		if tc.CPUModelPath != "" {
			opts = append(opts, whisper.WithCPUModel(tc.CPUModelPath))
		}
		native := whisper.NewNative(tc.LocalModelPath(), opts...)
		a.closers = append(a.closers, native.Unload)
		local = native
	}

	p, err := SelectTranscriber(tc.UseLocalWhisper, local, remote, a.fallbackConfig())
	if err != nil {
		return errors.Join(err, remoteErr)
	}
	a.transcriber = p
	return nil
}

// fallbackConfig reports breaker transitions of the provider chains as
// metrics.
func (a *App) fallbackConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnTransition: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}
}

// initLLM creates the primary language model and wraps it with the
// configured fallbacks.
func (a *App) initLLM() error {
	if a.llm != nil {
		return nil
	}
	lc := a.cfg.LLM

	primary := lc.Provider
	primary.APIKey = a.cfg.ResolveAPIKey(primary)
	p, err := a.registry.CreateLLM(primary)
	if err != nil {
		return fmt.Errorf("create %s: %w", describe("llm", primary), err)
	}
	if len(lc.Fallbacks) == 0 {
		a.llm = p
		return nil
	}

	fb := resilience.NewLLMFallback(p, primary.Name, a.fallbackConfig())
	for _, e := range lc.Fallbacks {
		if e.Model == "" {
			e.Model = lc.SummaryModel
		}
		e.APIKey = a.cfg.ResolveAPIKey(e)
		fp, err := a.registry.CreateLLM(e)
		if err != nil {
			slog.Warn("skipping llm fallback", "provider", describe("llm", e), "err", err)
			continue
		}
		fb.AddFallback(e.Name, fp)
	}
	a.llm = fb
	return nil
}

// initSource builds the capture source selected by cfg.Audio.Source.
func (a *App) initSource() error {
	if a.source != nil {
		return nil
	}
	src, closeFn, err := OpenSource(a.cfg, a.realtime)
	if err != nil {
		return err
	}
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
	a.source = src
	return nil
}

// OpenSource builds the capture source selected by cfg.Audio.Source. The
// returned close function, when non-nil, releases the connection behind
// the source. realtime only affects the file source.
func OpenSource(cfg *config.Config, realtime bool) (audio.Source, func() error, error) {
	ac := cfg.Audio

	switch ac.Source {
	case config.SourceDiscord:
		dc := cfg.Discord
		session, err := discordgo.New("Bot " + dc.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("create discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		if err := session.Open(); err != nil {
			return nil, nil, fmt.Errorf("open discord session: %w", err)
		}
		opts := []discordaudio.Option{discordaudio.WithQueueSize(ac.QueueSize)}
		if dc.ChannelID != "" {
			opts = append(opts, discordaudio.WithDefaultChannel(dc.ChannelID))
		}
		return discordaudio.New(session, dc.GuildID, opts...), session.Close, nil

	case config.SourceFile:
		return audio.NewFileSource(ac.FilePath,
			audio.WithRealtime(realtime),
			audio.WithFramesPerBuffer(ac.ChunkSize),
			audio.WithFileQueueSize(ac.QueueSize),
		), nil, nil

	default:
		format := audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels}
		return portaudio.New(format,
			portaudio.WithFramesPerBuffer(ac.ChunkSize),
			portaudio.WithQueueSize(ac.QueueSize),
		), nil, nil
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the session pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Store returns the record store.
func (a *App) Store() store.Store { return a.store }

// Source returns the audio source.
func (a *App) Source() audio.Source { return a.source }

// MCP returns the MCP server over the record store.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns every HTTP route: the REST API, the live WebSocket, health
// probes, Prometheus metrics and, when enabled, the MCP endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(a.pipeline, a.source, a.store).Handler(a.metrics))
	mux.Handle("GET /ws", a.hub)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.cfg.MCP.Enabled {
		mux.Handle(a.cfg.MCP.HTTPPath, a.mcp.Handler())
	}
	health.New(
		health.StoreChecker(a.store),
		health.PipelineChecker(
			func() bool { return a.pipeline.State() == pipeline.StateError },
			func() string { return a.pipeline.Snapshot().LastError },
		),
	).Register(mux)
	return mux
}

// Serve listens on cfg.Server.ListenAddr until ctx is cancelled, then
// drains in-flight requests.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
	defer cancel()
	// Live WebSocket clients hold their connections open; close them first.
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops an active recording so it is not lost, then tears down all
// subsystems in reverse-init order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.pipeline != nil && a.pipeline.State() == pipeline.StateRecording {
			if _, err := a.pipeline.Stop(ctx); err != nil && !errors.Is(err, pipeline.ErrNotRecording) {
				slog.Warn("finalising active session failed", "err", err)
			}
		}

		shutdownErr = a.runClosers(ctx)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		default:
		}
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}

func storeName(cfg *config.Config, st store.Store) string {
	if _, ok := st.(*store.Memory); ok {
		return string(config.BackendMemory)
	}
	return string(cfg.Store.Backend)
}
