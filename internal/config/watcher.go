package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] rereads its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher rereads a config file on an interval. When the bytes change and
// still parse into a valid [Config], onChange runs with the old and new
// values. A broken edit is logged and ignored until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current  *Config
	digest   [sha256.Size]byte
	rejected [sha256.Size]byte // last content that failed to load

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path, failing if it is missing or invalid, and then
// watches it until Stop. onChange may be nil and runs on the watch
// goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, digest, err := loadDigest(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.digest = cfg, digest

	go w.run()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching and waits for a running onChange. Calling it from
// onChange deadlocks.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config: cannot read watched file", "path", w.path, "err", err)
		return
	}
	digest := sha256.Sum256(data)

	w.mu.Lock()
	seen := digest == w.digest || digest == w.rejected
	w.mu.Unlock()
	if seen {
		return
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	w.mu.Lock()
	if err != nil {
		w.rejected = digest
		w.mu.Unlock()
		slog.Warn("config: keeping previous config", "path", w.path, "err", err)
		return
	}
	old := w.current
	w.current, w.digest = cfg, digest
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func loadDigest(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}

// OnReload returns a watcher callback that applies log level changes to lv
// and logs every section whose change waits for the next session or restart.
func OnReload(lv *slog.LevelVar) func(old, new *Config) {
	return func(old, new *Config) {
		d := Diff(old, new)
		if d.LogLevelChanged {
			lv.Set(d.NewLogLevel.Level())
			slog.Info("config: log level changed", "level", d.NewLogLevel)
		}
		if len(d.Deferred) > 0 {
			slog.Info("config: changes apply to the next session or restart", "sections", d.Deferred)
		}
	}
}
