package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/minutes/pkg/provider/embeddings"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/provider/stt"
)

// ErrProviderNotRegistered means no factory is known for a provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the table of one provider kind.
type factories[T any] struct {
	kind string
	byID map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byID: make(map[string]Factory[T])}
}

// build looks the factory up under mu and calls it without holding the lock.
func build[T any](mu *sync.RWMutex, f factories[T], entry ProviderEntry) (T, error) {
	mu.RLock()
	fn, ok := f.byID[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return fn(entry)
}

// Registry resolves the provider names used in the config file to
// constructors, one table per provider kind. It is safe for concurrent use;
// a later registration under the same name wins.
type Registry struct {
	mu         sync.RWMutex
	llm        factories[llm.Provider]
	stt        factories[stt.Provider]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		stt:        newFactories[stt.Provider]("stt"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byID[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byID[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	r.embeddings.byID[name] = f
	r.mu.Unlock()
}

// CreateLLM builds the summary model named by entry. Unknown names wrap
// [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return build(&r.mu, r.llm, entry)
}

// CreateSTT builds the remote transcriber named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return build(&r.mu, r.stt, entry)
}

// CreateEmbeddings builds the embedder named by entry.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return build(&r.mu, r.embeddings, entry)
}

// Names lists the registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.llm.kind:        slices.Sorted(maps.Keys(r.llm.byID)),
		r.stt.kind:        slices.Sorted(maps.Keys(r.stt.byID)),
		r.embeddings.kind: slices.Sorted(maps.Keys(r.embeddings.byID)),
	}
}
