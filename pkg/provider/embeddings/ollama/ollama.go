// Package ollama provides an embeddings provider on a local Ollama server,
// for installs that keep transcripts off third-party APIs.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/minutes/pkg/provider/embeddings"
)

// DefaultBaseURL is where a local Ollama listens by default.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with Ollama's /api/embed.
//
// The vector length comes from WithDimensions, else from a table of common
// models, else from one probe request on the first Dimensions call.
type Provider struct {
	client *api.Client
	model  string

	mu   sync.Mutex
	dims int
}

type config struct {
	timeout time.Duration
	dims    int
}

// Option configures a Provider.
type Option func(*config)

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions fixes the vector length and skips detection.
func WithDimensions(n int) Option {
	return func(c *config) { c.dims = n }
}

// New connects to the server at baseURL (DefaultBaseURL when empty).
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: parse base URL: %w", err)
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	httpClient := &http.Client{Timeout: cfg.timeout}

	dims := cfg.dims
	if dims == 0 {
		dims = knownDimensions(model)
	}
	return &Provider{client: api.NewClient(base, httpClient), model: model, dims: dims}, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.call(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts in one request. Empty input makes no request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.call(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

// Dimensions returns the vector length, probing the server once if the
// model is unknown. It returns 0 while the server is unreachable.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if vecs, err := p.call(ctx, []string{"probe"}); err == nil {
			p.dims = len(vecs[0])
		}
	}
	return p.dims
}

func (p *Provider) ModelID() string { return p.model }

func (p *Provider) call(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
