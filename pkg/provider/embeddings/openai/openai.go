// Package openai provides an embeddings provider on the OpenAI embeddings
// API, or any service that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/minutes/pkg/provider/embeddings"
)

// DefaultModel is used when New is given an empty model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxBatch is the most inputs the API accepts in one request.
const maxBatch = 2048

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	dims   int

	// shrink is set when dims was chosen by the caller and must be sent to
	// the API. Only the text-embedding-3 family supports it.
	shrink bool
}

type config struct {
	baseURL string
	timeout time.Duration
	dims    int
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions asks the model for vectors of length n, so they fit a
// pgvector column created with that size.
func WithDimensions(n int) Option {
	return func(c *config) { c.dims = n }
}

// New constructs a Provider. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	p := &Provider{client: oai.NewClient(reqOpts...), model: model, dims: modelDimensions(model)}
	if cfg.dims > 0 && cfg.dims != p.dims {
		if !strings.HasPrefix(strings.ToLower(model), "text-embedding-3") {
			return nil, fmt.Errorf("openai embeddings: model %q does not support custom dimensions", model)
		}
		p.dims = cfg.dims
		p.shrink = true
	}
	return p, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.call(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into requests of at most 2048 inputs.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += maxBatch {
		end := min(i+maxBatch, len(texts))
		vecs, err := p.call(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: embed batch [%d:%d]: %w", i, end, err)
		}
		copy(out[i:], vecs)
	}
	return out, nil
}

func (p *Provider) Dimensions() int { return p.dims }

func (p *Provider) ModelID() string { return p.model }

func (p *Provider) call(ctx context.Context, texts []string) ([][]float32, error) {
	params := oai.EmbeddingNewParams{
		Model:          p.model,
		Input:          oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.shrink {
		params.Dimensions = oai.Int(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return collect(resp.Data, len(texts))
}

// collect orders the response by index and checks every input got a vector.
func collect(data []oai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(data))
	}
	out := make([][]float32, n)
	for _, e := range data {
		if e.Index < 0 || int(e.Index) >= n {
			return nil, fmt.Errorf("unexpected index %d", e.Index)
		}
		out[e.Index] = toFloat32(e.Embedding)
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}

func modelDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	return 1536
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
