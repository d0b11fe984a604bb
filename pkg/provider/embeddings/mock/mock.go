// Package mock provides a test double for [embeddings.Provider].
//
//	p := &mock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/minutes/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider returns canned vectors and records the texts it was asked to
// embed. Set fields before use; read records through the accessor methods.
type Provider struct {
	// EmbedFunc, when set, computes Embed results and overrides EmbedResult
	// and EmbedErr.
	EmbedFunc func(text string) ([]float32, error)

	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult is returned by EmbedBatch. When nil, EmbedBatch calls
	// Embed once per text.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	mu    sync.Mutex
	texts []string
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	fn, res, err := p.EmbedFunc, p.EmbedResult, p.EmbedErr
	p.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return res, err
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		p.mu.Lock()
		p.texts = append(p.texts, texts...)
		p.mu.Unlock()
		return p.EmbedBatchResult, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }

// Texts returns every text embedded so far, in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.texts)
}

// Reset forgets the recorded texts.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = nil
}
