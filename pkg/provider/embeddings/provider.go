// Package embeddings defines the Provider interface for text-embedding
// backends. The postgres store embeds each transcript on write and each
// search query on read, then ranks meetings by cosine distance.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense vectors. Every vector from one Provider has
// length Dimensions(); vectors from different models must not be compared.
type Provider interface {
	// Embed returns the vector for text, passed through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in as few calls as the backend allows. The
	// i-th result belongs to texts[i]. On error no partial result is
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length.
	Dimensions() int

	// ModelID names the embedding model, for logs.
	ModelID() string
}
