package providers

import "context"

// EmbeddingProvider turns query text into a vector for the semantic index
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}
