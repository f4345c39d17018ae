package embedding

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/ollama"
)

// OllamaEmbedder embeds queries with a local Ollama model
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbedder creates a local embedder
func NewOllamaEmbedder(client *ollama.Client, model string) providers.EmbeddingProvider {
	return &OllamaEmbedder{client: client, model: model}
}

// Name returns the provider name
func (e *OllamaEmbedder) Name() string {
	return "ollama:" + e.model
}

// Embed returns the query embedding
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
