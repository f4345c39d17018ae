package embedding

import (
	"context"
	"fmt"

	"github.com/zatekoja/amrguard/internal/domain/providers"
	genaiclient "github.com/zatekoja/amrguard/internal/infrastructure/clients/genai"
	"google.golang.org/genai"
)

// GenAIEmbedder embeds queries with a Gemini / Vertex embedding model
type GenAIEmbedder struct {
	client *genaiclient.Client
	model  string
	dims   int32
}

// NewGenAIEmbedder creates an embedder producing vectors of the given dimensionality
func NewGenAIEmbedder(client *genaiclient.Client, model string, dims int) providers.EmbeddingProvider {
	return &GenAIEmbedder{client: client, model: model, dims: int32(dims)}
}

// Name returns the provider name
func (e *GenAIEmbedder) Name() string {
	return "genai:" + e.model
}

// Embed returns the query embedding
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"}
	if e.dims > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dims)
	}

	resp, err := e.client.Models().EmbedContent(ctx, e.model, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, genaiclient.ClassifyError(ctx, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("genai returned no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}
