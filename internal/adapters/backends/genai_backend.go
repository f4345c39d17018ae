package backends

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	genaiclient "github.com/zatekoja/amrguard/internal/infrastructure/clients/genai"
	"github.com/zatekoja/amrguard/pkg/config"
	"google.golang.org/genai"
)

// GenAIBackend serves remote models through the Gemini API or Vertex AI
type GenAIBackend struct {
	client *genaiclient.Client
}

// NewGenAIBackend creates a remote reasoning backend
func NewGenAIBackend(client *genaiclient.Client) *GenAIBackend {
	return &GenAIBackend{client: client}
}

// Name returns the catalog provider this backend serves
func (b *GenAIBackend) Name() string {
	return config.ProviderGenAI
}

// Invoke sends the prompt and any attachments as one user turn
func (b *GenAIBackend) Invoke(ctx context.Context, _ entities.BackendRole, payload providers.PromptPayload, descriptor entities.BackendDescriptor) (*providers.StructuredResult, error) {
	parts := []*genai.Part{genai.NewPartFromText(payload.User)}
	for _, a := range payload.Attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(payload.Temperature),
	}
	if payload.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(payload.System, genai.RoleUser)
	}
	if payload.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(payload.MaxTokens)
	}
	if payload.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := b.client.Models().GenerateContent(ctx, descriptor.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, genaiclient.ClassifyError(ctx, err)
	}
	return structured(resp.Text(), descriptor.Model, payload)
}
