package backends

import (
	"context"
	"fmt"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	openaiclient "github.com/zatekoja/amrguard/internal/infrastructure/clients/openai"
	"github.com/zatekoja/amrguard/pkg/config"
)

// OpenAIBackend serves text-only roles through the OpenAI responses API
type OpenAIBackend struct {
	client *openaiclient.Client
}

// NewOpenAIBackend creates a remote text backend
func NewOpenAIBackend(client *openaiclient.Client) *OpenAIBackend {
	return &OpenAIBackend{client: client}
}

// Name returns the catalog provider this backend serves
func (b *OpenAIBackend) Name() string {
	return config.ProviderOpenAI
}

// Invoke sends the prompt. Attachments are refused as unavailable so the
// selector moves on to a multimodal backend.
func (b *OpenAIBackend) Invoke(ctx context.Context, _ entities.BackendRole, payload providers.PromptPayload, _ entities.BackendDescriptor) (*providers.StructuredResult, error) {
	if len(payload.Attachments) > 0 {
		return nil, fmt.Errorf("%w: openai backend does not accept attachments", providers.ErrBackendUnavailable)
	}

	text, err := b.client.Respond(ctx, openaiclient.Request{
		System:      payload.System,
		User:        payload.User,
		Temperature: float64(payload.Temperature),
		MaxTokens:   payload.MaxTokens,
		JSON:        payload.JSON,
	})
	if err != nil {
		return nil, err
	}
	return structured(text, b.client.Model(), payload)
}
