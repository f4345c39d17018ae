package backends

import (
	"context"
	"fmt"
	"strings"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/ollama"
	"github.com/zatekoja/amrguard/pkg/config"
)

// OllamaBackend serves local, possibly quantized, models
type OllamaBackend struct {
	client *ollama.Client
}

// NewOllamaBackend creates a local reasoning backend
func NewOllamaBackend(client *ollama.Client) *OllamaBackend {
	return &OllamaBackend{client: client}
}

// Name returns the catalog provider this backend serves
func (b *OllamaBackend) Name() string {
	return config.ProviderOllama
}

// Invoke runs a non-streaming generation. Only image attachments are
// accepted; other document types are reported as unavailable here.
func (b *OllamaBackend) Invoke(ctx context.Context, _ entities.BackendRole, payload providers.PromptPayload, descriptor entities.BackendDescriptor) (*providers.StructuredResult, error) {
	req := ollama.GenerateRequest{
		Model:   descriptor.Model,
		System:  payload.System,
		Prompt:  payload.User,
		Options: map[string]interface{}{"temperature": payload.Temperature},
	}
	if payload.MaxTokens > 0 {
		req.Options["num_predict"] = payload.MaxTokens
	}
	if payload.JSON {
		req.Format = "json"
	}
	for _, a := range payload.Attachments {
		if !strings.HasPrefix(a.MIMEType, "image/") {
			return nil, fmt.Errorf("%w: ollama backend cannot read %s attachments", providers.ErrBackendUnavailable, a.MIMEType)
		}
		req.Images = append(req.Images, ollama.EncodeImage(a.Data))
	}

	text, err := b.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return structured(text, descriptor.Model, payload)
}
