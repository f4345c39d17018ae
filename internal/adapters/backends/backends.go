package backends

import (
	"fmt"

	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/utils"
)

// Registry resolves a catalog provider name to the backend that serves it
type Registry map[string]providers.ReasoningBackend

// NewRegistry indexes backends by Name
func NewRegistry(backends ...providers.ReasoningBackend) Registry {
	r := make(Registry, len(backends))
	for _, b := range backends {
		if b != nil {
			r[b.Name()] = b
		}
	}
	return r
}

// For returns the backend for a provider
func (r Registry) For(provider string) (providers.ReasoningBackend, bool) {
	b, ok := r[provider]
	return b, ok
}

// structured builds the result, decoding JSON when the payload asked for it.
// Malformed JSON is a content error and is not reported as a backend failure.
func structured(text, model string, payload providers.PromptPayload) (*providers.StructuredResult, error) {
	result := &providers.StructuredResult{Text: text, Model: model}
	if !payload.JSON {
		return result, nil
	}
	fields, err := utils.ExtractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model, err)
	}
	result.Fields = fields
	return result, nil
}
