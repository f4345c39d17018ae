package providers

import (
	"context"
	"errors"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// Backend failure classes. Adapters wrap one of these with %w; any other
// error is treated as a content or request error.
var (
	ErrBackendTimeout     = errors.New("reasoning backend timed out")
	ErrBackendUnavailable = errors.New("reasoning backend unavailable")
	ErrCapacityExceeded   = errors.New("reasoning backend capacity exceeded")
)

// IsBackendFailure reports whether err should move the selector to the next backend
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrBackendTimeout) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrCapacityExceeded)
}

// Attachment is binary input for multimodal backends
type Attachment struct {
	MIMEType string
	Data     []byte
}

// PromptPayload is a provider-neutral request
type PromptPayload struct {
	System      string
	User        string
	Attachments []Attachment
	MaxTokens   int
	Temperature float32

	// JSON asks the backend for a single JSON object
	JSON bool
}

// StructuredResult is the backend response
type StructuredResult struct {
	Text   string
	Fields map[string]any
	Model  string
}

// ReasoningBackend invokes one model for a role
type ReasoningBackend interface {
	Name() string
	Invoke(ctx context.Context, role entities.BackendRole, payload PromptPayload, descriptor entities.BackendDescriptor) (*StructuredResult, error)
}

// Invocation is a result together with the backend that served it
type Invocation struct {
	Result     *StructuredResult
	Provenance entities.Provenance
}

// ReasoningInvoker picks a backend for a capability and invokes it with fallback
type ReasoningInvoker interface {
	Invoke(ctx context.Context, req entities.CapabilityRequest, payload PromptPayload) (*Invocation, error)
}
