package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/config"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

func selectorConfig() config.ReasoningConfig {
	return config.ReasoningConfig{
		DeploymentTarget: "hybrid",
		Quantization:     config.QuantizationNone,
		Backends: []config.BackendSpec{
			{Name: "remote-large", Provider: config.ProviderGenAI, Model: "medgemma-27b", SizeTier: "large", Locality: "remote"},
			{Name: "local-large-4bit", Provider: config.ProviderOllama, Model: "medgemma:27b-q4", SizeTier: "large", Locality: "local", Quantization: config.Quantization4Bit},
			{Name: "remote-small", Provider: config.ProviderOpenAI, Model: "gpt-small", SizeTier: "small", Locality: "remote", Multimodal: true},
		},
		Chains: map[string][]string{
			config.RolePharmacology: {"remote-large", "local-large-4bit", "remote-small"},
			config.RoleVision:       {"remote-large", "remote-small"},
		},
	}
}

type selectorBackends struct {
	genai, ollama, openai *mockBackend
}

func newSelector(t *testing.T) (*services.BackendSelector, selectorBackends) {
	t.Helper()
	b := selectorBackends{
		genai:  &mockBackend{name: config.ProviderGenAI},
		ollama: &mockBackend{name: config.ProviderOllama},
		openai: &mockBackend{name: config.ProviderOpenAI},
	}
	sel, err := services.NewBackendSelector(selectorConfig(), map[string]providers.ReasoningBackend{
		config.ProviderGenAI:  b.genai,
		config.ProviderOllama: b.ollama,
		config.ProviderOpenAI: b.openai,
	}, nil)
	require.NoError(t, err)
	return sel, b
}

var largeRequest = entities.CapabilityRequest{Role: entities.RolePharmacology, PreferredTier: entities.SizeLarge}

func ok(text string) *providers.StructuredResult {
	return &providers.StructuredResult{Text: text}
}

func TestBackendSelector_PrimaryServes(t *testing.T) {
	sel, b := newSelector(t)
	b.genai.On("Invoke", mock.Anything, entities.RolePharmacology, mock.Anything, mock.Anything).Return(ok("{}"), nil).Once()

	inv, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{User: "x"})

	require.NoError(t, err)
	assert.Equal(t, "remote-large", inv.Provenance.Backend)
	assert.Equal(t, "medgemma-27b", inv.Provenance.Model)
	assert.Equal(t, []string{"remote-large"}, inv.Provenance.Attempted)
	assert.False(t, inv.Provenance.ReducedCapability)
	b.ollama.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBackendSelector_FallsBackAndMarksQuantizedAsReduced(t *testing.T) {
	sel, b := newSelector(t)
	b.genai.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: quota", providers.ErrCapacityExceeded)).Once()
	b.ollama.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ok("{}"), nil).Once()

	inv, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{})

	require.NoError(t, err)
	assert.Equal(t, "local-large-4bit", inv.Provenance.Backend)
	assert.Equal(t, []string{"remote-large", "local-large-4bit"}, inv.Provenance.Attempted)
	assert.True(t, inv.Provenance.ReducedCapability)
	assert.Contains(t, inv.Provenance.ReducedReason, "quantized")
}

func TestBackendSelector_SmallerTierIsReduced(t *testing.T) {
	sel, b := newSelector(t)
	b.genai.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: down", providers.ErrBackendUnavailable)).Once()
	b.ollama.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: slow", providers.ErrBackendTimeout)).Once()
	b.openai.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ok("{}"), nil).Once()

	inv, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{})

	require.NoError(t, err)
	assert.Equal(t, "remote-small", inv.Provenance.Backend)
	assert.True(t, inv.Provenance.ReducedCapability)
	assert.Contains(t, inv.Provenance.ReducedReason, "small")
}

func TestBackendSelector_ExhaustedChainCallsEachBackendOnce(t *testing.T) {
	sel, b := newSelector(t)
	unavailable := fmt.Errorf("%w: down", providers.ErrBackendUnavailable)
	for _, m := range []*mockBackend{b.genai, b.ollama, b.openai} {
		m.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, unavailable).Once()
	}

	inv, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{})

	assert.Nil(t, inv)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNoBackendAvailable))
	assert.False(t, apperrors.IsRetryable(err))
	calls := len(b.genai.Calls) + len(b.ollama.Calls) + len(b.openai.Calls)
	assert.Equal(t, 3, calls)
}

func TestBackendSelector_ContentErrorDoesNotFallBack(t *testing.T) {
	sel, b := newSelector(t)
	contentErr := errors.New("model refused the request")
	b.genai.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, contentErr).Once()

	_, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{})

	assert.ErrorIs(t, err, contentErr)
	b.ollama.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBackendSelector_MultimodalSkipsTextOnlyBackends(t *testing.T) {
	sel, b := newSelector(t)
	b.openai.On("Invoke", mock.Anything, entities.RoleVision, mock.Anything, mock.Anything).Return(ok("{}"), nil).Once()

	inv, err := sel.Invoke(context.Background(),
		entities.CapabilityRequest{Role: entities.RoleVision, PreferredTier: entities.SizeSmall, Multimodal: true},
		providers.PromptPayload{Attachments: []providers.Attachment{{MIMEType: "image/png", Data: []byte{1}}}})

	require.NoError(t, err)
	assert.Equal(t, "remote-small", inv.Provenance.Backend)
	assert.Equal(t, []string{"remote-small"}, inv.Provenance.Attempted)
	assert.False(t, inv.Provenance.ReducedCapability)
	b.genai.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBackendSelector_UnknownRole(t *testing.T) {
	sel, _ := newSelector(t)

	_, err := sel.Invoke(context.Background(), entities.CapabilityRequest{Role: entities.RoleSafety}, providers.PromptPayload{})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNoBackendAvailable))
}

func TestBackendSelector_OpenCircuitIsSkipped(t *testing.T) {
	sel, b := newSelector(t)
	b.genai.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: down", providers.ErrBackendUnavailable)).Times(3)
	b.ollama.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(ok("{}"), nil)

	for i := 0; i < 3; i++ {
		_, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{})
		require.NoError(t, err)
	}

	var primary entities.BackendDescriptor
	for _, d := range sel.Descriptors() {
		if d.Name == "remote-large" {
			primary = d
		}
	}
	assert.False(t, primary.Healthy)
	assert.Equal(t, "open", primary.CircuitState)

	inv, err := sel.Invoke(context.Background(), largeRequest, providers.PromptPayload{})
	require.NoError(t, err)
	assert.Equal(t, []string{"local-large-4bit"}, inv.Provenance.Attempted)
	b.genai.AssertNumberOfCalls(t, "Invoke", 3)
}

func TestBackendSelector_Descriptors(t *testing.T) {
	sel, _ := newSelector(t)

	descriptors := sel.Descriptors()

	require.Len(t, descriptors, 3)
	assert.Equal(t, "local-large-4bit", descriptors[0].Name)
	assert.True(t, descriptors[0].Quantized)
	assert.True(t, descriptors[0].Healthy)
	assert.Equal(t, []string{"remote-small"}, descriptors[0].Fallbacks)
	assert.Equal(t, entities.LocalityLocal, descriptors[0].Locality)
}

func TestBackendSelector_CancelledContext(t *testing.T) {
	sel, _ := newSelector(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sel.Invoke(ctx, largeRequest, providers.PromptPayload{})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeTransientBackend))
}

func TestNewBackendSelector_RejectsUnknownChainEntry(t *testing.T) {
	cfg := selectorConfig()
	cfg.Chains[config.RoleTrend] = []string{"missing"}

	_, err := services.NewBackendSelector(cfg, nil, nil)

	assert.Error(t, err)
}

func TestNewBackendSelector_RejectsRepeatedChainEntry(t *testing.T) {
	cfg := selectorConfig()
	cfg.Chains[config.RolePharmacology] = []string{"remote-large", "remote-large"}

	_, err := services.NewBackendSelector(cfg, nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestReducedCapability(t *testing.T) {
	tests := []struct {
		name    string
		req     entities.SizeTier
		desc    entities.BackendDescriptor
		reduced bool
	}{
		{"same tier", entities.SizeMedium, entities.BackendDescriptor{SizeTier: entities.SizeMedium}, false},
		{"larger tier", entities.SizeSmall, entities.BackendDescriptor{SizeTier: entities.SizeLarge}, false},
		{"smaller tier", entities.SizeLarge, entities.BackendDescriptor{SizeTier: entities.SizeMedium}, true},
		{"quantized large", entities.SizeLarge, entities.BackendDescriptor{SizeTier: entities.SizeLarge, Quantized: true}, true},
		{"quantized medium", entities.SizeMedium, entities.BackendDescriptor{SizeTier: entities.SizeMedium, Quantized: true}, false},
		{"no preference", "", entities.BackendDescriptor{SizeTier: entities.SizeSmall}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reduced, reason := services.ReducedCapability(entities.CapabilityRequest{PreferredTier: tt.req}, tt.desc)
			assert.Equal(t, tt.reduced, reduced)
			assert.Equal(t, tt.reduced, reason != "")
		})
	}
}
