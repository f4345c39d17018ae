package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/config"
	"google.golang.org/genai"
)

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(context.Background(), &config.GenAIConfig{})
	assert.Error(t, err)

	_, err = NewClient(context.Background(), &config.GenAIConfig{UseVertex: true})
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, ClassifyError(ctx, nil))
	assert.ErrorIs(t, ClassifyError(ctx, genai.APIError{Code: 429, Message: "quota"}), providers.ErrCapacityExceeded)
	assert.ErrorIs(t, ClassifyError(ctx, genai.APIError{Code: 503}), providers.ErrBackendUnavailable)
	assert.ErrorIs(t, ClassifyError(ctx, genai.APIError{Code: 504}), providers.ErrBackendTimeout)
	assert.ErrorIs(t, ClassifyError(ctx, context.DeadlineExceeded), providers.ErrBackendTimeout)
	assert.ErrorIs(t, ClassifyError(ctx, errors.New("connection reset")), providers.ErrBackendUnavailable)

	err := ClassifyError(ctx, genai.APIError{Code: 400, Message: "bad prompt"})
	assert.Error(t, err)
	assert.False(t, providers.IsBackendFailure(err))
}
