package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/config"
	"google.golang.org/genai"
)

// Client wraps the Google GenAI SDK for either the Gemini API or Vertex AI
type Client struct {
	client *genai.Client
}

// NewClient creates a GenAI client. Vertex mode authenticates with
// application default credentials; otherwise an API key is required.
func NewClient(ctx context.Context, cfg *config.GenAIConfig) (*Client, error) {
	cc := &genai.ClientConfig{
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
	if cfg.UseVertex {
		if cfg.Project == "" {
			return nil, errors.New("GOOGLE_CLOUD_PROJECT is required for Vertex AI")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("GOOGLE_API_KEY is required")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	log.Info().Bool("vertex", cfg.UseVertex).Msg("GenAI client initialized")
	return &Client{client: client}, nil
}

// Models exposes the generate and embed endpoints
func (c *Client) Models() *genai.Models {
	return c.client.Models
}

// ClassifyError maps SDK errors onto the reasoning backend sentinels
func ClassifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %v", providers.ErrBackendTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", providers.ErrCapacityExceeded, apiErr.Message)
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", providers.ErrBackendTimeout, apiErr.Message)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %s", providers.ErrBackendUnavailable, apiErr.Message)
		default:
			return fmt.Errorf("genai request failed with status %d: %s", apiErr.Code, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", providers.ErrBackendUnavailable, err)
}
