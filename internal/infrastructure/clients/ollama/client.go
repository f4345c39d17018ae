package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/config"
)

// Client talks to a local Ollama server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Ollama client
func NewClient(cfg *config.OllamaConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

// GenerateRequest is the /api/generate body
type GenerateRequest struct {
	Model   string                 `json:"model"`
	System  string                 `json:"system,omitempty"`
	Prompt  string                 `json:"prompt"`
	Images  []string               `json:"images,omitempty"`
	Format  string                 `json:"format,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// EncodeImage encodes raw image bytes for the images field
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Generate runs a non-streaming completion and returns the response text
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	req.Stream = false
	var out generateResponse
	if err := c.post(ctx, "/api/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per input text
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var out embedResponse
	if err := c.post(ctx, "/api/embed", embedRequest{Model: model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return fmt.Errorf("%w: %v", providers.ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", providers.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch {
		case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
			// Ollama answers 503 when its request queue is full
			return fmt.Errorf("%w: ollama status %d: %s", providers.ErrCapacityExceeded, resp.StatusCode, msg)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: ollama status %d: %s", providers.ErrBackendUnavailable, resp.StatusCode, msg)
		case resp.StatusCode == http.StatusNotFound:
			// model not pulled on this host
			return fmt.Errorf("%w: ollama status %d: %s", providers.ErrBackendUnavailable, resp.StatusCode, msg)
		default:
			return fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, msg)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return nil
}
