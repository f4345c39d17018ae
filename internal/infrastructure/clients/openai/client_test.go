package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&config.OpenAIConfig{APIKey: "test", BaseURL: srv.URL, RateLimitRPM: -1})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(&config.OpenAIConfig{})
	assert.Error(t, err)
}

func TestRespond_ReturnsOutputText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		_, _ = w.Write([]byte(`{"output":[{"content":[{"type":"output_text","text":"{\"ok\":true}"}]}]}`))
	})

	text, err := client.Respond(context.Background(), Request{System: "s", User: "u", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
}

func TestRespond_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, providers.ErrCapacityExceeded},
		{http.StatusBadGateway, providers.ErrBackendUnavailable},
		{http.StatusGatewayTimeout, providers.ErrBackendTimeout},
	}
	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := client.Respond(context.Background(), Request{User: "u"})
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestRespond_ClientErrorIsNotBackendFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := client.Respond(context.Background(), Request{User: "u"})
	require.Error(t, err)
	assert.False(t, providers.IsBackendFailure(err))
}

func TestRespond_MissingOutputText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[]}`))
	})
	_, err := client.Respond(context.Background(), Request{User: "u"})
	assert.Error(t, err)
}
