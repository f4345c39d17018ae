package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/ollama"
	"github.com/zatekoja/amrguard/pkg/config"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Carbapenem-resistant Enterobacterales")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "carbapenem resistant enterobacterales")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)

	empty, err := e.Embed(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,0,0]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(ollama.NewClient(&config.OllamaConfig{BaseURL: srv.URL}), "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.Equal(t, "ollama:nomic-embed-text", e.Name())
}
