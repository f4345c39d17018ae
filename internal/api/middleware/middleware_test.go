package middleware_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/adapters/cache"
	"github.com/zatekoja/amrguard/internal/api/middleware"
)

func countingHandler(calls *int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestCacheMiddleware_ServesReferenceHits(t *testing.T) {
	calls := 0
	version := "2025.1"
	m := middleware.NewCacheMiddleware(cache.NewMemoryAdapter(), func() string { return version }, 60, nil)
	handler := m.Middleware(countingHandler(&calls, `{"count":1}`))

	for i, want := range []string{"MISS", "HIT"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/reference/antibiotics?tier=ACCESS", nil))
		assert.Equal(t, want, w.Header().Get("X-Cache"), "request %d", i)
		assert.JSONEq(t, `{"count":1}`, w.Body.String())
	}
	assert.Equal(t, 1, calls)

	// a new snapshot version never reuses the old entries
	version = "2025.2"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/reference/antibiotics?tier=ACCESS", nil))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestCacheMiddleware_SkipsOtherRoutes(t *testing.T) {
	calls := 0
	m := middleware.NewCacheMiddleware(cache.NewMemoryAdapter(), nil, 60, nil)
	handler := m.Middleware(countingHandler(&calls, `{}`))

	requests := []*http.Request{
		httptest.NewRequest("GET", "/api/v1/cases/r1", nil),
		httptest.NewRequest("GET", "/api/v1/cases/r1", nil),
		httptest.NewRequest("POST", "/api/v1/reference/antibiotics", nil),
		httptest.NewRequest("POST", "/api/v1/reference/antibiotics", nil),
	}
	for _, req := range requests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("X-Cache"))
	}
	assert.Equal(t, 4, calls)
}

func TestCacheMiddleware_DoesNotCacheErrors(t *testing.T) {
	calls := 0
	m := middleware.NewCacheMiddleware(cache.NewMemoryAdapter(), nil, 60, nil)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mic must be a number"}`))
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/reference/breakpoints/interpret?mic=x", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestCacheMiddleware_ZeroTTLDisables(t *testing.T) {
	calls := 0
	handler := middleware.NewCacheMiddleware(cache.NewMemoryAdapter(), nil, 0, nil).Middleware(countingHandler(&calls, `{}`))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/reference/antibiotics", nil))
	}
	assert.Equal(t, 2, calls)
}

func TestCORSMiddleware(t *testing.T) {
	calls := 0
	handler := middleware.CORSMiddleware([]string{"https://ward.example.org"})(countingHandler(&calls, `{}`))

	req := httptest.NewRequest("GET", "/api/v1/backends", nil)
	req.Header.Set("Origin", "https://ward.example.org")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "https://ward.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest("GET", "/api/v1/backends", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/v1/cases/run", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, calls)
}

func TestCORSMiddleware_DefaultsToWildcard(t *testing.T) {
	handler := middleware.CORSMiddleware(nil)(http.NotFoundHandler())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var seen bool
	handler := middleware.LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.True(t, seen)
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Len(t, w.Header().Get(middleware.RequestIDHeader), 36)
}

func TestResponseOptimization_CompressesAndTags(t *testing.T) {
	body := `{"evidence":[],"count":0,"snapshot_version":"2025.1"}`
	handler := middleware.ResponseOptimization(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))

	req := httptest.NewRequest("GET", "/api/v1/reference/antibiotics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "public, max-age=300, must-revalidate", w.Header().Get("Cache-Control"))
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))

	req = httptest.NewRequest("GET", "/api/v1/reference/antibiotics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestResponseOptimization_LeavesStreamsAlone(t *testing.T) {
	handler := middleware.ResponseOptimization(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: connected\ndata: {}\n\n"))
		w.(http.Flusher).Flush()
	}))

	req := httptest.NewRequest("GET", "/api/v1/cases/r1/events", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Empty(t, w.Header().Get("ETag"))
	assert.Equal(t, "private, no-store", w.Header().Get("Cache-Control"))
	assert.True(t, w.Flushed)
	assert.Contains(t, w.Body.String(), "event: connected")
}
