package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/api/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return exporter
}

func attributeValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestObservabilityMiddleware_NamesSpanAfterMatchedRoute(t *testing.T) {
	exporter := recordSpans(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/cases/{runID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	// logging copies the request between the span and the mux
	handler := middleware.ObservabilityMiddleware(nil)(middleware.LoggingMiddleware(middleware.CaptureRoute(mux)))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/cases/r-42", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/cases/{runID}", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	runID, ok := attributeValue(spans[0].Attributes, "amrguard.run_id")
	require.True(t, ok)
	assert.Equal(t, "r-42", runID)
	route, _ := attributeValue(spans[0].Attributes, "http.route")
	assert.Equal(t, "GET /api/v1/cases/{runID}", route)
}

func TestObservabilityMiddleware_UnmatchedRoute(t *testing.T) {
	exporter := recordSpans(t)
	handler := middleware.ObservabilityMiddleware(nil)(middleware.CaptureRoute(http.NewServeMux()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cases/r-42/unknown", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET unmatched", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	_, ok := attributeValue(spans[0].Attributes, "amrguard.run_id")
	assert.False(t, ok)
}
