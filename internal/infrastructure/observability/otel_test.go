package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewMetrics_RecordsPipelineInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	RecordStage(ctx, metrics, "VISION", 2, 30*time.Millisecond, errors.New("boom"))
	RecordRun(ctx, metrics, "DONE", "")
	RecordBackendInvocation(ctx, metrics, "vision", "remote-medgemma-4b", nil)
	RecordBackendFallback(ctx, metrics, "vision", "remote-medgemma-4b")
	RecordReducedCapability(ctx, metrics, "trend", "remote-medgemma-4b")

	names := collect(t, reader)
	for _, want := range []string{
		"pipeline.stage.duration",
		"pipeline.stage.retries",
		"pipeline.runs",
		"reasoning.backend.invocations",
		"reasoning.backend.fallbacks",
		"reasoning.backend.reduced_capability",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestRecordHelpers_NilMetrics(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordRequestMetric(ctx, nil, "GET", "/health", 200, time.Millisecond)
		RecordDBMetric(ctx, nil, "select", time.Millisecond)
		RecordCacheHit(ctx, nil, "reference")
		RecordCacheMiss(ctx, nil, "reference")
		RecordStage(ctx, nil, "INTAKE", 1, time.Millisecond, nil)
		RecordRun(ctx, nil, "FAILED", "CANCELLED")
	})
}
