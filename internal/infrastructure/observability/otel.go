package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/amrguard"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount      metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	DBQueryDuration   metric.Float64Histogram
	CacheHitCount     metric.Int64Counter
	CacheMissCount    metric.Int64Counter
	StageDuration     metric.Float64Histogram
	StageRetries      metric.Int64Counter
	RunsCompleted     metric.Int64Counter
	BackendInvokes    metric.Int64Counter
	BackendFallbacks  metric.Int64Counter
	ReducedCapability metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing and metrics export
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		_ = tracerProvider.Shutdown(ctx)
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(instrumentationName))
}

// NewMetrics creates the instrument set on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.RequestCount, "http.server.request.count", "Number of HTTP requests"},
		{&m.CacheHitCount, "cache.hit.count", "Number of cache hits"},
		{&m.CacheMissCount, "cache.miss.count", "Number of cache misses"},
		{&m.StageRetries, "pipeline.stage.retries", "Number of stage retries"},
		{&m.RunsCompleted, "pipeline.runs", "Number of pipeline runs by terminal state"},
		{&m.BackendInvokes, "reasoning.backend.invocations", "Number of reasoning backend invocations"},
		{&m.BackendFallbacks, "reasoning.backend.fallbacks", "Number of fallbacks to the next backend in a chain"},
		{&m.ReducedCapability, "reasoning.backend.reduced_capability", "Number of results served by a lesser backend"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.RequestDuration, "http.server.request.duration", "HTTP request duration in milliseconds"},
		{&m.DBQueryDuration, "db.query.duration", "Database query duration in milliseconds"},
		{&m.StageDuration, "pipeline.stage.duration", "Pipeline stage duration in milliseconds"},
	}
	for _, h := range histograms {
		if *h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms")); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records an HTTP request
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDBMetric records a database operation metric
func RecordDBMetric(ctx context.Context, metrics *Metrics, operation string, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
	}
	metrics.DBQueryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCacheHit records a cache hit
func RecordCacheHit(ctx context.Context, metrics *Metrics, keyspace string) {
	if metrics == nil {
		return
	}
	metrics.CacheHitCount.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.keyspace", keyspace)))
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(ctx context.Context, metrics *Metrics, keyspace string) {
	if metrics == nil {
		return
	}
	metrics.CacheMissCount.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.keyspace", keyspace)))
}

// RecordStage records one stage attempt
func RecordStage(ctx context.Context, metrics *Metrics, stage string, attempt int, duration time.Duration, err error) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("pipeline.stage", stage),
		attribute.Bool("pipeline.stage.error", err != nil),
	)
	metrics.StageDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if attempt > 1 {
		metrics.StageRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline.stage", stage)))
	}
}

// RecordRun records a run reaching a terminal state
func RecordRun(ctx context.Context, metrics *Metrics, state, failureType string) {
	if metrics == nil {
		return
	}
	metrics.RunsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline.state", state),
		attribute.String("pipeline.failure_type", failureType),
	))
}

// RecordBackendInvocation records one backend call made by the selector
func RecordBackendInvocation(ctx context.Context, metrics *Metrics, role, backend string, err error) {
	if metrics == nil {
		return
	}
	metrics.BackendInvokes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reasoning.role", role),
		attribute.String("reasoning.backend", backend),
		attribute.Bool("reasoning.error", err != nil),
	))
}

// RecordBackendFallback records the selector moving past a failed backend
func RecordBackendFallback(ctx context.Context, metrics *Metrics, role, from string) {
	if metrics == nil {
		return
	}
	metrics.BackendFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reasoning.role", role),
		attribute.String("reasoning.backend", from),
	))
}

// RecordReducedCapability records a result served below the requested tier
func RecordReducedCapability(ctx context.Context, metrics *Metrics, role, backend string) {
	if metrics == nil {
		return
	}
	metrics.ReducedCapability.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reasoning.role", role),
		attribute.String("reasoning.backend", backend),
	))
}
