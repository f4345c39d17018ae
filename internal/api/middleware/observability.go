package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const unmatchedRoute = "unmatched"

type routeKey struct{}

// matchedRoute is filled by CaptureRoute after the mux has dispatched
type matchedRoute struct {
	pattern string
	runID   string
}

// CaptureRoute must wrap the mux directly. Outer middleware hand the mux a
// copy of the request, so the matched pattern is passed back through the context.
func CaptureRoute(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if m, ok := r.Context().Value(routeKey{}).(*matchedRoute); ok {
			m.pattern = r.Pattern
			m.runID = r.PathValue("runID")
		}
	})
}

// ObservabilityMiddleware wraps each request in a span and records the
// request metric. The span is renamed to the route pattern reported by
// CaptureRoute, so case IDs never reach metric labels.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), r.Method+" "+unmatchedRoute)
			defer span.End()

			matched := &matchedRoute{}
			ctx = context.WithValue(ctx, routeKey{}, matched)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			route := matched.pattern
			if route == "" {
				route = unmatchedRoute
			} else {
				span.SetName(route)
			}
			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rec.status),
			}
			if matched.runID != "" {
				attrs = append(attrs, attribute.String("amrguard.run_id", matched.runID))
			}
			observability.SetSpanAttributes(span, attrs...)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			observability.RecordRequestMetric(ctx, metrics, r.Method, route, rec.status, time.Since(start))
		})
	}
}

// statusRecorder keeps the status code and still lets event streams flush
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
