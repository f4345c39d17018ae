package routes

import (
	"net/http"

	"github.com/zatekoja/amrguard/internal/api/handlers"
	"github.com/zatekoja/amrguard/internal/api/middleware"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	caseHandler      *handlers.CaseHandler
	sseHandler       *handlers.SSEHandler
	referenceHandler *handlers.ReferenceHandler
	backendHandler   *handlers.BackendHandler

	cacheMiddleware *middleware.CacheMiddleware
	allowedOrigins  []string
	metrics         *observability.Metrics
}

// NewRouter creates a new router. sseHandler and cacheMiddleware may be nil.
func NewRouter(
	caseHandler *handlers.CaseHandler,
	sseHandler *handlers.SSEHandler,
	referenceHandler *handlers.ReferenceHandler,
	backendHandler *handlers.BackendHandler,
	cacheMiddleware *middleware.CacheMiddleware,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:              http.NewServeMux(),
		caseHandler:      caseHandler,
		sseHandler:       sseHandler,
		referenceHandler: referenceHandler,
		backendHandler:   backendHandler,
		cacheMiddleware:  cacheMiddleware,
		allowedOrigins:   allowedOrigins,
		metrics:          metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Pipeline runs
	r.mux.HandleFunc("POST /api/v1/cases/run", r.caseHandler.RunCase)
	r.mux.HandleFunc("POST /api/v1/cases/batch", r.caseHandler.RunBatch)
	r.mux.HandleFunc("GET /api/v1/cases/{runID}", r.caseHandler.GetCase)

	// Run events
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/v1/cases/{runID}/events", r.sseHandler.StreamRunEvents)
		r.mux.HandleFunc("GET /api/v1/events", r.sseHandler.StreamAllRuns)
	}

	// Reference store and guidelines
	r.mux.HandleFunc("GET /api/v1/reference/antibiotics", r.referenceHandler.ListAntibiotics)
	r.mux.HandleFunc("GET /api/v1/reference/susceptibility", r.referenceHandler.GetSusceptibility)
	r.mux.HandleFunc("GET /api/v1/reference/breakpoints/interpret", r.referenceHandler.InterpretBreakpoint)
	r.mux.HandleFunc("GET /api/v1/reference/interactions", r.referenceHandler.CheckInteractions)
	r.mux.HandleFunc("POST /api/v1/guidelines/search", r.referenceHandler.SearchGuidelines)

	// Reasoning backends
	r.mux.HandleFunc("GET /api/v1/backends", r.backendHandler.ListBackends)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = middleware.CaptureRoute(r.mux)

	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}

	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)

	// Apply HTTP performance optimizations (compression, ETag, cache headers)
	handler = middleware.ResponseOptimization(handler)

	// CORS wraps everything so headers are set even on cache HITs
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
