package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/api/handlers"
	"github.com/zatekoja/amrguard/internal/api/middleware"
	"github.com/zatekoja/amrguard/internal/api/routes"
	"github.com/zatekoja/amrguard/internal/app"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
	"github.com/zatekoja/amrguard/pkg/secrets"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := secrets.ApplyFromEnv(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment)

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	a, err := app.Build(ctx, cfg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble pipeline")
	}
	defer a.Close()

	refresherDone := a.StartRefresher(ctx)

	var sseHandler *handlers.SSEHandler
	if a.Events != nil {
		sseHandler = handlers.NewSSEHandler(a.Events)
	}
	router := routes.NewRouter(
		handlers.NewCaseHandler(a.Orchestrator, a.Audit),
		sseHandler,
		handlers.NewReferenceHandler(a.Fusion),
		handlers.NewBackendHandler(a.Selector),
		middleware.NewCacheMiddleware(a.Cache, a.Fusion.SnapshotVersion, cfg.Server.HTTPCacheTTL, metrics),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		ReadTimeout: 15 * time.Second,
		// A full run waits on several model calls, and event streams stay open
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Str("snapshot", a.Fusion.SnapshotVersion()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	cancel()
	if refresherDone != nil {
		<-refresherDone
	}
	log.Info().Msg("server stopped")
}
