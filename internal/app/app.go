// Package app assembles the pipeline from configuration. The API server and
// the CLI share it so both run the same stack.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/adapters/backends"
	"github.com/zatekoja/amrguard/internal/adapters/cache"
	"github.com/zatekoja/amrguard/internal/adapters/database"
	"github.com/zatekoja/amrguard/internal/adapters/embedding"
	"github.com/zatekoja/amrguard/internal/adapters/events"
	"github.com/zatekoja/amrguard/internal/adapters/extraction"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/adapters/search"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	genaiclient "github.com/zatekoja/amrguard/internal/infrastructure/clients/genai"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/ollama"
	openaiclient "github.com/zatekoja/amrguard/internal/infrastructure/clients/openai"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/redis"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/sqlite"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
	"github.com/zatekoja/amrguard/pkg/utils"
)

// App holds the assembled pipeline and its shared dependencies
type App struct {
	Config       *config.Config
	Metrics      *observability.Metrics
	Normalizer   *utils.ClinicalNameNormalizer
	Reference    repositories.ReferenceRepository
	Publisher    *database.ReferenceAdapter // nil for the memory driver
	Refresher    *services.SnapshotRefreshService
	Index        repositories.SemanticIndexRepository
	Embedder     providers.EmbeddingProvider
	Typesense    *typesense.Client
	Cache        providers.CacheProvider
	Events       providers.EventBus
	Audit        repositories.CaseAuditRepository
	Fusion       *services.RetrievalFusion
	Selector     *services.BackendSelector
	Orchestrator *services.Orchestrator

	genai    *genaiclient.Client
	genaiErr error
	closers  []func() error
}

// Build connects every configured store and backend and wires the pipeline.
// Optional infrastructure that cannot be reached is logged and replaced by
// its in-process counterpart.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics, Normalizer: utils.NewDefaultClinicalNameNormalizer()}

	if err := a.buildReference(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildCacheAndEvents()
	if err := a.buildIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildReference(ctx context.Context) error {
	cfg := a.Config
	var (
		adapter *database.ReferenceAdapter
		dialect string
	)

	switch cfg.Reference.Driver {
	case config.ReferenceDriverMemory:
		snap, err := memory.LoadSnapshotFile(cfg.Reference.SnapshotPath)
		if err != nil {
			return err
		}
		a.Reference = memory.NewReferenceStore(snap)
		log.Info().Str("version", snap.Version).Msg("reference store loaded from snapshot file")
		return nil

	case config.ReferenceDriverSQLite:
		client, err := sqlite.NewClient(cfg.Reference.SQLitePath, cfg.Pipeline.AuditEnabled)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		dialect = database.DialectSQLite
		adapter = database.NewReferenceAdapter(client.DB(), dialect, a.Metrics)
		if cfg.Pipeline.AuditEnabled {
			a.Audit = database.NewCaseAuditAdapter(client.DB(), dialect)
		}

	default:
		client, err := postgres.NewClient(&cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		dialect = database.DialectPostgres
		adapter = database.NewReferenceAdapter(client.DB(), dialect, a.Metrics)
		if cfg.Pipeline.AuditEnabled {
			a.Audit = database.NewCaseAuditAdapter(client.DB(), dialect)
		}
	}

	if _, _, err := adapter.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load active reference snapshot: %w", err)
	}
	a.Publisher = adapter
	a.Reference = adapter
	log.Info().Str("driver", cfg.Reference.Driver).Str("version", adapter.SnapshotVersion()).Msg("reference store connected")
	return nil
}

// buildCacheAndEvents prefers Redis and falls back to process-local adapters
func (a *App) buildCacheAndEvents() {
	cfg := a.Config
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, using in-process cache and event bus")
		} else {
			redisClient = client
			a.closers = append(a.closers, client.Close)
		}
	}

	if redisClient != nil {
		a.Cache = cache.NewRedisAdapter(redisClient)
	} else {
		a.Cache = cache.NewMemoryAdapter()
	}

	if cfg.Pipeline.EventsEnabled {
		if redisClient != nil {
			a.Events = events.NewRedisEventBus(redisClient)
		} else {
			a.Events = events.NewLocalEventBus()
		}
		a.closers = append(a.closers, a.Events.Close)
	}

	if cfg.Reference.CacheEnabled {
		a.Reference = database.NewCachedReferenceAdapter(a.Reference, a.Cache, a.Metrics)
	}
	if a.Publisher != nil {
		a.Refresher = services.NewSnapshotRefreshService(a.Publisher, a.Reference)
	}
}

// buildIndex serves guideline search from Typesense, or from a chunk file
// held in memory when Typesense is unreachable
func (a *App) buildIndex(ctx context.Context) error {
	cfg := a.Config
	a.Embedder = a.newEmbedder(ctx)

	if cfg.Typesense.Enabled && cfg.Typesense.URL != "" {
		client, err := typesense.NewClient(&cfg.Typesense)
		if err == nil {
			a.Typesense = client
			a.Index = search.NewGuidelineIndex(client, a.Embedder)
			return nil
		}
		log.Warn().Err(err).Msg("Typesense unavailable")
	}

	if cfg.Reference.ChunksPath == "" {
		log.Warn().Msg("guideline search disabled: no GUIDELINE_CHUNKS_PATH")
		return nil
	}
	chunks, err := memory.LoadChunksFile(cfg.Reference.ChunksPath)
	if err != nil {
		return err
	}
	embedded, err := memory.IndexChunks(ctx, a.Embedder, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed guideline chunks: %w", err)
	}
	a.Index = memory.NewSemanticIndex(a.Embedder, embedded)
	log.Info().Int("chunks", len(embedded)).Str("embedder", a.Embedder.Name()).Msg("guideline index held in memory")
	return nil
}

// newEmbedder follows the deployment target: remote embeddings through
// GenAI, local ones through Ollama, feature hashing when neither is set up
func (a *App) newEmbedder(ctx context.Context) providers.EmbeddingProvider {
	cfg := a.Config
	dims := cfg.Typesense.EmbeddingDims

	if cfg.Reasoning.DeploymentTarget == config.DeploymentLocal {
		return embedding.NewOllamaEmbedder(ollama.NewClient(&cfg.Ollama), cfg.Ollama.EmbeddingModel)
	}
	if cfg.GenAI.APIKey != "" || cfg.GenAI.UseVertex {
		client, err := a.genaiClient(ctx)
		if err == nil {
			return embedding.NewGenAIEmbedder(client, cfg.GenAI.EmbeddingModel, dims)
		}
		log.Warn().Err(err).Msg("GenAI embedder unavailable, using hashing embedder")
	}
	return embedding.NewHashingEmbedder(dims)
}

func (a *App) buildPipeline(ctx context.Context) error {
	cfg := a.Config

	selector, err := services.NewBackendSelector(cfg.Reasoning, a.newBackends(ctx), a.Metrics)
	if err != nil {
		return err
	}
	a.Selector = selector

	a.Fusion = services.NewRetrievalFusion(a.Reference, a.Index, a.Normalizer, cfg.Pipeline.GuidelineTopK)
	screen := services.NewSafetyScreen(a.Fusion, selector)
	tasks := []services.StageTask{
		services.NewIntakeTask(),
		services.NewHistorianTask(selector, a.Fusion),
		services.NewVisionTask(extraction.NewBackendExtractor(selector, a.Normalizer), a.Fusion),
		services.NewTrendTask(services.NewTrendEngine(a.Reference, a.Normalizer, cfg.Pipeline.TrendRetentionDays), selector),
		services.NewPharmacologyTask(selector, a.Fusion, screen),
	}

	a.Orchestrator, err = services.NewOrchestrator(cfg.Pipeline, tasks, a.Reference, a.Events, a.Audit, a.Metrics)
	return err
}

// genaiClient is shared by the embedder and the backend
func (a *App) genaiClient(ctx context.Context) (*genaiclient.Client, error) {
	if a.genai == nil && a.genaiErr == nil {
		a.genai, a.genaiErr = genaiclient.NewClient(ctx, &a.Config.GenAI)
	}
	return a.genai, a.genaiErr
}

// newBackends creates a client for every provider the catalog names
func (a *App) newBackends(ctx context.Context) backends.Registry {
	cfg := a.Config
	used := make(map[string]bool)
	for _, b := range cfg.Reasoning.Backends {
		used[b.Provider] = true
	}

	var list []providers.ReasoningBackend
	if used[config.ProviderGenAI] {
		client, err := a.genaiClient(ctx)
		if err != nil {
			// the selector reports the missing backend per request
			log.Warn().Err(err).Msg("GenAI backend unavailable")
		} else {
			list = append(list, backends.NewGenAIBackend(client))
		}
	}
	if used[config.ProviderOllama] {
		list = append(list, backends.NewOllamaBackend(ollama.NewClient(&cfg.Ollama)))
	}
	if used[config.ProviderOpenAI] {
		client, err := openaiclient.NewClient(&cfg.OpenAI)
		if err != nil {
			log.Warn().Err(err).Msg("OpenAI backend unavailable")
		} else {
			list = append(list, backends.NewOpenAIBackend(client))
		}
	}
	return backends.NewRegistry(list...)
}

// StartRefresher polls the reference database for newly published
// snapshots. It returns nil for the memory driver.
func (a *App) StartRefresher(ctx context.Context) <-chan struct{} {
	if a.Refresher == nil || a.Config.Reference.RefreshInterval <= 0 {
		return nil
	}
	return a.Refresher.Start(ctx, a.Config.Reference.RefreshInterval)
}

// Close releases every connection in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("error during shutdown")
		}
	}
	a.closers = nil
}

// NewEmbedder returns the embedder Build would choose for cfg. The ingestion
// tool uses it so stored vectors match the ones queries are embedded with.
func NewEmbedder(ctx context.Context, cfg *config.Config) providers.EmbeddingProvider {
	return (&App{Config: cfg}).newEmbedder(ctx)
}
