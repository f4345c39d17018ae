package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/adapters/search"
	"github.com/zatekoja/amrguard/internal/app"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
)

func main() {
	var prune bool
	var chunksPath string
	var intervalFlag string
	flag.BoolVar(&prune, "prune", false, "delete the superseded guideline collection after the alias moves")
	flag.StringVar(&chunksPath, "chunks", "", "guideline chunk JSON file (defaults to GUIDELINE_CHUNKS_PATH)")
	flag.StringVar(&intervalFlag, "interval", "", "repeat interval for reindexing (e.g. 6h, 30m)")
	flag.Parse()

	intervalValue := strings.TrimSpace(intervalFlag)
	if intervalValue == "" {
		intervalValue = strings.TrimSpace(os.Getenv("REINDEX_INTERVAL"))
	}

	var interval time.Duration
	var err error
	if intervalValue != "" {
		interval, err = time.ParseDuration(intervalValue)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid interval %q: %v\n", intervalValue, err)
			os.Exit(2)
		}
		if interval <= 0 {
			fmt.Fprintln(os.Stderr, "interval must be greater than zero")
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		if err := indexOnce(ctx, chunksPath, prune); err != nil {
			log.Error().Err(err).Msg("reindex failed")
		}

		if interval <= 0 {
			break
		}

		log.Info().Dur("next_in", interval).Msg("reindex complete")

		select {
		case <-ctx.Done():
			log.Info().Msg("reindexer shutting down")
			return
		case <-time.After(interval):
		}
	}
}

// indexOnce embeds every chunk in the file and publishes them as a new
// collection behind the guideline alias
func indexOnce(ctx context.Context, chunksPath string, prune bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.OTEL.ServiceName+"-indexer", cfg.Environment)

	if chunksPath == "" {
		chunksPath = cfg.Reference.ChunksPath
	}
	if chunksPath == "" {
		return fmt.Errorf("no chunk file: pass -chunks or set GUIDELINE_CHUNKS_PATH")
	}

	chunks, err := memory.LoadChunksFile(chunksPath)
	if err != nil {
		return err
	}

	embedder := app.NewEmbedder(ctx, cfg)
	log.Info().Int("chunks", len(chunks)).Str("embedder", embedder.Name()).Msg("embedding guideline chunks")

	embedded, err := memory.IndexChunks(ctx, embedder, chunks)
	if err != nil {
		return err
	}
	dims := cfg.Typesense.EmbeddingDims
	if len(embedded) > 0 {
		dims = len(embedded[0].Vector)
	}

	tsClient, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		return err
	}

	var previous string
	if alias, err := tsClient.Client().Alias(tsClient.GuidelineAlias()).Retrieve(ctx); err == nil && alias != nil {
		previous = alias.CollectionName
	}

	name, err := search.NewGuidelineIndex(tsClient, embedder).Publish(ctx, embedded, dims)
	if err != nil {
		return err
	}

	if prune && previous != "" && previous != name {
		if _, err := tsClient.Client().Collection(previous).Delete(ctx); err != nil {
			log.Warn().Err(err).Str("collection", previous).Msg("failed to delete superseded collection")
		} else {
			log.Info().Str("collection", previous).Msg("deleted superseded collection")
		}
	}
	return nil
}
