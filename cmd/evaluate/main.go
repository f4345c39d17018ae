package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/app"
	"github.com/zatekoja/amrguard/internal/evaluation"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
)

// evaluate scores guideline retrieval against labelled golden queries and
// exits non-zero when a guardrail is missed, so CI can gate a new snapshot
func main() {
	goldenPath := flag.String("golden", "config/golden_queries.json", "golden query file")
	k := flag.Int("k", 5, "rank cutoff for recall and MRR")
	minRecall := flag.Float64("min-recall", 0.6, "minimum average recall@k")
	minMRR := flag.Float64("min-mrr", 0.5, "minimum average MRR@k")
	maxFailed := flag.Float64("max-failed", 0.0, "maximum share of queries allowed to error")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.OTEL.ServiceName+"-evaluate", cfg.Environment)

	if _, err := os.Stat(*goldenPath); err != nil {
		if _, err := os.Stat("backend/" + *goldenPath); err == nil {
			*goldenPath = "backend/" + *goldenPath
		}
	}

	queries, err := evaluation.LoadGoldenQueries(*goldenPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load golden queries")
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble retrieval stack")
	}
	defer a.Close()

	summary, err := evaluation.NewRunner(a.Fusion, *k).Run(ctx, queries)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	guard := evaluation.NewGuardrails(evaluation.GuardrailConfig{
		MinRecall:     *minRecall,
		MinMRR:        *minMRR,
		MaxFailedRate: *maxFailed,
	})
	if err := guard.Check(summary); err != nil {
		log.Error().Err(err).Msg("retrieval guardrails failed")
		a.Close()
		os.Exit(1)
	}
	log.Info().Float64("recall", summary.AvgRecall).Float64("mrr", summary.AvgMRR).Msg("retrieval guardrails passed")
}
