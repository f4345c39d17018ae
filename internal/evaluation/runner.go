package evaluation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
)

// GuidelineSearcher is the retrieval surface under evaluation
type GuidelineSearcher interface {
	GuidelineSearch(ctx context.Context, text string, k int, filter repositories.ChunkFilter) (entities.EvidenceLog, error)
}

// Runner runs evaluation across a set of golden queries
type Runner struct {
	searcher GuidelineSearcher
	k        int
}

// NewRunner creates a runner scoring the top k results; k defaults to 10
func NewRunner(searcher GuidelineSearcher, k int) *Runner {
	if k <= 0 {
		k = 10
	}
	return &Runner{searcher: searcher, k: k}
}

// Run evaluates every query in order. A failed search is recorded and the
// run continues; only context cancellation stops it.
func (r *Runner) Run(ctx context.Context, queries []GoldenQuery) (*EvalSummary, error) {
	summary := &EvalSummary{
		K:            r.k,
		TotalQueries: len(queries),
		ByCollection: make(map[string]*CollectionSummary),
		Results:      make([]EvalResult, 0, len(queries)),
	}

	for _, gq := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		items, err := r.searcher.GuidelineSearch(ctx, gq.Query, r.k, repositories.ChunkFilter{
			Collection:   gq.Collection,
			PathogenType: gq.PathogenType,
		})
		result := EvalResult{
			QueryID:    gq.ID,
			Query:      gq.Query,
			Collection: gq.Collection,
			Latency:    time.Since(start),
		}
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("query_id", gq.ID).Msg("golden query search failed")
			result.Error = err.Error()
			summary.FailedQueries++
		} else {
			result.RetrievedChunks = chunkIDs(items)
			result.ResultCount = len(items)
			result.Recall = RecallAtK(gq.ExpectedChunks, result.RetrievedChunks, r.k)
			result.MRR = MRRAtK(gq.ExpectedChunks, result.RetrievedChunks, r.k)
		}

		r.updateSummary(summary, result)
	}

	r.finalizeSummary(summary)
	return summary, nil
}

// chunkIDs reads the chunk identifier recorded on each guideline evidence item
func chunkIDs(items entities.EvidenceLog) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.Row["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Runner) updateSummary(s *EvalSummary, res EvalResult) {
	s.Results = append(s.Results, res)
	s.AvgRecall += res.Recall
	s.AvgMRR += res.MRR
	s.AvgLatency += res.Latency
	if res.ResultCount > 0 {
		s.QueriesWithHits++
	}

	group := res.Collection
	if group == "" {
		group = "all"
	}
	cs, ok := s.ByCollection[group]
	if !ok {
		cs = &CollectionSummary{}
		s.ByCollection[group] = cs
	}
	cs.Count++
	cs.AvgRecall += res.Recall
	cs.AvgMRR += res.MRR
}

func (r *Runner) finalizeSummary(s *EvalSummary) {
	if s.TotalQueries > 0 {
		n := float64(s.TotalQueries)
		s.AvgRecall /= n
		s.AvgMRR /= n
		s.AvgLatency /= time.Duration(s.TotalQueries)
	}

	for _, cs := range s.ByCollection {
		if cs.Count > 0 {
			n := float64(cs.Count)
			cs.AvgRecall /= n
			cs.AvgMRR /= n
		}
	}
}
