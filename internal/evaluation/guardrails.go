package evaluation

import (
	"errors"
	"fmt"
)

// GuardrailConfig sets the minimum retrieval quality a snapshot must reach
type GuardrailConfig struct {
	MinRecall     float64
	MinMRR        float64
	MaxFailedRate float64
}

// Guardrails gates an evaluation summary against thresholds
type Guardrails struct {
	config GuardrailConfig
}

func NewGuardrails(config GuardrailConfig) *Guardrails {
	return &Guardrails{config: config}
}

// Check returns every threshold the summary misses, joined
func (g *Guardrails) Check(s *EvalSummary) error {
	var errs []error
	if s.AvgRecall < g.config.MinRecall {
		errs = append(errs, fmt.Errorf("recall@%d %.3f below %.3f", s.K, s.AvgRecall, g.config.MinRecall))
	}
	if s.AvgMRR < g.config.MinMRR {
		errs = append(errs, fmt.Errorf("mrr@%d %.3f below %.3f", s.K, s.AvgMRR, g.config.MinMRR))
	}
	if s.TotalQueries > 0 {
		rate := float64(s.FailedQueries) / float64(s.TotalQueries)
		if rate > g.config.MaxFailedRate {
			errs = append(errs, fmt.Errorf("%d of %d queries failed", s.FailedQueries, s.TotalQueries))
		}
	}
	return errors.Join(errs...)
}
