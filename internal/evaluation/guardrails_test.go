package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardrails_Pass(t *testing.T) {
	g := NewGuardrails(GuardrailConfig{MinRecall: 0.6, MinMRR: 0.5})

	err := g.Check(&EvalSummary{K: 10, TotalQueries: 4, AvgRecall: 0.75, AvgMRR: 0.5})

	assert.NoError(t, err)
}

func TestGuardrails_ReportsEveryMiss(t *testing.T) {
	g := NewGuardrails(GuardrailConfig{MinRecall: 0.8, MinMRR: 0.7, MaxFailedRate: 0.1})

	err := g.Check(&EvalSummary{K: 5, TotalQueries: 4, FailedQueries: 1, AvgRecall: 0.5, AvgMRR: 0.25})

	assert.ErrorContains(t, err, "recall@5 0.500 below 0.800")
	assert.ErrorContains(t, err, "mrr@5 0.250 below 0.700")
	assert.ErrorContains(t, err, "1 of 4 queries failed")
}

func TestGuardrails_ZeroQueriesSkipsFailureRate(t *testing.T) {
	g := NewGuardrails(GuardrailConfig{})

	assert.NoError(t, g.Check(&EvalSummary{K: 10}))
}
