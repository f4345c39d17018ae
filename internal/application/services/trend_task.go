package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
)

// TrendTask assesses MIC drift for every triple of the lab extract. The
// assessment is deterministic; the trend role only adds a narrative.
type TrendTask struct {
	engine  *TrendEngine
	invoker providers.ReasoningInvoker
}

// NewTrendTask creates the TREND stage. invoker may be nil to skip the narrative.
func NewTrendTask(engine *TrendEngine, invoker providers.ReasoningInvoker) *TrendTask {
	return &TrendTask{engine: engine, invoker: invoker}
}

// State returns TREND
func (t *TrendTask) State() entities.PipelineState { return entities.StateTrend }

// Run builds the trend report. Narrative failures are absorbed into a note
// because the computed rationale already stands on its own.
func (t *TrendTask) Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error) {
	report, err := t.engine.Report(ctx, record.LabExtract, record.History)
	if err != nil {
		return nil, err
	}

	evidence := entities.EvidenceLog{}
	for _, a := range report.Assessments {
		evidence = append(evidence, TrendEvidence(a))
	}
	for _, f := range report.Failures {
		evidence = append(evidence, newEvidence(entities.SourceHistory, entities.EvidenceNote,
			fmt.Sprintf("trend:%s:%s", f.Pathogen, f.Antibiotic),
			fmt.Sprintf("Trend for %s / %s not assessed: %s", f.Pathogen, f.Antibiotic, f.Reason), f, 0))
	}

	if t.invoker != nil && len(report.Qualifying()) > 0 {
		inv, err := t.invoker.Invoke(ctx, entities.CapabilityRequest{
			Role:          entities.RoleTrend,
			PreferredTier: entities.SizeMedium,
		}, trendPayload(report))
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("trend narrative unavailable")
			evidence = append(evidence, newEvidence(entities.SourceBackend, entities.EvidenceNote,
				"trend_narrative", "Trend narrative unavailable: "+err.Error(), nil, 0))
		} else {
			served := inv.Provenance
			report.Narrative = strings.TrimSpace(inv.Result.Text)
			report.ServedBy = &served
			evidence = append(evidence, ProvenanceEvidence(served))
		}
	}

	return &entities.TrendOutput{Report: *report, Evidence: evidence}, nil
}

// TrendEvidence cites one assessment. The history is the source when a
// baseline existed; a first observation is a calculation only.
func TrendEvidence(a entities.TrendAssessment) entities.EvidenceItem {
	source := entities.SourceHistory
	locator := trendLocator(a.Pathogen, a.Antibiotic)
	score := 0.0
	if a.FirstObservation {
		source = entities.SourceCalculation
	} else if a.Ratio != nil {
		score = *a.Ratio
	}
	return newEvidence(source, entities.EvidenceTrend, locator,
		fmt.Sprintf("[%s] %s", a.Tier, a.Rationale), a, score)
}
