package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
)

// Guideline collections searched by the stages
const (
	CollectionTreatment  = "idsa_treatment_guidelines"
	CollectionMIC        = "mic_reference_docs"
	CollectionSafety     = "drug_safety"
	CollectionResistance = "pathogen_resistance"
)

// HistorianTask produces the empirical assessment when no culture data exists
type HistorianTask struct {
	invoker providers.ReasoningInvoker
	fusion  *RetrievalFusion
}

// NewHistorianTask creates the EMPIRICAL stage
func NewHistorianTask(invoker providers.ReasoningInvoker, fusion *RetrievalFusion) *HistorianTask {
	return &HistorianTask{invoker: invoker, fusion: fusion}
}

// State returns EMPIRICAL
func (t *HistorianTask) State() entities.PipelineState { return entities.StateEmpirical }

// Run searches treatment guidelines for the infection site, asks the
// historian role for likely pathogens and candidates, then grounds the
// candidates and suspected pathogens in the reference store
func (t *HistorianTask) Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error) {
	p := record.Patient
	query := strings.TrimSpace(fmt.Sprintf("empirical therapy %s %s %s",
		p.InfectionSite, p.SuspectedSource, strings.Join(p.RiskFactors.Flags(), " ")))
	guidelines, err := t.fusion.GuidelineSearch(ctx, query, 0, repositories.ChunkFilter{Collection: CollectionTreatment})
	if err != nil {
		return nil, err
	}

	inv, err := invoke(ctx, t.invoker, entities.CapabilityRequest{
		Role:          entities.RoleHistorian,
		PreferredTier: entities.SizeMedium,
	}, historianPayload(record, guidelines))
	if err != nil {
		return nil, err
	}

	var reply historianReply
	if err := decodeReply(entities.RoleHistorian, inv.Result, &reply); err != nil {
		return nil, err
	}
	served := inv.Provenance

	assessment := entities.EmpiricalAssessment{
		SuspectedPathogens: normalizeAll(reply.SuspectedPathogens, t.fusion.normalizer.Organism),
		Severity:           strings.ToLower(strings.TrimSpace(reply.Severity)),
		RiskFactors:        mergeFlags(p.RiskFactors.Flags(), reply.RiskFactors),
		CandidateDrugs:     normalizeAll(reply.CandidateDrugs, t.fusion.normalizer.Antibiotic),
		Notes:              reply.Notes,
		ServedBy:           &served,
	}

	structured, err := t.ground(ctx, assessment, p.Region)
	if err != nil {
		return nil, err
	}

	evidence := Fuse(structured, guidelines)
	evidence = append(evidence, ProvenanceEvidence(served))
	log.Ctx(ctx).Debug().
		Strs("pathogens", assessment.SuspectedPathogens).
		Strs("candidates", assessment.CandidateDrugs).
		Int("evidence", len(evidence)).
		Msg("empirical assessment complete")

	return &entities.EmpiricalOutput{Assessment: assessment, Evidence: evidence}, nil
}

// ground cites classification rows for the candidates and surveillance
// rates for each suspected pathogen against each candidate
func (t *HistorianTask) ground(ctx context.Context, a entities.EmpiricalAssessment, region string) (entities.EvidenceLog, error) {
	rows, err := t.fusion.AntibioticsByName(ctx, a.CandidateDrugs)
	if err != nil {
		return nil, err
	}

	out := entities.EvidenceLog{}
	for _, name := range a.CandidateDrugs {
		if best := BestAntibiotic(name, rows[name]); best != nil {
			out = append(out, AntibioticEvidence(best))
		}
	}
	for _, pathogen := range a.SuspectedPathogens {
		for _, name := range a.CandidateDrugs {
			rates, err := t.fusion.Susceptibility(ctx, pathogen, name, region)
			if err != nil {
				return nil, err
			}
			out = append(out, rates...)
		}
	}
	return out, nil
}

func normalizeAll(names []string, normalize func(string) string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = normalize(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		out = append(out, n)
	}
	return out
}

func mergeFlags(intake, reported []string) []string {
	out := append([]string(nil), intake...)
	seen := make(map[string]bool, len(out))
	for _, f := range out {
		seen[strings.ToLower(f)] = true
	}
	for _, f := range reported {
		f = strings.TrimSpace(f)
		if f == "" || seen[strings.ToLower(f)] {
			continue
		}
		seen[strings.ToLower(f)] = true
		out = append(out, f)
	}
	return out
}
