package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"github.com/zatekoja/amrguard/pkg/utils"
)

// StageTask performs one reasoning step. Run reads the case record and
// returns a typed partial result; it never writes to the record.
type StageTask interface {
	State() entities.PipelineState
	Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error)
}

// IntakeTask validates intake and computes renal function. It needs no backend.
type IntakeTask struct{}

// NewIntakeTask creates the INTAKE stage
func NewIntakeTask() *IntakeTask {
	return &IntakeTask{}
}

// State returns INTAKE
func (t *IntakeTask) State() entities.PipelineState { return entities.StateIntake }

// Run returns a VALIDATION error listing every missing or invalid field
func (t *IntakeTask) Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error) {
	renal, err := ComputeRenalFunction(record.Patient)
	if err != nil {
		return nil, err
	}

	p := record.Patient
	snippet := fmt.Sprintf("CrCl %.1f mL/min (%s) by Cockcroft-Gault: age %g, %s, %s weight %.1f kg, SCr %g mg/dL",
		renal.CreatinineClearanceMlMin, renal.Category, p.AgeYears, p.Sex, renal.WeightBasis, renal.DosingWeightKg, p.SerumCreatinineMgDl)
	return &entities.IntakeOutput{
		Renal: *renal,
		Evidence: []entities.EvidenceItem{
			newEvidence(entities.SourceCalculation, entities.EvidenceRenal, renalLocator, snippet, renal, 1),
		},
	}, nil
}

// invoke calls the selector and wraps content errors so the orchestrator
// fails the run without retrying
func invoke(ctx context.Context, invoker providers.ReasoningInvoker, req entities.CapabilityRequest, payload providers.PromptPayload) (*providers.Invocation, error) {
	inv, err := invoker.Invoke(ctx, req, payload)
	if err != nil {
		if apperrors.TypeOf(err) != apperrors.ErrorTypeInternal {
			return nil, err
		}
		return nil, apperrors.NewExternalError(fmt.Sprintf("%s backend request failed", req.Role), err)
	}
	return inv, nil
}

// decodeReply parses the JSON object of a backend reply. A reply without
// one is a content-shape failure.
func decodeReply(role entities.BackendRole, result *providers.StructuredResult, v any) error {
	if err := utils.DecodeJSONObject(result.Text, v); err != nil {
		return apperrors.NewExternalError(fmt.Sprintf("%s backend returned malformed output", role), err)
	}
	return nil
}

// mentions reports whether text names the antibiotic
func mentions(text, antibiotic string) bool {
	antibiotic = strings.ToLower(strings.TrimSpace(antibiotic))
	return antibiotic != "" && strings.Contains(strings.ToLower(text), antibiotic)
}
