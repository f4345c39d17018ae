package services_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/adapters/events"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	"github.com/zatekoja/amrguard/pkg/config"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"go.uber.org/goleak"
)

type stubTask struct {
	state entities.PipelineState
	calls atomic.Int32
	run   func(ctx context.Context, record *entities.CaseRecord, call int) (entities.StageOutput, error)
}

func (s *stubTask) State() entities.PipelineState { return s.state }

func (s *stubTask) Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error) {
	return s.run(ctx, record, int(s.calls.Add(1)))
}

func citable(id string, category entities.EvidenceCategory) entities.EvidenceItem {
	return entities.EvidenceItem{ID: id, Source: entities.SourceReferenceStore, Category: category, Locator: id}
}

func citedPrescription(ids ...string) entities.Prescription {
	rx := entities.Prescription{
		Antibiotic: "nitrofurantoin", Dose: "100 mg", Route: "PO", Frequency: "every 12 hours", Duration: "5 days",
		StewardshipTier: entities.TierAccess, Therapy: entities.TherapyEmpirical, Alerts: []entities.SafetyAlert{},
	}
	for _, f := range entities.CitedFields {
		rx.Cite(f, ids...)
	}
	return rx
}

type stubPipeline struct {
	intake, empirical, vision, trend, pharmacology *stubTask
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{
		intake: &stubTask{state: entities.StateIntake, run: func(ctx context.Context, r *entities.CaseRecord, _ int) (entities.StageOutput, error) {
			return services.NewIntakeTask().Run(ctx, r)
		}},
		empirical: &stubTask{state: entities.StateEmpirical, run: func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
			return &entities.EmpiricalOutput{
				Assessment: entities.EmpiricalAssessment{SuspectedPathogens: []string{ecoli}, CandidateDrugs: []string{"nitrofurantoin"}},
				Evidence:   []entities.EvidenceItem{citable("emp-1", entities.EvidenceAntibiotic)},
			}, nil
		}},
		vision: &stubTask{state: entities.StateVision, run: func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
			return &entities.VisionOutput{
				Extract: entities.LabExtract{Pathogen: ecoli, Results: []entities.SusceptibilityResult{
					{Antibiotic: "nitrofurantoin", MIC: f64(16), Category: entities.CategorySusceptible},
				}},
				Evidence: []entities.EvidenceItem{{ID: "lab-1", Source: entities.SourceLabExtract, Category: entities.EvidenceLabResult}},
			}, nil
		}},
		trend: &stubTask{state: entities.StateTrend, run: func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
			return &entities.TrendOutput{Report: entities.TrendReport{Assessments: []entities.TrendAssessment{}}}, nil
		}},
		pharmacology: &stubTask{state: entities.StatePharmacology, run: func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
			return &entities.PharmacologyOutput{
				Prescription: citedPrescription("rx-1"),
				Evidence:     []entities.EvidenceItem{citable("rx-1", entities.EvidenceDosage)},
			}, nil
		}},
	}
}

func (p *stubPipeline) tasks() []services.StageTask {
	return []services.StageTask{p.intake, p.empirical, p.vision, p.trend, p.pharmacology}
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		StageTimeout:      time.Second,
		MaxStageRetries:   2,
		RetryInitialDelay: time.Millisecond,
		MaxConcurrentRuns: 2,
	}
}

func newOrchestrator(t *testing.T, cfg config.PipelineConfig, tasks []services.StageTask, bus providers.EventBus, audit *mockAudit) *services.Orchestrator {
	t.Helper()
	var auditRepo repositories.CaseAuditRepository
	if audit != nil {
		auditRepo = audit
	}
	o, err := services.NewOrchestrator(cfg, tasks, newFixture(t).store, bus, auditRepo, nil)
	require.NoError(t, err)
	return o
}

func visitedStates(record *entities.CaseRecord) []entities.PipelineState {
	out := make([]entities.PipelineState, 0, len(record.Visited))
	for _, v := range record.Visited {
		out = append(out, v.State)
	}
	return out
}

func TestNextState(t *testing.T) {
	noLab := &entities.CaseRecord{}
	withFile := &entities.CaseRecord{LabFile: &entities.LabFile{MIMEType: "application/pdf"}}
	emptyExtract := &entities.CaseRecord{LabExtract: &entities.LabExtract{Pathogen: ecoli}}
	withResults := &entities.CaseRecord{LabExtract: &entities.LabExtract{Pathogen: ecoli, Results: []entities.SusceptibilityResult{{Antibiotic: "meropenem"}}}}

	tests := []struct {
		name   string
		state  entities.PipelineState
		record *entities.CaseRecord
		want   entities.PipelineState
	}{
		{"intake", entities.StateIntake, noLab, entities.StateRouteDecision},
		{"route without lab", entities.StateRouteDecision, noLab, entities.StateEmpirical},
		{"route with lab file", entities.StateRouteDecision, withFile, entities.StateVision},
		{"empirical", entities.StateEmpirical, noLab, entities.StatePharmacology},
		{"vision with results", entities.StateVision, withResults, entities.StateTrend},
		{"vision without results", entities.StateVision, emptyExtract, entities.StatePharmacology},
		{"trend", entities.StateTrend, withResults, entities.StatePharmacology},
		{"pharmacology", entities.StatePharmacology, withResults, entities.StateDone},
		{"done is terminal", entities.StateDone, withResults, entities.StateDone},
		{"failed is terminal", entities.StateFailed, noLab, entities.StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := services.NextState(tt.state, tt.record)
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, services.NextState(tt.state, tt.record), "routing is idempotent")
		})
	}
}

func TestNewOrchestrator_RequiresEveryStage(t *testing.T) {
	p := newStubPipeline()

	_, err := services.NewOrchestrator(pipelineConfig(), []services.StageTask{p.intake, p.empirical}, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = services.NewOrchestrator(pipelineConfig(), append(p.tasks(), p.trend), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestOrchestrator_EmpiricalPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := events.NewLocalEventBus()
	defer bus.Close()
	audit := &mockAudit{}
	audit.On("Save", mock.Anything, mock.MatchedBy(func(r *entities.CaseRecord) bool { return r.State == entities.StateDone })).Return(nil).Once()
	cfg := pipelineConfig()
	cfg.AuditEnabled, cfg.EventsEnabled = true, true
	p := newStubPipeline()
	o := newOrchestrator(t, cfg, p.tasks(), bus, audit)

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(subCtx, providers.GetRunChannel("run-empirical"))
	require.NoError(t, err)

	record, err := o.Run(context.Background(), entities.RunRequest{RunID: "run-empirical", Patient: patient()})

	require.NoError(t, err)
	assert.Equal(t, "run-empirical", record.RunID)
	assert.Equal(t, entities.StateDone, record.State)
	assert.Equal(t, []entities.PipelineState{
		entities.StateIntake, entities.StateRouteDecision, entities.StateEmpirical, entities.StatePharmacology,
	}, visitedStates(record))
	assert.False(t, record.VisitedState(entities.StateVision))
	assert.False(t, record.VisitedState(entities.StateTrend))
	assert.Zero(t, p.vision.calls.Load())
	require.NotNil(t, record.Renal)
	require.NotNil(t, record.Empirical)
	require.NotNil(t, record.Prescription)
	assert.Nil(t, record.LabExtract)
	assert.NotNil(t, record.CompletedAt)

	require.Len(t, record.Evidence, 3)
	assert.Equal(t, entities.StateIntake, record.Evidence[0].Stage)
	assert.Equal(t, 1, record.Evidence[0].Rank)
	assert.Equal(t, entities.StatePharmacology, record.Evidence[2].Stage)
	assert.Empty(t, record.Prescription.UncitedFields(record.Evidence))

	var states []entities.PipelineState
	for len(sub) > 0 {
		states = append(states, (<-sub).State)
	}
	require.NotEmpty(t, states)
	assert.Equal(t, entities.StateIntake, states[0])
	assert.Equal(t, entities.StateDone, states[len(states)-1])
	audit.AssertExpectations(t)
}

func TestOrchestrator_TargetedPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newStubPipeline()
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{
		Patient: patient(),
		LabFile: &entities.LabFile{MIMEType: "image/png", Data: []byte{1}},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, record.RunID)
	assert.Equal(t, []entities.PipelineState{
		entities.StateIntake, entities.StateRouteDecision, entities.StateVision, entities.StateTrend, entities.StatePharmacology,
	}, visitedStates(record))
	assert.Nil(t, record.Empirical)
	require.NotNil(t, record.Trend)
}

func TestOrchestrator_VisionWithoutResultsSkipsTrend(t *testing.T) {
	p := newStubPipeline()
	p.vision.run = func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
		return &entities.VisionOutput{Extract: entities.LabExtract{Pathogen: ecoli}}, nil
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{
		Patient:          patient(),
		ManualLabExtract: &entities.LabExtract{Pathogen: ecoli},
	})

	require.NoError(t, err)
	assert.False(t, record.VisitedState(entities.StateTrend))
	assert.Zero(t, p.trend.calls.Load())
}

func TestOrchestrator_NoBackendAvailableFailsWithoutRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newStubPipeline()
	p.empirical.run = func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
		return nil, apperrors.NewNoBackendAvailableError("all backends for role historian failed (attempted [a b])", nil)
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNoBackendAvailable))
	assert.Equal(t, entities.StateFailed, record.State)
	require.NotNil(t, record.Failure)
	assert.Equal(t, string(apperrors.ErrorTypeNoBackendAvailable), record.Failure.Type)
	assert.Equal(t, entities.StateEmpirical, record.Failure.Stage)
	assert.NotEmpty(t, record.Failure.Suggestion)
	assert.Nil(t, record.Empirical)
	assert.Nil(t, record.Prescription)
	assert.EqualValues(t, 1, p.empirical.calls.Load())
	assert.Zero(t, p.pharmacology.calls.Load())
}

func TestOrchestrator_RetriesTransientFailures(t *testing.T) {
	p := newStubPipeline()
	succeed := p.empirical.run
	p.empirical.run = func(ctx context.Context, r *entities.CaseRecord, call int) (entities.StageOutput, error) {
		if call == 1 {
			return nil, apperrors.NewTransientBackendError("historian timed out", nil)
		}
		return succeed(ctx, r, call)
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	require.NoError(t, err)
	assert.Equal(t, entities.StateDone, record.State)
	assert.Equal(t, 2, record.Visited[2].Attempts)
}

func TestOrchestrator_RetriesAreBounded(t *testing.T) {
	p := newStubPipeline()
	p.empirical.run = func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
		return nil, apperrors.NewTransientBackendError("historian timed out", nil)
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeTransientBackend))
	assert.Equal(t, entities.StateFailed, record.State)
	assert.EqualValues(t, 3, p.empirical.calls.Load())
}

func TestOrchestrator_StageTimeoutIsTransient(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newStubPipeline()
	p.empirical.run = func(ctx context.Context, _ *entities.CaseRecord, _ int) (entities.StageOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg := pipelineConfig()
	cfg.StageTimeout = 20 * time.Millisecond
	cfg.MaxStageRetries = 0
	o := newOrchestrator(t, cfg, p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeTransientBackend))
	assert.Equal(t, entities.StateEmpirical, record.Failure.Stage)
}

func TestOrchestrator_CancellationDiscardsStageResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newStubPipeline()
	succeed := p.empirical.run
	p.empirical.run = func(ctx context.Context, r *entities.CaseRecord, call int) (entities.StageOutput, error) {
		cancel()
		return succeed(ctx, r, call)
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(ctx, entities.RunRequest{Patient: patient()})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeCancelled))
	assert.Equal(t, entities.StateFailed, record.State)
	assert.Nil(t, record.Empirical)
	assert.Zero(t, p.pharmacology.calls.Load())
}

func TestOrchestrator_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newStubPipeline()
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(ctx, entities.RunRequest{Patient: patient()})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeCancelled))
	assert.Equal(t, entities.StateIntake, record.Failure.Stage)
	assert.Zero(t, p.intake.calls.Load())
}

func TestOrchestrator_UncitedPrescriptionIsRejected(t *testing.T) {
	p := newStubPipeline()
	p.pharmacology.run = func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
		rx := citedPrescription("rx-1")
		rx.Citations[entities.FieldDose] = []string{"does-not-exist"}
		return &entities.PharmacologyOutput{
			Prescription: rx,
			Evidence: []entities.EvidenceItem{
				citable("rx-1", entities.EvidenceAntibiotic),
				{ID: "prov-1", Source: entities.SourceBackend, Category: entities.EvidenceProvenance},
			},
		}, nil
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeCitationMissing))
	assert.Contains(t, err.Error(), "dose")
	assert.Equal(t, entities.StateFailed, record.State)
	assert.Nil(t, record.Prescription)
	assert.Len(t, record.Evidence, 2, "pharmacology evidence is not written")
	assert.EqualValues(t, 1, p.pharmacology.calls.Load())
}

func TestOrchestrator_CitationToProvenanceDoesNotCount(t *testing.T) {
	p := newStubPipeline()
	p.pharmacology.run = func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
		return &entities.PharmacologyOutput{
			Prescription: citedPrescription("prov-1"),
			Evidence:     []entities.EvidenceItem{{ID: "prov-1", Source: entities.SourceBackend, Category: entities.EvidenceProvenance}},
		}, nil
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	_, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeCitationMissing))
}

func TestOrchestrator_ValidationFailsAtIntake(t *testing.T) {
	p := newStubPipeline()
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)
	bad := patient()
	bad.WeightKg = 0

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: bad})

	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, entities.StateIntake, record.Failure.Stage)
	assert.Nil(t, record.Renal)
	assert.EqualValues(t, 1, p.intake.calls.Load(), "validation errors are not retried")
}

func TestOrchestrator_ReducedCapabilityPropagates(t *testing.T) {
	p := newStubPipeline()
	p.empirical.run = func(context.Context, *entities.CaseRecord, int) (entities.StageOutput, error) {
		return &entities.EmpiricalOutput{Assessment: entities.EmpiricalAssessment{
			CandidateDrugs: []string{"nitrofurantoin"},
			ServedBy:       &entities.Provenance{Backend: "local-small", ReducedCapability: true},
		}}, nil
	}
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	require.NoError(t, err)
	assert.True(t, record.ReducedCapability)
}

func TestOrchestrator_AuditFailureDoesNotFailRun(t *testing.T) {
	audit := &mockAudit{}
	audit.On("Save", mock.Anything, mock.Anything).Return(errors.New("database unavailable")).Once()
	cfg := pipelineConfig()
	cfg.AuditEnabled = true
	o := newOrchestrator(t, cfg, newStubPipeline().tasks(), nil, audit)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	require.NoError(t, err)
	assert.Equal(t, entities.StateDone, record.State)
	audit.AssertExpectations(t)
}

func TestOrchestrator_RunBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newStubPipeline()
	o := newOrchestrator(t, pipelineConfig(), p.tasks(), nil, nil)
	bad := patient()
	bad.Sex = ""

	results := o.RunBatch(context.Background(), []entities.RunRequest{
		{RunID: "a", Patient: patient()},
		{RunID: "b", Patient: bad},
		{RunID: "c", Patient: patient(), ManualLabExtract: &entities.LabExtract{Pathogen: ecoli}},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Record.RunID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, entities.StateDone, results[0].Record.State)
	assert.True(t, apperrors.Is(results[1].Err, apperrors.ErrorTypeValidation))
	assert.Equal(t, entities.StateFailed, results[1].Record.State)
	assert.NoError(t, results[2].Err)
	assert.True(t, results[2].Record.VisitedState(entities.StateVision))
}

func TestOrchestrator_EndToEndEmpirical(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	invoker := &mockInvoker{}
	invoker.On("Invoke", mock.Anything, onRole(entities.RoleHistorian), mock.Anything).Return(reply(entities.RoleHistorian,
		`{"suspected_pathogens":["E. coli"],"infection_severity":"mild","candidate_antibiotics":["nitrofurantoin","amoxicillin"]}`), nil).Once()
	invoker.On("Invoke", mock.Anything, onRole(entities.RolePharmacology), mock.Anything).Return(reply(entities.RolePharmacology,
		`{"primary":{"antibiotic":"nitrofurantoin","dose":"100 mg","route":"PO","frequency":"bid","duration":"5 days"},"alternative":{"antibiotic":"amoxicillin"},"rationale":"ACCESS first line for cystitis"}`), nil).Once()
	invoker.On("Invoke", mock.Anything, onRole(entities.RoleSafety), mock.Anything).Return(reply(entities.RoleSafety, "Low risk.\nRISK: LOW"), nil).Once()

	tasks := []services.StageTask{
		services.NewIntakeTask(),
		services.NewHistorianTask(invoker, f.fusion),
		services.NewVisionTask(nil, f.fusion),
		services.NewTrendTask(services.NewTrendEngine(f.store, f.normalizer, 365), invoker),
		services.NewPharmacologyTask(invoker, f.fusion, services.NewSafetyScreen(f.fusion, invoker)),
	}
	o, err := services.NewOrchestrator(pipelineConfig(), tasks, f.store, nil, nil, nil)
	require.NoError(t, err)

	record, err := o.Run(context.Background(), entities.RunRequest{Patient: patient()})

	require.NoError(t, err)
	assert.Equal(t, entities.StateDone, record.State)
	rx := record.Prescription
	require.NotNil(t, rx)
	assert.Equal(t, "nitrofurantoin", rx.Antibiotic)
	assert.Equal(t, "100 mg", rx.Dose)
	assert.Equal(t, "every 12 hours", rx.Frequency)
	assert.Equal(t, entities.TierAccess, rx.StewardshipTier)
	assert.Equal(t, entities.TherapyEmpirical, rx.Therapy)
	assert.Empty(t, rx.UncitedFields(record.Evidence))
	for i, item := range record.Evidence {
		assert.NotEmpty(t, item.Stage)
		assert.Positive(t, item.Rank, "item %d", i)
	}
	invoker.AssertExpectations(t)
}
