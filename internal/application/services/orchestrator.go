package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zatekoja/amrguard/internal/application/loaders"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"github.com/zatekoja/amrguard/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Orchestrator runs one case record at a time through the pipeline state
// machine. Concurrent runs share nothing but the read-only collaborators.
type Orchestrator struct {
	cfg       config.PipelineConfig
	tasks     map[entities.PipelineState]StageTask
	reference repositories.ReferenceRepository
	events    providers.EventBus
	audit     repositories.CaseAuditRepository
	metrics   *observability.Metrics
	now       func() time.Time
}

// stageStates are the states that run a stage task
var stageStates = []entities.PipelineState{
	entities.StateIntake,
	entities.StateEmpirical,
	entities.StateVision,
	entities.StateTrend,
	entities.StatePharmacology,
}

// NewOrchestrator wires one task per stage state. reference enables
// per-run batched lookups; events, audit and metrics may be nil.
func NewOrchestrator(
	cfg config.PipelineConfig,
	tasks []StageTask,
	reference repositories.ReferenceRepository,
	events providers.EventBus,
	audit repositories.CaseAuditRepository,
	metrics *observability.Metrics,
) (*Orchestrator, error) {
	byState := make(map[entities.PipelineState]StageTask, len(tasks))
	for _, t := range tasks {
		if _, dup := byState[t.State()]; dup {
			return nil, fmt.Errorf("duplicate stage task for %s", t.State())
		}
		byState[t.State()] = t
	}
	for _, s := range stageStates {
		if _, ok := byState[s]; !ok {
			return nil, fmt.Errorf("no stage task for %s", s)
		}
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}

	return &Orchestrator{
		cfg:       cfg,
		tasks:     byState,
		reference: reference,
		events:    events,
		audit:     audit,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// NextState is the pure transition function. It reads only the case
// record, so routing can be re-derived from any snapshot.
func NextState(state entities.PipelineState, record *entities.CaseRecord) entities.PipelineState {
	switch state {
	case entities.StateIntake:
		return entities.StateRouteDecision
	case entities.StateRouteDecision:
		if record.LabRequested() {
			return entities.StateVision
		}
		return entities.StateEmpirical
	case entities.StateEmpirical:
		return entities.StatePharmacology
	case entities.StateVision:
		if record.HasSusceptibilityData() {
			return entities.StateTrend
		}
		return entities.StatePharmacology
	case entities.StateTrend:
		return entities.StatePharmacology
	case entities.StatePharmacology:
		return entities.StateDone
	default:
		return state
	}
}

// Run executes the pipeline for one request. The record is always
// returned; on FAILED the error carries the typed failure.
func (o *Orchestrator) Run(ctx context.Context, req entities.RunRequest) (*entities.CaseRecord, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	record := entities.NewCaseRecord(runID, req, o.now().UTC())

	ctx, span := observability.StartSpan(ctx, "pipeline.run")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("pipeline.run_id", runID))

	logger := observability.RunLogger(ctx, runID)
	ctx = logger.WithContext(ctx)
	if o.reference != nil {
		ctx = loaders.WithLoaders(ctx, loaders.NewLoaders(o.reference))
	}

	logger.Info().Bool("lab_requested", record.LabRequested()).Int("history", len(record.History)).Msg("pipeline run started")
	o.publish(ctx, record, "", 0, "run started")

	var runErr error
	for !record.State.Terminal() {
		state := record.State
		if err := ctx.Err(); err != nil {
			runErr = o.fail(ctx, record, state, apperrors.NewCancelledError("run cancelled before "+string(state), err))
			break
		}

		if state == entities.StateRouteDecision {
			record.Visited = append(record.Visited, entities.StageVisit{State: state, StartedAt: o.now().UTC()})
			o.transition(ctx, record, NextState(state, record))
			continue
		}

		if err := o.step(ctx, record); err != nil {
			runErr = err
			break
		}
	}

	o.finish(ctx, record)
	if runErr != nil {
		observability.RecordError(span, runErr)
	}
	return record, runErr
}

// step runs the stage task of the current state and applies its output.
// Only TRANSIENT_BACKEND errors reach another attempt: the stage deadline
// expiring or the selector being interrupted mid-chain. A chain whose every
// backend failed arrives as NO_BACKEND_AVAILABLE and fails the run at once.
func (o *Orchestrator) step(ctx context.Context, record *entities.CaseRecord) error {
	state := record.State
	task := o.tasks[state]
	logger := zerolog.Ctx(ctx).With().Str("state", string(state)).Logger()

	started := o.now()
	var (
		out      entities.StageOutput
		attempts int
	)
	err := retry.DoIf(ctx, retry.StageConfig(o.cfg.MaxStageRetries, o.cfg.RetryInitialDelay), string(state), apperrors.IsRetryable,
		func(attempt int) error {
			attempts = attempt
			res, err := o.attempt(logger.WithContext(ctx), task, record, attempt)
			if err != nil {
				return err
			}
			out = res
			return nil
		},
		func(attempt int, err error, nextDelay time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("stage failed, retrying")
			o.publish(ctx, record, state, attempt+1, "retrying after "+string(apperrors.TypeOf(err)))
		},
	)
	record.Visited = append(record.Visited, entities.StageVisit{
		State:     state,
		Attempts:  attempts,
		StartedAt: started.UTC(),
		Duration:  o.now().Sub(started),
	})

	// results arriving after cancellation are discarded
	if cerr := ctx.Err(); cerr != nil {
		return o.fail(ctx, record, state, apperrors.NewCancelledError("run cancelled during "+string(state), cerr))
	}
	if err != nil {
		return o.fail(ctx, record, state, err)
	}
	if err := o.apply(record, state, out); err != nil {
		return o.fail(ctx, record, state, err)
	}

	logger.Info().Int("attempts", attempts).Int("evidence", len(out.Items())).Msg("stage complete")
	o.transition(ctx, record, NextState(state, record))
	return nil
}

// attempt runs the task once under the stage timeout. Expiry of the stage
// deadline while the run is still live is a transient failure.
func (o *Orchestrator) attempt(ctx context.Context, task StageTask, record *entities.CaseRecord, attempt int) (entities.StageOutput, error) {
	parent := ctx
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "stage."+strings.ToLower(string(task.State())))
	defer span.End()
	observability.SetSpanAttributes(span, attribute.Int("pipeline.attempt", attempt))

	start := o.now()
	out, err := task.Run(ctx, record)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		err = apperrors.NewTransientBackendError(fmt.Sprintf("%s timed out after %s", task.State(), o.cfg.StageTimeout), err)
	}
	if err == nil && out == nil {
		err = apperrors.NewInternalError(fmt.Sprintf("%s returned no output", task.State()), nil)
	}
	observability.RecordStage(ctx, o.metrics, string(task.State()), attempt, o.now().Sub(start), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

// apply writes a stage output into the section owned by that stage. The
// prescription is checked against the full evidence log before it is written.
func (o *Orchestrator) apply(record *entities.CaseRecord, state entities.PipelineState, out entities.StageOutput) error {
	if out.OutputOf() != state {
		return apperrors.NewInternalError(fmt.Sprintf("%s stage returned %s output", state, out.OutputOf()), nil)
	}
	items := ranked(entities.EvidenceLog(out.Items()), state)

	switch v := out.(type) {
	case *entities.IntakeOutput:
		renal := v.Renal
		record.Renal = &renal
	case *entities.EmpiricalOutput:
		assessment := v.Assessment
		record.Empirical = &assessment
		o.markReduced(record, assessment.ServedBy)
	case *entities.VisionOutput:
		extract := v.Extract
		record.LabExtract = &extract
		o.markReduced(record, extract.ServedBy)
	case *entities.TrendOutput:
		report := v.Report
		record.Trend = &report
		o.markReduced(record, report.ServedBy)
	case *entities.PharmacologyOutput:
		rx := v.Prescription
		combined := append(append(entities.EvidenceLog{}, record.Evidence...), items...)
		if missing := rx.UncitedFields(combined); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, f := range missing {
				names[i] = string(f)
			}
			return apperrors.NewCitationMissingError(fmt.Sprintf("prescription for %q has uncited fields: %s", rx.Antibiotic, strings.Join(names, ", ")))
		}
		record.Prescription = &rx
		if rx.ReducedCapability {
			record.ReducedCapability = true
		}
	default:
		return apperrors.NewInternalError(fmt.Sprintf("unknown stage output %T", out), nil)
	}

	record.Evidence = append(record.Evidence, items...)
	return nil
}

func (o *Orchestrator) markReduced(record *entities.CaseRecord, served *entities.Provenance) {
	if served != nil && served.ReducedCapability {
		record.ReducedCapability = true
	}
}

func (o *Orchestrator) transition(ctx context.Context, record *entities.CaseRecord, next entities.PipelineState) {
	from := record.State
	record.State = next
	zerolog.Ctx(ctx).Debug().Str("from", string(from)).Str("to", string(next)).Msg("state transition")
	o.publish(ctx, record, from, 0, "")
}

// fail moves the record to FAILED without touching stage sections
func (o *Orchestrator) fail(ctx context.Context, record *entities.CaseRecord, state entities.PipelineState, err error) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternalError(fmt.Sprintf("%s stage failed", state), err)
	}
	record.Failure = &entities.FailureReason{
		Type:       string(appErr.Type),
		Stage:      state,
		Message:    err.Error(),
		Suggestion: suggestionFor(appErr.Type),
	}
	zerolog.Ctx(ctx).Error().Err(err).Str("state", string(state)).Str("failure_type", string(appErr.Type)).Msg("pipeline run failed")
	o.transition(ctx, record, entities.StateFailed)
	return appErr
}

func suggestionFor(t apperrors.ErrorType) string {
	switch t {
	case apperrors.ErrorTypeValidation:
		return "correct the listed patient fields and resubmit"
	case apperrors.ErrorTypeUnreadableDocument:
		return ManualEntrySuggestion
	case apperrors.ErrorTypeNoBackendAvailable:
		return "no reasoning backend could serve the request; check backend health and retry later"
	case apperrors.ErrorTypeTransientBackend:
		return "the reasoning backend did not answer in time; retry the run"
	case apperrors.ErrorTypeCitationMissing:
		return "the reference snapshot lacks evidence for the selected antibiotic; review the case manually"
	default:
		return ""
	}
}

// finish stamps completion, records metrics and persists the audit copy.
// Audit and events outlive a cancelled run context.
func (o *Orchestrator) finish(ctx context.Context, record *entities.CaseRecord) {
	completed := o.now().UTC()
	record.CompletedAt = &completed

	failureType := ""
	if record.Failure != nil {
		failureType = record.Failure.Type
	}
	observability.RecordRun(ctx, o.metrics, string(record.State), failureType)

	logger := zerolog.Ctx(ctx)
	if o.cfg.AuditEnabled && o.audit != nil {
		if err := o.audit.Save(context.WithoutCancel(ctx), record); err != nil {
			logger.Warn().Err(err).Msg("failed to persist case audit record")
		}
	}
	logger.Info().Str("state", string(record.State)).Int("evidence", len(record.Evidence)).
		Bool("reduced_capability", record.ReducedCapability).Msg("pipeline run finished")
}

func (o *Orchestrator) publish(ctx context.Context, record *entities.CaseRecord, from entities.PipelineState, attempt int, message string) {
	if !o.cfg.EventsEnabled || o.events == nil {
		return
	}
	event := &entities.PipelineEvent{
		RunID:     record.RunID,
		State:     record.State,
		From:      from,
		Attempt:   attempt,
		Message:   message,
		Timestamp: o.now().UTC(),
	}
	if record.Failure != nil && record.State == entities.StateFailed {
		event.Message = record.Failure.Type + ": " + record.Failure.Message
	}

	pctx := context.WithoutCancel(ctx)
	for _, channel := range []string{providers.GetRunChannel(record.RunID), providers.EventChannelRuns} {
		if err := o.events.Publish(pctx, channel, event); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("channel", channel).Msg("failed to publish pipeline event")
		}
	}
}

// BatchResult is the outcome of one run of a batch
type BatchResult struct {
	Record *entities.CaseRecord
	Err    error
}

// RunBatch runs independent requests concurrently, at most
// MaxConcurrentRuns at a time. Results keep request order; one failed run
// never stops the others.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []entities.RunRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentRuns)
	for i := range reqs {
		g.Go(func() error {
			record, err := o.Run(ctx, reqs[i])
			results[i] = BatchResult{Record: record, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
