package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"github.com/zatekoja/amrguard/pkg/utils"
)

// Fold-change thresholds
const (
	ratioHigh     = 4.0
	ratioModerate = 2.0

	directionUp   = 1.5
	directionDown = 0.67
)

// TrendEngine detects upward MIC drift against the earliest reading in the
// retention window
type TrendEngine struct {
	reference  repositories.ReferenceRepository
	normalizer *utils.ClinicalNameNormalizer
	retention  time.Duration
	now        func() time.Time
}

// NewTrendEngine creates a trend engine with a retention window in days
func NewTrendEngine(reference repositories.ReferenceRepository, normalizer *utils.ClinicalNameNormalizer, retentionDays int) *TrendEngine {
	if retentionDays <= 0 {
		retentionDays = 730
	}
	return &TrendEngine{
		reference:  reference,
		normalizer: normalizer,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		now:        time.Now,
	}
}

// RiskTierFor is the tier for a fold change. CRITICAL needs both a
// two-step dilution rise and a Resistant category.
func RiskTierFor(ratio float64, category entities.SusceptibilityCategory) entities.RiskTier {
	switch {
	case ratio >= ratioHigh && category == entities.CategoryResistant:
		return entities.RiskCritical
	case ratio >= ratioHigh:
		return entities.RiskHigh
	case ratio >= ratioModerate:
		return entities.RiskModerate
	default:
		return entities.RiskLow
	}
}

// DirectionFor summarises a fold change
func DirectionFor(ratio float64) entities.TrendDirection {
	switch {
	case ratio > directionUp:
		return entities.TrendIncreasing
	case ratio < directionDown:
		return entities.TrendDecreasing
	default:
		return entities.TrendStable
	}
}

// Assess computes the trend for one pair. It is a pure function of its
// inputs and the engine clock. A missing or non-positive current or
// baseline value is INVALID_CONCENTRATION.
func (e *TrendEngine) Assess(pathogen string, current entities.SusceptibilityResult, history []entities.HistoricalReading, breakpoint *entities.Breakpoint) (entities.TrendAssessment, error) {
	a := entities.TrendAssessment{
		Pathogen:   pathogen,
		Antibiotic: current.Antibiotic,
		Category:   current.Category,
		Direction:  entities.TrendUndefined,
	}
	if current.MIC == nil || *current.MIC <= 0 {
		return a, apperrors.NewInvalidConcentrationError(fmt.Sprintf("current MIC for %s/%s is missing or not positive", pathogen, current.Antibiotic))
	}
	a.Current = *current.MIC

	if breakpoint != nil {
		a.SusceptibleBP = breakpoint.MICSusceptible
		if a.Category == entities.CategoryUnknown {
			a.Category = breakpoint.Interpret(a.Current)
		}
	}

	window := e.window(pathogen, current.Antibiotic, history)
	a.ReadingCount = len(window) + 1
	if len(window) == 0 {
		a.FirstObservation = true
		a.Tier = entities.RiskLow
		a.Rationale = fmt.Sprintf("First observation of %s against %s (MIC %g): no baseline in the retention window, treated as LOW risk.",
			current.Antibiotic, pathogen, a.Current)
		return a, nil
	}

	baseline := window[0]
	if baseline.MIC == nil || *baseline.MIC <= 0 {
		return a, apperrors.NewInvalidConcentrationError(fmt.Sprintf("baseline MIC for %s/%s observed %s is missing or not positive",
			pathogen, current.Antibiotic, baseline.ObservedAt.Format("2006-01-02")))
	}

	ratio := a.Current / *baseline.MIC
	observed := baseline.ObservedAt
	a.Baseline = baseline.MIC
	a.BaselineObservedAt = &observed
	a.Ratio = &ratio
	a.Tier = RiskTierFor(ratio, a.Category)
	a.Direction = DirectionFor(ratio)

	velocity := math.Pow(ratio, 1/float64(a.ReadingCount-1))
	a.Velocity = &velocity
	if bp := a.SusceptibleBP; bp != nil && velocity > 1 && a.Current < *bp {
		remaining := math.Log2(*bp/a.Current) / math.Log2(velocity)
		a.ReadingsToResist = &remaining
	}

	a.Rationale = trendRationale(a)
	return a, nil
}

// window returns readings for the pair inside the retention window, oldest first
func (e *TrendEngine) window(pathogen, antibiotic string, history []entities.HistoricalReading) []entities.HistoricalReading {
	cutoff := e.now().Add(-e.retention)
	var out []entities.HistoricalReading
	for _, h := range history {
		if !e.samePair(h, pathogen, antibiotic) || h.ObservedAt.Before(cutoff) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out
}

func (e *TrendEngine) samePair(h entities.HistoricalReading, pathogen, antibiotic string) bool {
	if h.Matches(pathogen, antibiotic) {
		return true
	}
	return e.normalizer.Organism(h.Pathogen) == pathogen && e.normalizer.Antibiotic(h.Antibiotic) == antibiotic
}

func trendRationale(a entities.TrendAssessment) string {
	fold := *a.Ratio
	base := fmt.Sprintf("MIC of %s against %s moved from %g to %g (%.1f-fold over %d readings)",
		a.Antibiotic, a.Pathogen, *a.Baseline, a.Current, fold, a.ReadingCount)
	switch a.Tier {
	case entities.RiskCritical:
		return base + ": two-step dilution increase on an isolate already reported Resistant, compounding the risk of treatment failure."
	case entities.RiskHigh:
		return fmt.Sprintf("%s: two-step dilution increase, risk of treatment failure even though the isolate is still reported %s.", base, a.Category)
	case entities.RiskModerate:
		return base + ": rising MIC, monitor and consider alternatives if the trend continues."
	default:
		return base + ": no clinically significant drift."
	}
}

// Report evaluates every triple of the lab extract. An invalid value only
// fails its own pair; reference store failures fail the report.
func (e *TrendEngine) Report(ctx context.Context, extract *entities.LabExtract, history []entities.HistoricalReading) (*entities.TrendReport, error) {
	report := &entities.TrendReport{Assessments: []entities.TrendAssessment{}}
	if extract == nil {
		return report, nil
	}

	for _, result := range extract.Results {
		bp, err := lookupBreakpoint(ctx, e.reference, e.normalizer, extract.Pathogen, result.Antibiotic)
		if err != nil {
			return nil, err
		}
		a, err := e.Assess(extract.Pathogen, result, history, bp)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrorTypeInvalidConcentration) {
				report.Failures = append(report.Failures, entities.TrendFailure{
					Pathogen:   extract.Pathogen,
					Antibiotic: result.Antibiotic,
					Reason:     err.Error(),
				})
				continue
			}
			return nil, err
		}
		report.Assessments = append(report.Assessments, a)
	}

	entities.SortAssessments(report.Assessments)
	return report, nil
}
