package entities

import (
	"sort"
	"time"
)

// RiskTier grades concentration drift against the baseline reading
type RiskTier string

const (
	RiskLow      RiskTier = "LOW"
	RiskModerate RiskTier = "MODERATE"
	RiskHigh     RiskTier = "HIGH"
	RiskCritical RiskTier = "CRITICAL"
)

// Rank orders tiers from LOW (0) to CRITICAL (3)
func (t RiskTier) Rank() int {
	switch t {
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// TrendDirection summarises the fold change across the window
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "INCREASING"
	TrendStable     TrendDirection = "STABLE"
	TrendDecreasing TrendDirection = "DECREASING"
	TrendUndefined  TrendDirection = "UNDEFINED"
)

// TrendAssessment is the drift verdict for one (pathogen, antibiotic) pair
type TrendAssessment struct {
	Pathogen           string                 `json:"pathogen"`
	Antibiotic         string                 `json:"antibiotic"`
	Baseline           *float64               `json:"baseline,omitempty"`
	BaselineObservedAt *time.Time             `json:"baseline_observed_at,omitempty"`
	Current            float64                `json:"current"`
	Ratio              *float64               `json:"ratio,omitempty"`
	Tier               RiskTier               `json:"tier"`
	Category           SusceptibilityCategory `json:"category"`
	FirstObservation   bool                   `json:"first_observation"`
	ReadingCount       int                    `json:"reading_count"`
	Velocity           *float64               `json:"velocity,omitempty"`
	Direction          TrendDirection         `json:"direction"`
	SusceptibleBP      *float64               `json:"susceptible_breakpoint,omitempty"`
	ReadingsToResist   *float64               `json:"readings_to_resistance,omitempty"`
	Rationale          string                 `json:"rationale"`
}

// Qualifying reports whether the pair shows drift worth reporting
func (a TrendAssessment) Qualifying() bool {
	return a.Tier.Rank() >= RiskModerate.Rank()
}

// TrendFailure records a pair whose trend could not be computed
type TrendFailure struct {
	Pathogen   string `json:"pathogen"`
	Antibiotic string `json:"antibiotic"`
	Reason     string `json:"reason"`
}

// TrendReport aggregates per-pair assessments and failures for one lab extract
type TrendReport struct {
	Assessments []TrendAssessment `json:"assessments"`
	Failures    []TrendFailure    `json:"failures,omitempty"`
	Narrative   string            `json:"narrative,omitempty"`
	ServedBy    *Provenance       `json:"served_by,omitempty"`
}

// SortAssessments orders by pathogen, then ratio descending. Pairs without a
// ratio sort last within their pathogen.
func SortAssessments(assessments []TrendAssessment) {
	sort.SliceStable(assessments, func(i, j int) bool {
		a, b := assessments[i], assessments[j]
		if a.Pathogen != b.Pathogen {
			return a.Pathogen < b.Pathogen
		}
		switch {
		case a.Ratio == nil && b.Ratio == nil:
			return a.Antibiotic < b.Antibiotic
		case a.Ratio == nil:
			return false
		case b.Ratio == nil:
			return true
		case *a.Ratio != *b.Ratio:
			return *a.Ratio > *b.Ratio
		default:
			return a.Antibiotic < b.Antibiotic
		}
	})
}

// Qualifying returns every qualifying assessment in report order
func (r *TrendReport) Qualifying() []TrendAssessment {
	var out []TrendAssessment
	for _, a := range r.Assessments {
		if a.Qualifying() {
			out = append(out, a)
		}
	}
	return out
}

// For returns the assessment for a pair, if any
func (r *TrendReport) For(pathogen, antibiotic string) (TrendAssessment, bool) {
	for _, a := range r.Assessments {
		if a.Pathogen == pathogen && a.Antibiotic == antibiotic {
			return a, true
		}
	}
	return TrendAssessment{}, false
}
