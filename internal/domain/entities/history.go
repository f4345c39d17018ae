package entities

import (
	"strings"
	"time"
)

// HistoricalReading is a prior concentration measurement for this patient.
// Readings are append-only and supplied by the caller.
type HistoricalReading struct {
	Pathogen   string                 `json:"pathogen"`
	Antibiotic string                 `json:"antibiotic"`
	MIC        *float64               `json:"mic"`
	Category   SusceptibilityCategory `json:"category,omitempty"`
	ObservedAt time.Time              `json:"observed_at"`
	Source     string                 `json:"source,omitempty"`
}

// Matches reports whether the reading belongs to the (pathogen, antibiotic) pair
func (h HistoricalReading) Matches(pathogen, antibiotic string) bool {
	return strings.EqualFold(h.Pathogen, pathogen) && strings.EqualFold(h.Antibiotic, antibiotic)
}
