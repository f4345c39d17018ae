package repositories

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// AntibioticFilter defines filters for antibiotic classification lookups
type AntibioticFilter struct {
	Name  string
	Tier  entities.StewardshipTier
	Limit int
}

// SusceptibilityFilter defines filters for surveillance lookups
type SusceptibilityFilter struct {
	Species    string
	Antibiotic string
	Region     string
	MinYear    int
	Limit      int
}

// ReferenceRepository defines read-only queries over the structured reference
// tables. Name fields match case-insensitively on substrings. Every method
// reads from the active snapshot only.
type ReferenceRepository interface {
	// FindAntibiotics returns classification rows matching the filter
	FindAntibiotics(ctx context.Context, filter AntibioticFilter) ([]*entities.Antibiotic, error)

	// FindAntibioticsByNames resolves several names in one round trip, keyed by the requested name
	FindAntibioticsByNames(ctx context.Context, names []string) (map[string][]*entities.Antibiotic, error)

	// FindSusceptibility returns surveillance rows matching the filter
	FindSusceptibility(ctx context.Context, filter SusceptibilityFilter) ([]*entities.SusceptibilityRate, error)

	// FindBreakpoints returns breakpoint rows for a pathogen group and antibiotic
	FindBreakpoints(ctx context.Context, pathogen, antibiotic string) ([]*entities.Breakpoint, error)

	// FindInteractions returns interaction rows for the drug pair in either order
	FindInteractions(ctx context.Context, drugA, drugB string) ([]*entities.DrugInteraction, error)

	// FindDosageRules returns dosing rows for an antibiotic at a renal category,
	// including rows recorded for any renal category
	FindDosageRules(ctx context.Context, antibiotic string, renal entities.RenalCategory) ([]*entities.DosageRule, error)

	// SnapshotVersion identifies the active reference snapshot
	SnapshotVersion() string
}
