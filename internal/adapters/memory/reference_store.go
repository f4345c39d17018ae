package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// ReferenceStore serves an immutable reference snapshot from memory. A new
// snapshot is installed with a single pointer swap; readers holding the old
// one finish against it.
type ReferenceStore struct {
	snap atomic.Pointer[entities.ReferenceSnapshot]
}

// NewReferenceStore creates a store serving the given snapshot
func NewReferenceStore(snap *entities.ReferenceSnapshot) *ReferenceStore {
	s := &ReferenceStore{}
	if snap == nil {
		snap = &entities.ReferenceSnapshot{}
	}
	s.snap.Store(snap)
	return s
}

// LoadSnapshotFile reads a JSON snapshot from disk
func LoadSnapshotFile(path string) (*entities.ReferenceSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snap entities.ReferenceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("snapshot file %s has no version", path)
	}
	return &snap, nil
}

// Swap installs a new snapshot and returns the previous one
func (s *ReferenceStore) Swap(snap *entities.ReferenceSnapshot) *entities.ReferenceSnapshot {
	return s.snap.Swap(snap)
}

// SnapshotVersion returns the active snapshot version
func (s *ReferenceStore) SnapshotVersion() string {
	return s.snap.Load().Version
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
}

func sortAntibiotics(rows []*entities.Antibiotic) {
	sort.SliceStable(rows, func(i, j int) bool {
		if pi, pj := rows[i].Tier.Priority(), rows[j].Tier.Priority(); pi != pj {
			return pi < pj
		}
		if rows[i].Year != rows[j].Year {
			return rows[i].Year > rows[j].Year
		}
		return rows[i].MedicineName < rows[j].MedicineName
	})
}

// FindAntibiotics returns classification rows ordered ACCESS, WATCH, RESERVE then year descending
func (s *ReferenceStore) FindAntibiotics(ctx context.Context, filter repositories.AntibioticFilter) ([]*entities.Antibiotic, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("reference lookup cancelled", err)
	}
	out := []*entities.Antibiotic{}
	for _, ab := range s.snap.Load().Antibiotics {
		if filter.Name != "" && !containsFold(ab.MedicineName, filter.Name) {
			continue
		}
		if filter.Tier != "" && !strings.EqualFold(string(ab.Tier), string(filter.Tier)) {
			continue
		}
		out = append(out, ab)
	}
	sortAntibiotics(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindAntibioticsByNames resolves several names against one snapshot
func (s *ReferenceStore) FindAntibioticsByNames(ctx context.Context, names []string) (map[string][]*entities.Antibiotic, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("reference lookup cancelled", err)
	}
	snap := s.snap.Load()
	out := make(map[string][]*entities.Antibiotic, len(names))
	for _, name := range names {
		matched := []*entities.Antibiotic{}
		for _, ab := range snap.Antibiotics {
			if containsFold(ab.MedicineName, name) {
				matched = append(matched, ab)
			}
		}
		sortAntibiotics(matched)
		out[name] = matched
	}
	return out, nil
}

// FindSusceptibility returns surveillance rows ordered by year descending then percent susceptible descending
func (s *ReferenceStore) FindSusceptibility(ctx context.Context, filter repositories.SusceptibilityFilter) ([]*entities.SusceptibilityRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("reference lookup cancelled", err)
	}
	out := []*entities.SusceptibilityRate{}
	for _, r := range s.snap.Load().Susceptibility {
		if filter.Species != "" && !containsFold(r.Species, filter.Species) {
			continue
		}
		if filter.Antibiotic != "" && !containsFold(r.Antibiotic, filter.Antibiotic) {
			continue
		}
		if filter.Region != "" && !containsFold(r.Region, filter.Region) {
			continue
		}
		if filter.MinYear > 0 && r.Year < filter.MinYear {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].PercentSusceptible > out[j].PercentSusceptible
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// FindBreakpoints returns breakpoint rows for a pathogen group and antibiotic, newest first
func (s *ReferenceStore) FindBreakpoints(ctx context.Context, pathogen, antibiotic string) ([]*entities.Breakpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("reference lookup cancelled", err)
	}
	out := []*entities.Breakpoint{}
	for _, bp := range s.snap.Load().Breakpoints {
		if containsFold(bp.PathogenGroup, pathogen) && containsFold(bp.Antibiotic, antibiotic) {
			out = append(out, bp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	return out, nil
}

// FindInteractions matches the pair in either column order
func (s *ReferenceStore) FindInteractions(ctx context.Context, drugA, drugB string) ([]*entities.DrugInteraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("reference lookup cancelled", err)
	}
	out := []*entities.DrugInteraction{}
	for _, di := range s.snap.Load().Interactions {
		forward := containsFold(di.Drug1, drugA) && containsFold(di.Drug2, drugB)
		reverse := containsFold(di.Drug1, drugB) && containsFold(di.Drug2, drugA)
		if forward || reverse {
			out = append(out, di)
		}
	}
	return out, nil
}

// FindDosageRules returns rows for the renal category first, then rows for any renal category
func (s *ReferenceStore) FindDosageRules(ctx context.Context, antibiotic string, renal entities.RenalCategory) ([]*entities.DosageRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("reference lookup cancelled", err)
	}
	var exact, fallback []*entities.DosageRule
	for _, d := range s.snap.Load().DosageRules {
		if !containsFold(d.Antibiotic, antibiotic) {
			continue
		}
		switch d.RenalCategory {
		case renal:
			exact = append(exact, d)
		case entities.RenalAny:
			fallback = append(fallback, d)
		}
	}
	return append(append([]*entities.DosageRule{}, exact...), fallback...), nil
}
