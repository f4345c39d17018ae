package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/zatekoja/amrguard/internal/application/loaders"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"github.com/zatekoja/amrguard/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
)

// QueryKind selects a retrieval query
type QueryKind string

const (
	QueryAntibioticLookup QueryKind = "antibiotic_lookup"
	QuerySusceptibility   QueryKind = "pathogen_susceptibility"
	QueryConcentration    QueryKind = "concentration_interpretation"
	QueryInteraction      QueryKind = "interaction_check"
	QueryGuideline        QueryKind = "guideline_search"
)

// RetrievalQuery is a typed query. Only the fields of its kind are read.
type RetrievalQuery struct {
	Kind       QueryKind                `json:"kind"`
	Antibiotic string                   `json:"antibiotic,omitempty"`
	Tier       entities.StewardshipTier `json:"tier,omitempty"`
	Pathogen   string                   `json:"pathogen,omitempty"`
	Region     string                   `json:"region,omitempty"`
	MIC        *float64                 `json:"mic,omitempty"`
	DrugA      string                   `json:"drug_a,omitempty"`
	DrugB      string                   `json:"drug_b,omitempty"`
	Text       string                   `json:"text,omitempty"`
	K          int                      `json:"k,omitempty"`
	Filter     repositories.ChunkFilter `json:"filter"`
}

// RetrievalFusion answers typed queries over the reference store and the
// semantic index with ranked, provenance-tagged evidence
type RetrievalFusion struct {
	reference  repositories.ReferenceRepository
	index      repositories.SemanticIndexRepository
	normalizer *utils.ClinicalNameNormalizer
	defaultK   int
}

// NewRetrievalFusion creates a new retrieval fusion service
func NewRetrievalFusion(reference repositories.ReferenceRepository, index repositories.SemanticIndexRepository, normalizer *utils.ClinicalNameNormalizer, defaultK int) *RetrievalFusion {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &RetrievalFusion{reference: reference, index: index, normalizer: normalizer, defaultK: defaultK}
}

// SnapshotVersion identifies the reference snapshot answering queries
func (f *RetrievalFusion) SnapshotVersion() string {
	return f.reference.SnapshotVersion()
}

// Retrieve dispatches a typed query
func (f *RetrievalFusion) Retrieve(ctx context.Context, q RetrievalQuery) (entities.EvidenceLog, error) {
	ctx, span := observability.StartSpan(ctx, "retrieval."+string(q.Kind))
	defer span.End()

	var (
		log entities.EvidenceLog
		err error
	)
	switch q.Kind {
	case QueryAntibioticLookup:
		log, err = f.LookupAntibiotics(ctx, q.Antibiotic, q.Tier)
	case QuerySusceptibility:
		log, err = f.Susceptibility(ctx, q.Pathogen, q.Antibiotic, q.Region)
	case QueryConcentration:
		if q.MIC == nil {
			return nil, apperrors.NewValidationError("mic is required for concentration interpretation")
		}
		_, log, err = f.InterpretConcentration(ctx, q.Pathogen, q.Antibiotic, *q.MIC)
	case QueryInteraction:
		_, log, err = f.CheckInteraction(ctx, q.DrugA, q.DrugB)
	case QueryGuideline:
		log, err = f.GuidelineSearch(ctx, q.Text, q.K, q.Filter)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown query kind %q", q.Kind))
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.SetSpanAttributes(span, attribute.Int("evidence.count", len(log)))
	return log, nil
}

// Fuse places authoritative structured evidence ahead of semantic context.
// The two classes are never merged or deduplicated.
func Fuse(structured, semantic entities.EvidenceLog) entities.EvidenceLog {
	out := make(entities.EvidenceLog, 0, len(structured)+len(semantic))
	out = append(out, structured...)
	return append(out, semantic...)
}

// LookupAntibiotics returns classification rows ordered ACCESS, WATCH,
// RESERVE and then by year descending. Name-only lookups go through the
// per-run loader when one is attached to ctx.
func (f *RetrievalFusion) LookupAntibiotics(ctx context.Context, name string, tier entities.StewardshipTier) (entities.EvidenceLog, error) {
	rows, err := f.antibiotics(ctx, name, tier)
	if err != nil {
		return nil, err
	}
	sortAntibiotics(rows)

	log := entities.EvidenceLog{}
	for _, a := range rows {
		log = append(log, AntibioticEvidence(a))
	}
	return log, nil
}

// AntibioticEvidence cites a classification row
func AntibioticEvidence(a *entities.Antibiotic) entities.EvidenceItem {
	return newEvidence(entities.SourceReferenceStore, entities.EvidenceAntibiotic,
		fmt.Sprintf("eml_antibiotics#%d", a.ID),
		fmt.Sprintf("%s: WHO AWaRe %s (EML %d)", a.MedicineName, a.Tier, a.Year),
		a, 1)
}

// AntibioticsByName resolves several names at once, keyed by normalised
// name. With a loader attached the lookups share one batch.
func (f *RetrievalFusion) AntibioticsByName(ctx context.Context, names []string) (map[string][]*entities.Antibiotic, error) {
	seen := make(map[string]bool, len(names))
	keys := make([]string, 0, len(names))
	for _, n := range names {
		n = f.normalizer.Antibiotic(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		keys = append(keys, n)
	}
	out := make(map[string][]*entities.Antibiotic, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	l := loaders.For(ctx)
	if l == nil {
		rows, err := f.reference.FindAntibioticsByNames(ctx, keys)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			sortAntibiotics(rows[k])
			out[k] = rows[k]
		}
		return out, nil
	}

	thunks := make([]dataloader.Thunk[[]*entities.Antibiotic], len(keys))
	for i, k := range keys {
		thunks[i] = l.AntibioticLoader.Load(ctx, k)
	}
	for i, thunk := range thunks {
		rows, err := thunk()
		if err != nil {
			return nil, err
		}
		sortAntibiotics(rows)
		out[keys[i]] = rows
	}
	return out, nil
}

// BestAntibiotic picks the classification row for a name: an exact name
// match when there is one, otherwise the highest-priority partial match.
// A nil row means the name is not classified.
func BestAntibiotic(name string, rows []*entities.Antibiotic) *entities.Antibiotic {
	for _, a := range rows {
		if strings.EqualFold(a.MedicineName, name) {
			return a
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func (f *RetrievalFusion) antibiotics(ctx context.Context, name string, tier entities.StewardshipTier) ([]*entities.Antibiotic, error) {
	name = f.normalizer.Antibiotic(name)
	if l := loaders.For(ctx); l != nil && tier == "" && name != "" {
		return l.AntibioticLoader.Load(ctx, name)()
	}
	return f.reference.FindAntibiotics(ctx, repositories.AntibioticFilter{Name: name, Tier: tier})
}

func sortAntibiotics(rows []*entities.Antibiotic) {
	sort.SliceStable(rows, func(i, j int) bool {
		if pi, pj := rows[i].Tier.Priority(), rows[j].Tier.Priority(); pi != pj {
			return pi < pj
		}
		return rows[i].Year > rows[j].Year
	})
}

// Susceptibility returns surveillance rows, most recent first
func (f *RetrievalFusion) Susceptibility(ctx context.Context, species, antibiotic, region string) (entities.EvidenceLog, error) {
	rows, err := f.reference.FindSusceptibility(ctx, repositories.SusceptibilityFilter{
		Species:    f.normalizer.Organism(species),
		Antibiotic: f.normalizer.Antibiotic(antibiotic),
		Region:     region,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year > rows[j].Year
		}
		return rows[i].PercentSusceptible > rows[j].PercentSusceptible
	})

	log := entities.EvidenceLog{}
	for _, r := range rows {
		log = append(log, newEvidence(entities.SourceReferenceStore, entities.EvidenceSusceptibility,
			fmt.Sprintf("atlas_susceptibility#%d", r.ID),
			fmt.Sprintf("%s vs %s: %.1f%% susceptible, %.1f%% resistant (n=%d, %d%s)",
				r.Species, r.Antibiotic, r.PercentSusceptible, r.PercentResistant, r.TotalIsolates, r.Year, regionSuffix(r.Region)),
			r, r.PercentSusceptible/100))
	}
	return log, nil
}

func regionSuffix(region string) string {
	if region == "" {
		return ""
	}
	return ", " + region
}

// InterpretConcentration classifies a MIC against the matching breakpoint.
// Without a breakpoint the category is unknown and the log is empty.
func (f *RetrievalFusion) InterpretConcentration(ctx context.Context, pathogen, antibiotic string, mic float64) (entities.SusceptibilityCategory, entities.EvidenceLog, error) {
	if mic <= 0 {
		return entities.CategoryUnknown, nil, apperrors.NewInvalidConcentrationError(fmt.Sprintf("MIC %g is not positive", mic))
	}
	bp, err := lookupBreakpoint(ctx, f.reference, f.normalizer, f.normalizer.Organism(pathogen), f.normalizer.Antibiotic(antibiotic))
	if err != nil {
		return entities.CategoryUnknown, nil, err
	}
	if bp == nil {
		return entities.CategoryUnknown, entities.EvidenceLog{}, nil
	}

	category := bp.Interpret(mic)
	return category, entities.EvidenceLog{BreakpointEvidence(bp, mic, category)}, nil
}

// BreakpointEvidence cites a breakpoint row for a MIC reading
func BreakpointEvidence(bp *entities.Breakpoint, mic float64, category entities.SusceptibilityCategory) entities.EvidenceItem {
	snippet := fmt.Sprintf("%s / %s: MIC %g is %s", bp.PathogenGroup, bp.Antibiotic, mic, category)
	if bp.MICSusceptible != nil {
		snippet += fmt.Sprintf(" (S <= %g, %.2fx the susceptible breakpoint)", *bp.MICSusceptible, mic / *bp.MICSusceptible)
	}
	if bp.MICResistant != nil {
		snippet += fmt.Sprintf(" (R > %g)", *bp.MICResistant)
	}
	return newEvidence(entities.SourceReferenceStore, entities.EvidenceBreakpoint,
		fmt.Sprintf("mic_breakpoints#%d", bp.ID), snippet, bp, 1)
}

// lookupBreakpoint finds the most recent breakpoint for the organism,
// falling back to its breakpoint group (E. coli -> Enterobacterales)
func lookupBreakpoint(ctx context.Context, reference repositories.ReferenceRepository, normalizer *utils.ClinicalNameNormalizer, pathogen, antibiotic string) (*entities.Breakpoint, error) {
	rows, err := reference.FindBreakpoints(ctx, pathogen, antibiotic)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if group := normalizer.BreakpointGroup(pathogen); group != "" && !strings.EqualFold(group, pathogen) {
			if rows, err = reference.FindBreakpoints(ctx, group, antibiotic); err != nil {
				return nil, err
			}
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.Year > best.Year {
			best = r
		}
	}
	return best, nil
}

// CheckInteraction looks up the unordered pair. When a pair is recorded
// under several mechanisms only the most severe row is returned, so (A,B)
// and (B,A) always yield the same evidence.
func (f *RetrievalFusion) CheckInteraction(ctx context.Context, drugA, drugB string) (*entities.DrugInteraction, entities.EvidenceLog, error) {
	a, b := f.normalizer.Antibiotic(drugA), f.normalizer.Antibiotic(drugB)
	if a == "" || b == "" {
		return nil, nil, apperrors.NewValidationError("both drugs are required for an interaction check")
	}
	rows, err := f.reference.FindInteractions(ctx, a, b)
	if err != nil {
		return nil, nil, err
	}

	pairs := HighestSeverityPerPair(rows)
	log := entities.EvidenceLog{}
	for _, r := range pairs {
		log = append(log, InteractionEvidence(r))
	}
	if len(pairs) == 0 {
		return nil, log, nil
	}
	return pairs[0], log, nil
}

// HighestSeverityPerPair keeps the most severe row per unordered pair,
// ordered by severity then pair key
func HighestSeverityPerPair(rows []*entities.DrugInteraction) []*entities.DrugInteraction {
	best := make(map[string]*entities.DrugInteraction)
	for _, r := range rows {
		key := r.PairKey()
		cur, ok := best[key]
		if !ok || r.Severity.Rank() > cur.Severity.Rank() || (r.Severity.Rank() == cur.Severity.Rank() && r.ID < cur.ID) {
			best[key] = r
		}
	}
	out := make([]*entities.DrugInteraction, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].PairKey() < out[j].PairKey()
	})
	return out
}

// InteractionEvidence cites an interaction row
func InteractionEvidence(r *entities.DrugInteraction) entities.EvidenceItem {
	return newEvidence(entities.SourceReferenceStore, entities.EvidenceInteraction,
		fmt.Sprintf("drug_interaction_lookup#%d", r.ID),
		fmt.Sprintf("%s + %s (%s): %s", r.Drug1, r.Drug2, r.Severity, r.Description),
		r, float64(r.Severity.Rank())/3)
}

// NoKnownInteraction is the affirmative claim for an empty interaction lookup
func NoKnownInteraction(drugA, drugB, snapshot string) entities.EvidenceItem {
	return newEvidence(entities.SourceReferenceStore, entities.EvidenceInteraction,
		fmt.Sprintf("drug_interaction_lookup@%s", snapshot),
		fmt.Sprintf("No known interaction between %s and %s in the interaction table", drugA, drugB),
		nil, 1)
}

// GuidelineSearch returns the k nearest guideline chunks
func (f *RetrievalFusion) GuidelineSearch(ctx context.Context, text string, k int, filter repositories.ChunkFilter) (entities.EvidenceLog, error) {
	if k <= 0 {
		k = f.defaultK
	}
	if f.index == nil || strings.TrimSpace(text) == "" {
		return entities.EvidenceLog{}, nil
	}
	chunks, err := f.index.Search(ctx, text, k, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.Year > chunks[j].Chunk.Year
	})

	log := entities.EvidenceLog{}
	for _, c := range chunks {
		locator := c.Chunk.Source
		if c.Chunk.Page > 0 {
			locator = fmt.Sprintf("%s p.%d", c.Chunk.Source, c.Chunk.Page)
		}
		log = append(log, newEvidence(entities.SourceSemanticIndex, entities.EvidenceGuideline,
			locator, truncate(c.Chunk.Text, 500), c.Chunk, c.Score))
	}
	return log, nil
}

// Dosage returns the best dosing row for an antibiotic at a renal category,
// preferring an exact renal match, then a row whose indication names the
// infection site
func (f *RetrievalFusion) Dosage(ctx context.Context, antibiotic string, renal entities.RenalCategory, site string) (*entities.DosageRule, entities.EvidenceLog, error) {
	rows, err := f.reference.FindDosageRules(ctx, f.normalizer.Antibiotic(antibiotic), renal)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, entities.EvidenceLog{}, nil
	}

	site = strings.ToLower(strings.TrimSpace(site))
	score := func(r *entities.DosageRule) int {
		s := 0
		if r.RenalCategory == renal {
			s += 2
		}
		if site != "" && r.Indication != "" && (strings.Contains(site, strings.ToLower(r.Indication)) || strings.Contains(strings.ToLower(r.Indication), site)) {
			s++
		}
		return s
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if score(r) > score(best) {
			best = r
		}
	}

	item := newEvidence(entities.SourceReferenceStore, entities.EvidenceDosage,
		fmt.Sprintf("dosage_rules#%d", best.ID),
		fmt.Sprintf("%s (%s, renal %s): %s %s %s for %s", best.Antibiotic, orDash(best.Indication), best.RenalCategory, best.Dose, best.Route, best.Frequency, best.Duration),
		best, 1)
	return best, entities.EvidenceLog{item}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
