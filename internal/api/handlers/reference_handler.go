package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
)

// ReferenceLookup is the retrieval surface exposed over HTTP
type ReferenceLookup interface {
	LookupAntibiotics(ctx context.Context, name string, tier entities.StewardshipTier) (entities.EvidenceLog, error)
	Susceptibility(ctx context.Context, species, antibiotic, region string) (entities.EvidenceLog, error)
	InterpretConcentration(ctx context.Context, pathogen, antibiotic string, mic float64) (entities.SusceptibilityCategory, entities.EvidenceLog, error)
	CheckInteraction(ctx context.Context, drugA, drugB string) (*entities.DrugInteraction, entities.EvidenceLog, error)
	GuidelineSearch(ctx context.Context, text string, k int, filter repositories.ChunkFilter) (entities.EvidenceLog, error)
	SnapshotVersion() string
}

// ReferenceHandler handles reference store and guideline lookups
type ReferenceHandler struct {
	lookup ReferenceLookup
}

// NewReferenceHandler creates a new reference handler
func NewReferenceHandler(lookup ReferenceLookup) *ReferenceHandler {
	return &ReferenceHandler{
		lookup: lookup,
	}
}

func (h *ReferenceHandler) respondWithEvidence(w http.ResponseWriter, evidence entities.EvidenceLog, extra map[string]interface{}) {
	body := map[string]interface{}{
		"evidence":         evidence,
		"count":            len(evidence),
		"snapshot_version": h.lookup.SnapshotVersion(),
	}
	for k, v := range extra {
		body[k] = v
	}
	respondWithJSON(w, http.StatusOK, body)
}

// ListAntibiotics handles GET /api/v1/reference/antibiotics?name=&tier=
func (h *ReferenceHandler) ListAntibiotics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tier := entities.StewardshipTier(strings.ToUpper(q.Get("tier")))
	if tier != "" && tier.Priority() > entities.TierReserve.Priority() {
		respondWithError(w, http.StatusBadRequest, "tier must be ACCESS, WATCH or RESERVE")
		return
	}

	evidence, err := h.lookup.LookupAntibiotics(r.Context(), q.Get("name"), tier)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWithEvidence(w, evidence, nil)
}

// GetSusceptibility handles GET /api/v1/reference/susceptibility?species=&antibiotic=&region=
func (h *ReferenceHandler) GetSusceptibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	evidence, err := h.lookup.Susceptibility(r.Context(), q.Get("species"), q.Get("antibiotic"), q.Get("region"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWithEvidence(w, evidence, nil)
}

// InterpretBreakpoint handles GET /api/v1/reference/breakpoints/interpret?pathogen=&antibiotic=&mic=
func (h *ReferenceHandler) InterpretBreakpoint(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mic, err := strconv.ParseFloat(q.Get("mic"), 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "mic must be a number")
		return
	}

	category, evidence, err := h.lookup.InterpretConcentration(r.Context(), q.Get("pathogen"), q.Get("antibiotic"), mic)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWithEvidence(w, evidence, map[string]interface{}{
		"category": category.String(),
	})
}

// CheckInteractions handles GET /api/v1/reference/interactions?drug=a&drug=b[&drug=c].
// Every pair of the listed drugs is checked.
func (h *ReferenceHandler) CheckInteractions(w http.ResponseWriter, r *http.Request) {
	var drugs []string
	for _, d := range r.URL.Query()["drug"] {
		for _, part := range strings.Split(d, ",") {
			if part = strings.TrimSpace(part); part != "" {
				drugs = append(drugs, part)
			}
		}
	}
	if len(drugs) < 2 {
		respondWithError(w, http.StatusBadRequest, "at least two drugs are required")
		return
	}

	type pair struct {
		DrugA       string                    `json:"drug_a"`
		DrugB       string                    `json:"drug_b"`
		Interaction *entities.DrugInteraction `json:"interaction"`
	}
	pairs := []pair{}
	evidence := entities.EvidenceLog{}
	for i := 0; i < len(drugs); i++ {
		for j := i + 1; j < len(drugs); j++ {
			hit, items, err := h.lookup.CheckInteraction(r.Context(), drugs[i], drugs[j])
			if err != nil {
				respondWithAppError(w, err)
				return
			}
			pairs = append(pairs, pair{DrugA: drugs[i], DrugB: drugs[j], Interaction: hit})
			evidence = append(evidence, items...)
		}
	}
	h.respondWithEvidence(w, evidence, map[string]interface{}{
		"pairs": pairs,
	})
}

// SearchGuidelines handles POST /api/v1/guidelines/search
func (h *ReferenceHandler) SearchGuidelines(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query        string `json:"query"`
		K            int    `json:"k"`
		Collection   string `json:"collection"`
		PathogenType string `json:"pathogen_type"`
		Category     string `json:"category"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		respondWithError(w, http.StatusBadRequest, "query is required")
		return
	}

	evidence, err := h.lookup.GuidelineSearch(r.Context(), body.Query, body.K, repositories.ChunkFilter{
		Collection:   body.Collection,
		PathogenType: body.PathogenType,
		Category:     body.Category,
	})
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWithEvidence(w, evidence, nil)
}
