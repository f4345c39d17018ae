package entities

// SourceStore identifies where a piece of evidence came from
type SourceStore string

const (
	SourceReferenceStore SourceStore = "reference_store"
	SourceSemanticIndex  SourceStore = "semantic_index"
	SourceLabExtract     SourceStore = "lab_extract"
	SourceHistory        SourceStore = "historical_readings"
	SourceCalculation    SourceStore = "calculation"
	SourceBackend        SourceStore = "reasoning_backend"
)

// EvidenceCategory tags the kind of claim an evidence item supports
type EvidenceCategory string

const (
	EvidenceAntibiotic     EvidenceCategory = "antibiotic"
	EvidenceSusceptibility EvidenceCategory = "susceptibility"
	EvidenceBreakpoint     EvidenceCategory = "breakpoint"
	EvidenceInteraction    EvidenceCategory = "interaction"
	EvidenceDosage         EvidenceCategory = "dosage"
	EvidenceGuideline      EvidenceCategory = "guideline"
	EvidenceRenal          EvidenceCategory = "renal"
	EvidenceLabResult      EvidenceCategory = "lab_result"
	EvidenceTrend          EvidenceCategory = "trend"
	EvidenceProvenance     EvidenceCategory = "provenance"
	EvidenceNote           EvidenceCategory = "note"
)

// EvidenceItem is one provenance-tagged fact
type EvidenceItem struct {
	ID       string           `json:"id"`
	Source   SourceStore      `json:"source"`
	Locator  string           `json:"locator"`
	Snippet  string           `json:"snippet"`
	Row      map[string]any   `json:"row,omitempty"`
	Score    float64          `json:"score"`
	Category EvidenceCategory `json:"category"`
	Rank     int              `json:"rank"`
	Stage    PipelineState    `json:"stage,omitempty"`
}

// Citable reports whether the item may back a prescription field. Backend
// provenance and notes describe the run, not the clinical claim.
func (e EvidenceItem) Citable() bool {
	return e.Source != SourceBackend && e.Category != EvidenceProvenance && e.Category != EvidenceNote
}

// EvidenceLog is an ordered list of evidence. Items are never deduplicated.
type EvidenceLog []EvidenceItem

// ByID looks up an item
func (l EvidenceLog) ByID(id string) (EvidenceItem, bool) {
	for _, item := range l {
		if item.ID == id {
			return item, true
		}
	}
	return EvidenceItem{}, false
}

// Filter returns items matching the predicate, preserving order
func (l EvidenceLog) Filter(keep func(EvidenceItem) bool) EvidenceLog {
	var out EvidenceLog
	for _, item := range l {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// IDs returns the identifiers in order
func (l EvidenceLog) IDs() []string {
	out := make([]string, 0, len(l))
	for _, item := range l {
		out = append(out, item.ID)
	}
	return out
}
