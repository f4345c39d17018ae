package entities

import "strings"

// StewardshipTier is the WHO AWaRe prescribing-priority classification
type StewardshipTier string

const (
	TierAccess  StewardshipTier = "ACCESS"
	TierWatch   StewardshipTier = "WATCH"
	TierReserve StewardshipTier = "RESERVE"
)

// Priority orders tiers ACCESS (0) before WATCH (1) before RESERVE (2); unknown tiers sort last
func (t StewardshipTier) Priority() int {
	switch StewardshipTier(strings.ToUpper(string(t))) {
	case TierAccess:
		return 0
	case TierWatch:
		return 1
	case TierReserve:
		return 2
	default:
		return 3
	}
}

// Antibiotic is a row of the essential-medicines classification table
type Antibiotic struct {
	ID           int64           `json:"id"`
	MedicineName string          `json:"medicine_name"`
	Tier         StewardshipTier `json:"who_category"`
	EMLSection   string          `json:"eml_section,omitempty"`
	Formulations []string        `json:"formulations,omitempty"`
	Indication   string          `json:"indication,omitempty"`
	ATCCodes     []string        `json:"atc_codes,omitempty"`
	CombinedWith string          `json:"combined_with,omitempty"`
	Status       string          `json:"status,omitempty"`
	Year         int             `json:"year,omitempty"`
}

// SusceptibilityRate is a surveillance row for a species/antibiotic pair
type SusceptibilityRate struct {
	ID                  int64   `json:"id"`
	Species             string  `json:"species"`
	Family              string  `json:"family,omitempty"`
	Antibiotic          string  `json:"antibiotic"`
	PercentSusceptible  float64 `json:"percent_susceptible"`
	PercentIntermediate float64 `json:"percent_intermediate"`
	PercentResistant    float64 `json:"percent_resistant"`
	TotalIsolates       int     `json:"total_isolates"`
	Year                int     `json:"year"`
	Region              string  `json:"region,omitempty"`
}

// Breakpoint is a concentration breakpoint row
type Breakpoint struct {
	ID             int64    `json:"id"`
	PathogenGroup  string   `json:"pathogen_group"`
	Antibiotic     string   `json:"antibiotic"`
	MICSusceptible *float64 `json:"mic_susceptible,omitempty"`
	MICResistant   *float64 `json:"mic_resistant,omitempty"`
	Route          string   `json:"route,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	Year           int      `json:"year,omitempty"`
}

// Interpret classifies a concentration value against the breakpoint
func (b Breakpoint) Interpret(mic float64) SusceptibilityCategory {
	switch {
	case b.MICSusceptible != nil && mic <= *b.MICSusceptible:
		return CategorySusceptible
	case b.MICResistant != nil && mic > *b.MICResistant:
		return CategoryResistant
	case b.MICSusceptible != nil && b.MICResistant != nil:
		return CategoryIntermediate
	default:
		return CategoryUnknown
	}
}

// InteractionSeverity grades a drug-drug interaction
type InteractionSeverity string

const (
	SeverityMajor    InteractionSeverity = "major"
	SeverityModerate InteractionSeverity = "moderate"
	SeverityMinor    InteractionSeverity = "minor"
)

// Rank orders severities from minor (1) to major (3); unknown is 0
func (s InteractionSeverity) Rank() int {
	switch InteractionSeverity(strings.ToLower(string(s))) {
	case SeverityMajor:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// DrugInteraction is an unordered drug pair with a recorded mechanism
type DrugInteraction struct {
	ID          int64               `json:"id"`
	Drug1       string              `json:"drug_1"`
	Drug2       string              `json:"drug_2"`
	Description string              `json:"interaction_description"`
	Severity    InteractionSeverity `json:"severity"`
}

// PairKey returns an order-independent key for the drug pair
func (d DrugInteraction) PairKey() string {
	a, b := strings.ToLower(d.Drug1), strings.ToLower(d.Drug2)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// DosageRule is a dosing row for an antibiotic at a renal function category
type DosageRule struct {
	ID            int64         `json:"id"`
	Antibiotic    string        `json:"antibiotic"`
	Indication    string        `json:"indication,omitempty"`
	RenalCategory RenalCategory `json:"renal_category"`
	Dose          string        `json:"dose"`
	Route         string        `json:"route"`
	Frequency     string        `json:"frequency"`
	Duration      string        `json:"duration"`
	Source        string        `json:"source,omitempty"`
}

// GuidelineChunk is a document chunk in the semantic index
type GuidelineChunk struct {
	ID           string `json:"id"`
	Collection   string `json:"collection"`
	Source       string `json:"source"`
	Page         int    `json:"page,omitempty"`
	Category     string `json:"category,omitempty"`
	PathogenType string `json:"pathogen_type,omitempty"`
	Year         int    `json:"year,omitempty"`
	Text         string `json:"text"`
}

// ScoredChunk is a semantic search hit
type ScoredChunk struct {
	Chunk GuidelineChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// ReferenceSnapshot is one immutable version of every reference table
type ReferenceSnapshot struct {
	Version        string                `json:"version"`
	Antibiotics    []*Antibiotic         `json:"antibiotics"`
	Susceptibility []*SusceptibilityRate `json:"susceptibility"`
	Breakpoints    []*Breakpoint         `json:"breakpoints"`
	Interactions   []*DrugInteraction    `json:"interactions"`
	DosageRules    []*DosageRule         `json:"dosage_rules"`
}
