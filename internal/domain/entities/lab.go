package entities

import (
	"encoding/json"
	"strings"
	"time"
)

// SusceptibilityCategory is the formal S/I/R interpretation of a concentration value
type SusceptibilityCategory string

const (
	CategorySusceptible  SusceptibilityCategory = "S"
	CategoryIntermediate SusceptibilityCategory = "I"
	CategoryResistant    SusceptibilityCategory = "R"
	CategoryUnknown      SusceptibilityCategory = ""
)

// ParseCategory accepts S/I/R letters or the spelled-out words
func ParseCategory(s string) SusceptibilityCategory {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "S", "SUSCEPTIBLE", "SENSITIVE":
		return CategorySusceptible
	case "I", "INTERMEDIATE", "SDD":
		return CategoryIntermediate
	case "R", "RESISTANT":
		return CategoryResistant
	default:
		return CategoryUnknown
	}
}

// String returns the spelled-out category
func (c SusceptibilityCategory) String() string {
	switch c {
	case CategorySusceptible:
		return "Susceptible"
	case CategoryIntermediate:
		return "Intermediate"
	case CategoryResistant:
		return "Resistant"
	default:
		return "Unknown"
	}
}

// UnmarshalJSON accepts the letter form or the spelled-out word, so a
// category echoed back from an interpretation response reads as the same value.
func (c *SusceptibilityCategory) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ParseCategory(raw)
	return nil
}

// SusceptibilityResult is one (antibiotic, concentration value, category) triple
type SusceptibilityResult struct {
	Antibiotic string                 `json:"antibiotic"`
	MIC        *float64               `json:"mic,omitempty"`
	MICUnit    string                 `json:"mic_unit,omitempty"`
	Category   SusceptibilityCategory `json:"category"`

	// CategoryDerived is set when the category was interpreted from a breakpoint rather than reported
	CategoryDerived bool `json:"category_derived,omitempty"`
}

// ExtractionConfidence describes how the lab extract was obtained
type ExtractionConfidence struct {
	Score    float64  `json:"score"`
	Method   string   `json:"method"`
	Warnings []string `json:"warnings,omitempty"`
}

// LabExtract is the normalised culture and sensitivity report. Immutable once produced.
type LabExtract struct {
	Pathogen       string                 `json:"pathogen"`
	SpecimenType   string                 `json:"specimen_type,omitempty"`
	ColonyCount    string                 `json:"colony_count,omitempty"`
	Results        []SusceptibilityResult `json:"results"`
	Confidence     ExtractionConfidence   `json:"confidence"`
	SourceLanguage string                 `json:"source_language,omitempty"`
	ExtractedAt    time.Time              `json:"extracted_at"`
	ServedBy       *Provenance            `json:"served_by,omitempty"`
}

// LabFile is an uploaded culture report awaiting extraction
type LabFile struct {
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}
