package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"github.com/zatekoja/amrguard/pkg/utils"
)

const extractionSystemPrompt = `You read microbiology culture and sensitivity reports in any language.
Return one JSON object and nothing else:
{"readable": true, "pathogen": "...", "specimen_type": "...", "colony_count": "...", "source_language": "ISO 639-1 code",
 "confidence": 0.0-1.0, "results": [{"antibiotic": "...", "mic": "number or null", "mic_unit": "mg/L", "interpretation": "S|I|R|null"}]}
Translate drug and organism names to English. Copy MIC values exactly, including comparison signs.
If the page is not a culture report or cannot be read, return {"readable": false, "reason": "..."}.`

// BackendExtractor reads lab reports with a multimodal reasoning backend
type BackendExtractor struct {
	invoker    providers.ReasoningInvoker
	normalizer *utils.ClinicalNameNormalizer
	now        func() time.Time
}

// NewBackendExtractor creates a DocumentExtractor over the vision role
func NewBackendExtractor(invoker providers.ReasoningInvoker, normalizer *utils.ClinicalNameNormalizer) *BackendExtractor {
	return &BackendExtractor{invoker: invoker, normalizer: normalizer, now: time.Now}
}

type extractedResult struct {
	Antibiotic     string          `json:"antibiotic"`
	MIC            json.RawMessage `json:"mic"`
	MICUnit        string          `json:"mic_unit"`
	Interpretation *string         `json:"interpretation"`
}

type extractedReport struct {
	Readable       *bool             `json:"readable"`
	Reason         string            `json:"reason"`
	Pathogen       string            `json:"pathogen"`
	SpecimenType   string            `json:"specimen_type"`
	ColonyCount    string            `json:"colony_count"`
	SourceLanguage string            `json:"source_language"`
	Confidence     float64           `json:"confidence"`
	Results        []extractedResult `json:"results"`
}

// Extract returns a normalised lab extract. Backend exhaustion passes
// through unchanged; anything the model could not read is UNREADABLE_DOCUMENT.
func (e *BackendExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*entities.LabExtract, error) {
	if len(data) == 0 {
		return nil, apperrors.NewUnreadableDocumentError("lab file is empty", nil)
	}

	inv, err := e.invoker.Invoke(ctx, entities.CapabilityRequest{
		Role:          entities.RoleVision,
		PreferredTier: entities.SizeSmall,
		Multimodal:    true,
	}, providers.PromptPayload{
		System:      extractionSystemPrompt,
		User:        "Extract the culture and sensitivity results from the attached report.",
		Attachments: []providers.Attachment{{MIMEType: mimeType, Data: data}},
		MaxTokens:   2048,
		JSON:        true,
	})
	if err != nil {
		if apperrors.TypeOf(err) != apperrors.ErrorTypeInternal {
			return nil, err
		}
		return nil, apperrors.NewUnreadableDocumentError("lab report could not be parsed", err)
	}

	extract, err := e.parse(inv.Result)
	if err != nil {
		return nil, err
	}
	served := inv.Provenance
	extract.ServedBy = &served
	return extract, nil
}

func (e *BackendExtractor) parse(result *providers.StructuredResult) (*entities.LabExtract, error) {
	var report extractedReport
	if err := utils.DecodeJSONObject(result.Text, &report); err != nil {
		return nil, apperrors.NewUnreadableDocumentError("lab report output was not valid JSON", err)
	}
	if report.Readable != nil && !*report.Readable {
		return nil, apperrors.NewUnreadableDocumentError(fmt.Sprintf("lab report unreadable: %s", report.Reason), nil)
	}
	if strings.TrimSpace(report.Pathogen) == "" {
		return nil, apperrors.NewUnreadableDocumentError("no pathogen identified in lab report", nil)
	}

	extract := &entities.LabExtract{
		Pathogen:       e.normalizer.Organism(report.Pathogen),
		SpecimenType:   report.SpecimenType,
		ColonyCount:    report.ColonyCount,
		SourceLanguage: report.SourceLanguage,
		Results:        []entities.SusceptibilityResult{},
		Confidence: entities.ExtractionConfidence{
			Score:  report.Confidence,
			Method: "backend:" + result.Model,
		},
		ExtractedAt: e.now().UTC(),
	}

	for _, r := range report.Results {
		name := e.normalizer.Antibiotic(r.Antibiotic)
		if name == "" {
			extract.Confidence.Warnings = append(extract.Confidence.Warnings, "result without antibiotic name skipped")
			continue
		}
		res := entities.SusceptibilityResult{Antibiotic: name, MICUnit: r.MICUnit}
		if mic, ok := ParseMIC(r.MIC); ok {
			res.MIC = &mic
		} else if len(r.MIC) > 0 && string(r.MIC) != "null" {
			extract.Confidence.Warnings = append(extract.Confidence.Warnings, fmt.Sprintf("unparseable MIC for %s: %s", name, string(r.MIC)))
		}
		if r.Interpretation != nil {
			res.Category = entities.ParseCategory(strings.TrimSpace(*r.Interpretation))
		}
		extract.Results = append(extract.Results, res)
	}

	if len(extract.Confidence.Warnings) > 0 {
		log.Warn().Strs("warnings", extract.Confidence.Warnings).Str("pathogen", extract.Pathogen).Msg("lab extraction produced warnings")
	}
	return extract, nil
}

// ParseMIC reads a MIC as reported: a JSON number, or a string such as
// "<=0.25", ">32" or "0.5 mg/L". Comparison signs are dropped and the
// bound is taken as the value.
func ParseMIC(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "<>=≤≥ ")
	if i := strings.IndexAny(s, " mµu"); i > 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
