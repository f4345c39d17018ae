package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// ManualEntrySuggestion is surfaced when a report cannot be read and no
// manual extract was supplied
const ManualEntrySuggestion = "enter the culture results manually (pathogen and antibiotic/MIC/category rows) and resubmit"

// VisionTask turns the uploaded report, or a manually entered extract,
// into a normalised lab extract
type VisionTask struct {
	extractor providers.DocumentExtractor
	fusion    *RetrievalFusion
	now       func() time.Time
}

// NewVisionTask creates the VISION stage
func NewVisionTask(extractor providers.DocumentExtractor, fusion *RetrievalFusion) *VisionTask {
	return &VisionTask{extractor: extractor, fusion: fusion, now: time.Now}
}

// State returns VISION
func (t *VisionTask) State() entities.PipelineState { return entities.StateVision }

// Run extracts the report. An unreadable report falls back to the manual
// extract when one was supplied.
func (t *VisionTask) Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error) {
	var (
		extract *entities.LabExtract
		notes   entities.EvidenceLog
	)

	switch {
	case record.LabFile != nil && t.extractor != nil:
		got, err := t.extractor.Extract(ctx, record.LabFile.Data, record.LabFile.MIMEType)
		switch {
		case err == nil:
			extract = got
		case apperrors.Is(err, apperrors.ErrorTypeUnreadableDocument) && record.ManualLabExtract != nil:
			log.Ctx(ctx).Warn().Err(err).Msg("lab report unreadable, using manual extract")
			notes = append(notes, newEvidence(entities.SourceLabExtract, entities.EvidenceNote,
				"lab_file", "Uploaded report could not be read; manually entered results were used: "+err.Error(), nil, 0))
			extract = t.manual(record.ManualLabExtract)
		default:
			return nil, err
		}
	case record.ManualLabExtract != nil:
		extract = t.manual(record.ManualLabExtract)
	default:
		return nil, apperrors.NewUnreadableDocumentError("no lab file or manual extract to read", nil)
	}

	if strings.TrimSpace(extract.Pathogen) == "" {
		return nil, apperrors.NewUnreadableDocumentError("lab extract names no pathogen", nil)
	}

	evidence, err := t.interpret(ctx, extract)
	if err != nil {
		return nil, err
	}
	evidence = append(evidence, notes...)
	if extract.ServedBy != nil {
		evidence = append(evidence, ProvenanceEvidence(*extract.ServedBy))
	}
	return &entities.VisionOutput{Extract: *extract, Evidence: evidence}, nil
}

// manual normalises a caller-supplied extract without touching the original
func (t *VisionTask) manual(in *entities.LabExtract) *entities.LabExtract {
	out := *in
	out.Pathogen = t.fusion.normalizer.Organism(in.Pathogen)
	out.Results = make([]entities.SusceptibilityResult, 0, len(in.Results))
	for _, r := range in.Results {
		r.Antibiotic = t.fusion.normalizer.Antibiotic(r.Antibiotic)
		if r.Antibiotic == "" {
			continue
		}
		r.Category = entities.ParseCategory(string(r.Category))
		out.Results = append(out.Results, r)
	}
	out.Confidence = entities.ExtractionConfidence{Score: 1, Method: "manual", Warnings: append([]string(nil), in.Confidence.Warnings...)}
	if out.ExtractedAt.IsZero() {
		out.ExtractedAt = t.now().UTC()
	}
	out.ServedBy = nil
	return &out
}

// interpret cites every triple and fills missing categories from the
// breakpoint table. Invalid MIC values are left for the trend stage to report.
func (t *VisionTask) interpret(ctx context.Context, extract *entities.LabExtract) (entities.EvidenceLog, error) {
	results := entities.EvidenceLog{}
	breakpoints := entities.EvidenceLog{}

	for i := range extract.Results {
		r := &extract.Results[i]
		if r.MIC != nil {
			category, items, err := t.fusion.InterpretConcentration(ctx, extract.Pathogen, r.Antibiotic, *r.MIC)
			switch {
			case apperrors.Is(err, apperrors.ErrorTypeInvalidConcentration):
				extract.Confidence.Warnings = append(extract.Confidence.Warnings, fmt.Sprintf("%s: %v", r.Antibiotic, err))
			case err != nil:
				return nil, err
			default:
				breakpoints = append(breakpoints, items...)
				if r.Category == entities.CategoryUnknown && category != entities.CategoryUnknown {
					r.Category = category
					r.CategoryDerived = true
				}
			}
		}
		results = append(results, labResultEvidence(extract, *r))
	}
	return Fuse(results, breakpoints), nil
}

func labResultEvidence(extract *entities.LabExtract, r entities.SusceptibilityResult) entities.EvidenceItem {
	mic := "not reported"
	if r.MIC != nil {
		mic = fmt.Sprintf("%g %s", *r.MIC, r.MICUnit)
	}
	derived := ""
	if r.CategoryDerived {
		derived = " (interpreted from breakpoint)"
	}
	return newEvidence(entities.SourceLabExtract, entities.EvidenceLabResult,
		labLocator(extract.Pathogen, r.Antibiotic),
		fmt.Sprintf("%s vs %s: MIC %s, %s%s", extract.Pathogen, r.Antibiotic, strings.TrimSpace(mic), r.Category, derived),
		r, extract.Confidence.Score)
}
