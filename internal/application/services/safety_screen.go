package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
)

// renalAlertThreshold is the CrCl below which renal dosing must be reviewed
const renalAlertThreshold = 30.0

var riskRatingRe = regexp.MustCompile(`(?i)RISK:\s*(LOW|MODERATE|HIGH)`)

// SafetyScreen raises alerts on a selected prescription. The deterministic
// checks always run; the toxicology review is supplementary.
type SafetyScreen struct {
	fusion  *RetrievalFusion
	invoker providers.ReasoningInvoker
}

// NewSafetyScreen creates a safety screen. invoker may be nil to skip toxicology review.
func NewSafetyScreen(fusion *RetrievalFusion, invoker providers.ReasoningInvoker) *SafetyScreen {
	return &SafetyScreen{fusion: fusion, invoker: invoker}
}

// Screen appends alerts to rx. It returns citable structured evidence and
// non-citable notes separately so callers can keep structured evidence first.
func (s *SafetyScreen) Screen(ctx context.Context, record *entities.CaseRecord, rx *entities.Prescription) (entities.EvidenceLog, entities.EvidenceLog, error) {
	structured, err := s.interactions(ctx, record, rx)
	if err != nil {
		return nil, nil, err
	}
	s.allergy(record, rx)
	s.reportedResistance(record, rx)
	s.trends(record, rx)
	s.renal(record, rx)
	notes := s.toxicology(ctx, record, rx)

	if rx.ReducedCapability {
		rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
			Kind:     entities.AlertReducedCapability,
			Severity: entities.AlertModerate,
			Message:  "Part of this recommendation was produced by a reduced-capability backend; review with extra care.",
		})
	}
	return structured, notes, nil
}

// InteractionAlertSeverity maps an interaction severity onto an alert severity
func InteractionAlertSeverity(s entities.InteractionSeverity) entities.AlertSeverity {
	switch s.Rank() {
	case 3:
		return entities.AlertMajor
	case 2:
		return entities.AlertModerate
	case 1:
		return entities.AlertMinor
	default:
		return entities.AlertInfo
	}
}

// TrendAlertSeverity maps a risk tier onto an alert severity
func TrendAlertSeverity(a entities.TrendAssessment) entities.AlertSeverity {
	switch {
	case a.Tier == entities.RiskCritical:
		return entities.AlertCritical
	case a.Tier == entities.RiskHigh:
		return entities.AlertMajor
	case a.Tier == entities.RiskModerate:
		return entities.AlertModerate
	default:
		return entities.AlertInfo
	}
}

func (s *SafetyScreen) interactions(ctx context.Context, record *entities.CaseRecord, rx *entities.Prescription) (entities.EvidenceLog, error) {
	out := entities.EvidenceLog{}
	for _, med := range record.Patient.Medications {
		if strings.TrimSpace(med) == "" {
			continue
		}
		hit, items, err := s.fusion.CheckInteraction(ctx, rx.Antibiotic, med)
		if err != nil {
			return nil, err
		}
		if hit == nil {
			out = append(out, NoKnownInteraction(rx.Antibiotic, med, s.fusion.SnapshotVersion()))
			continue
		}
		out = append(out, items...)
		rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
			Kind:        entities.AlertInteraction,
			Severity:    InteractionAlertSeverity(hit.Severity),
			Message:     fmt.Sprintf("%s interaction between %s and %s: %s", hit.Severity, rx.Antibiotic, med, hit.Description),
			EvidenceIDs: items.IDs(),
		})
	}
	return out, nil
}

func (s *SafetyScreen) allergy(record *entities.CaseRecord, rx *entities.Prescription) {
	if allergy, ok := s.fusion.normalizer.AllergyConflict(rx.Antibiotic, record.Patient.Allergies); ok {
		rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
			Kind:     entities.AlertAllergy,
			Severity: entities.AlertCritical,
			Message:  fmt.Sprintf("%s conflicts with the recorded %s allergy and no safe alternative was available", rx.Antibiotic, allergy),
		})
	}
}

func (s *SafetyScreen) reportedResistance(record *entities.CaseRecord, rx *entities.Prescription) {
	if record.LabExtract == nil {
		return
	}
	for _, r := range record.LabExtract.Results {
		if r.Antibiotic != rx.Antibiotic || r.Category != entities.CategoryResistant {
			continue
		}
		rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
			Kind:        entities.AlertReportedResistant,
			Severity:    entities.AlertCritical,
			Message:     fmt.Sprintf("%s isolate is reported resistant to %s", record.LabExtract.Pathogen, rx.Antibiotic),
			EvidenceIDs: findEvidence(record.Evidence, entities.EvidenceLabResult, labLocator(record.LabExtract.Pathogen, r.Antibiotic)),
		})
	}
}

// trends alerts on every qualifying pair; a first observation is only
// flagged for the prescribed antibiotic
func (s *SafetyScreen) trends(record *entities.CaseRecord, rx *entities.Prescription) {
	if record.Trend == nil {
		return
	}
	for _, a := range record.Trend.Assessments {
		ids := findEvidence(record.Evidence, entities.EvidenceTrend, trendLocator(a.Pathogen, a.Antibiotic))
		switch {
		case a.Qualifying():
			rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
				Kind:        entities.AlertTrend,
				Severity:    TrendAlertSeverity(a),
				Message:     a.Rationale,
				EvidenceIDs: ids,
			})
		case a.FirstObservation && a.Antibiotic == rx.Antibiotic:
			rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
				Kind:        entities.AlertFirstObservation,
				Severity:    entities.AlertInfo,
				Message:     a.Rationale,
				EvidenceIDs: ids,
			})
		}
	}
}

func (s *SafetyScreen) renal(record *entities.CaseRecord, rx *entities.Prescription) {
	if record.Renal == nil || record.Renal.CreatinineClearanceMlMin >= renalAlertThreshold {
		return
	}
	rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
		Kind:     entities.AlertRenal,
		Severity: entities.AlertMajor,
		Message: fmt.Sprintf("CrCl %.1f mL/min (%s): confirm the %s dose is renally adjusted",
			record.Renal.CreatinineClearanceMlMin, record.Renal.Category, rx.Antibiotic),
		EvidenceIDs: findEvidence(record.Evidence, entities.EvidenceRenal, renalLocator),
	})
}

func (s *SafetyScreen) toxicology(ctx context.Context, record *entities.CaseRecord, rx *entities.Prescription) entities.EvidenceLog {
	if s.invoker == nil {
		return nil
	}
	inv, err := s.invoker.Invoke(ctx, entities.CapabilityRequest{
		Role:          entities.RoleSafety,
		PreferredTier: entities.SizeSmall,
	}, toxicologyPayload(record, rx))
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("toxicology review unavailable, relying on deterministic screen")
		return entities.EvidenceLog{newEvidence(entities.SourceBackend, entities.EvidenceNote,
			"toxicology", "Toxicology review unavailable: "+err.Error(), nil, 0)}
	}

	text := strings.TrimSpace(inv.Result.Text)
	notes := entities.EvidenceLog{
		newEvidence(entities.SourceBackend, entities.EvidenceNote, "toxicology", truncate(text, 600), nil, 0),
		ProvenanceEvidence(inv.Provenance),
	}
	if inv.Provenance.ReducedCapability {
		rx.ReducedCapability = true
	}

	if m := riskRatingRe.FindStringSubmatch(text); m != nil {
		var severity entities.AlertSeverity
		switch strings.ToUpper(m[1]) {
		case "HIGH":
			severity = entities.AlertMajor
		case "MODERATE":
			severity = entities.AlertMinor
		}
		if severity != "" {
			rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
				Kind:        entities.AlertToxicology,
				Severity:    severity,
				Message:     fmt.Sprintf("Toxicology review rated %s risk: %s", strings.ToUpper(m[1]), truncate(text, 300)),
				EvidenceIDs: []string{notes[0].ID},
			})
		}
	}
	return notes
}

const renalLocator = "cockcroft-gault"

func labLocator(pathogen, antibiotic string) string {
	return fmt.Sprintf("lab_extract:%s:%s", pathogen, antibiotic)
}

func trendLocator(pathogen, antibiotic string) string {
	return fmt.Sprintf("history:%s:%s", pathogen, antibiotic)
}

// findEvidence returns the IDs of items with the category and locator
func findEvidence(items entities.EvidenceLog, category entities.EvidenceCategory, locator string) []string {
	var ids []string
	for _, item := range items {
		if item.Category == category && item.Locator == locator {
			ids = append(ids, item.ID)
		}
	}
	return ids
}
