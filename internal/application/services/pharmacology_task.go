package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// PharmacologyTask selects the antibiotic and grounds every prescription
// field in reference evidence. Reference rows override backend values.
type PharmacologyTask struct {
	invoker providers.ReasoningInvoker
	fusion  *RetrievalFusion
	screen  *SafetyScreen
}

// NewPharmacologyTask creates the PHARMACOLOGY stage
func NewPharmacologyTask(invoker providers.ReasoningInvoker, fusion *RetrievalFusion, screen *SafetyScreen) *PharmacologyTask {
	return &PharmacologyTask{invoker: invoker, fusion: fusion, screen: screen}
}

// State returns PHARMACOLOGY
func (t *PharmacologyTask) State() entities.PipelineState { return entities.StatePharmacology }

// Run builds the prescription. Fields it cannot cite are left uncited; the
// orchestrator refuses to finish the run in that case.
func (t *PharmacologyTask) Run(ctx context.Context, record *entities.CaseRecord) (entities.StageOutput, error) {
	names, therapy := candidateNames(record)
	rows, err := t.fusion.AntibioticsByName(ctx, names)
	if err != nil {
		return nil, err
	}

	var candidates []*entities.Antibiotic
	classified := make(map[string]entities.EvidenceItem)
	structured := entities.EvidenceLog{}
	for _, name := range names {
		best := BestAntibiotic(name, rows[t.fusion.normalizer.Antibiotic(name)])
		if best == nil {
			continue
		}
		item := AntibioticEvidence(best)
		classified[t.fusion.normalizer.Antibiotic(name)] = item
		candidates = append(candidates, best)
		structured = append(structured, item)
	}
	sortAntibiotics(candidates)

	guidelines, err := t.guidelines(ctx, record)
	if err != nil {
		return nil, err
	}

	excerpts := append(Fuse(structured, guidelines), priorEvidence(record)...)
	inv, err := invoke(ctx, t.invoker, entities.CapabilityRequest{
		Role:          entities.RolePharmacology,
		PreferredTier: entities.SizeLarge,
	}, pharmacologyPayload(record, candidates, excerpts))
	if err != nil {
		return nil, err
	}
	var reply pharmacologyReply
	if err := decodeReply(entities.RolePharmacology, inv.Result, &reply); err != nil {
		return nil, err
	}

	primary := t.fusion.normalizer.Antibiotic(reply.Primary.Antibiotic)
	if primary == "" {
		return nil, apperrors.NewExternalError("pharmacology backend selected no antibiotic", nil)
	}
	alternative := t.fusion.normalizer.Antibiotic(reply.Alternative.Antibiotic)

	rx := &entities.Prescription{
		Antibiotic:        primary,
		Dose:              strings.TrimSpace(reply.Primary.Dose),
		Route:             strings.TrimSpace(reply.Primary.Route),
		Frequency:         strings.TrimSpace(reply.Primary.Frequency),
		Duration:          strings.TrimSpace(reply.Primary.Duration),
		StewardshipTier:   entities.StewardshipTier(strings.ToUpper(strings.TrimSpace(reply.Primary.AwareCategory))),
		Therapy:           therapy,
		Alternative:       alternative,
		Rationale:         strings.TrimSpace(reply.Rationale),
		Alerts:            []entities.SafetyAlert{},
		ReducedCapability: record.ReducedCapability || inv.Provenance.ReducedCapability,
	}

	allergies := record.Patient.Allergies
	if allergy, conflict := t.fusion.normalizer.AllergyConflict(primary, allergies); conflict && alternative != "" {
		if _, altConflict := t.fusion.normalizer.AllergyConflict(alternative, allergies); !altConflict {
			log.Ctx(ctx).Info().Str("primary", primary).Str("alternative", alternative).Str("allergy", allergy).
				Msg("primary antibiotic contraindicated, switching to alternative")
			rx.Antibiotic, rx.Alternative = alternative, primary
			// backend dosing belonged to the primary
			rx.Dose, rx.Route, rx.Frequency, rx.Duration, rx.StewardshipTier = "", "", "", "", ""
			rx.Alerts = append(rx.Alerts, entities.SafetyAlert{
				Kind:     entities.AlertAllergy,
				Severity: entities.AlertInfo,
				Message:  fmt.Sprintf("%s was not selected because of the recorded %s allergy; %s selected instead", primary, allergy, alternative),
			})
		}
	}

	grounded, err := t.ground(ctx, record, rx, classified, guidelines)
	if err != nil {
		return nil, err
	}
	structured = append(structured, grounded...)

	screened, notes, err := t.screen.Screen(ctx, record, rx)
	if err != nil {
		return nil, err
	}
	structured = append(structured, screened...)

	evidence := Fuse(structured, guidelines)
	evidence = append(evidence, notes...)
	evidence = append(evidence, ProvenanceEvidence(inv.Provenance))

	return &entities.PharmacologyOutput{Prescription: *rx, Evidence: evidence}, nil
}

// candidateNames lists the drugs the stage may choose from: susceptible
// results on the targeted path, the historian's candidates otherwise
func candidateNames(record *entities.CaseRecord) ([]string, entities.TherapyKind) {
	if record.HasSusceptibilityData() {
		var names []string
		for _, r := range record.LabExtract.Results {
			if r.Category == entities.CategorySusceptible || r.Category == entities.CategoryIntermediate {
				names = append(names, r.Antibiotic)
			}
		}
		return names, entities.TherapyTargeted
	}
	if record.Empirical != nil {
		return record.Empirical.CandidateDrugs, entities.TherapyEmpirical
	}
	return nil, entities.TherapyEmpirical
}

// guidelines searches treatment guidelines for the pathogen, narrowing to
// its guideline pathogen type when the index has chunks for it
func (t *PharmacologyTask) guidelines(ctx context.Context, record *entities.CaseRecord) (entities.EvidenceLog, error) {
	p := record.Patient
	var pathogens []string
	switch {
	case record.LabExtract != nil:
		pathogens = []string{record.LabExtract.Pathogen}
	case record.Empirical != nil:
		pathogens = record.Empirical.SuspectedPathogens
	}
	query := strings.TrimSpace(fmt.Sprintf("treatment %s %s infection %s", strings.Join(pathogens, " "), p.InfectionSite, p.SuspectedSource))

	filter := repositories.ChunkFilter{Collection: CollectionTreatment}
	if len(pathogens) == 1 {
		if category := t.fusion.normalizer.PathogenCategory(pathogens[0]); category != "General" {
			narrowed := filter
			narrowed.PathogenType = category
			hits, err := t.fusion.GuidelineSearch(ctx, query, 0, narrowed)
			if err != nil {
				return nil, err
			}
			if len(hits) > 0 {
				return hits, nil
			}
		}
	}
	return t.fusion.GuidelineSearch(ctx, query, 0, filter)
}

// ground fills and cites the prescription fields. Classification and
// dosage rows win over the backend's values.
func (t *PharmacologyTask) ground(ctx context.Context, record *entities.CaseRecord, rx *entities.Prescription, classified map[string]entities.EvidenceItem, guidelines entities.EvidenceLog) (entities.EvidenceLog, error) {
	out := entities.EvidenceLog{}

	item, ok := classified[rx.Antibiotic]
	if !ok {
		rows, err := t.fusion.AntibioticsByName(ctx, []string{rx.Antibiotic})
		if err != nil {
			return nil, err
		}
		if best := BestAntibiotic(rx.Antibiotic, rows[rx.Antibiotic]); best != nil {
			item = AntibioticEvidence(best)
			out = append(out, item)
			ok = true
		}
	}
	if ok {
		if tier, _ := item.Row["who_category"].(string); tier != "" {
			rx.StewardshipTier = entities.StewardshipTier(strings.ToUpper(tier))
		}
		rx.Cite(entities.FieldAntibiotic, item.ID)
		rx.Cite(entities.FieldStewardshipTier, item.ID)
	}
	if record.LabExtract != nil {
		rx.Cite(entities.FieldAntibiotic, findEvidence(record.Evidence, entities.EvidenceLabResult, labLocator(record.LabExtract.Pathogen, rx.Antibiotic))...)
	}
	mentioning := guidelines.Filter(func(e entities.EvidenceItem) bool { return mentions(e.Snippet, rx.Antibiotic) }).IDs()
	rx.Cite(entities.FieldAntibiotic, mentioning...)

	renal := entities.RenalAny
	if record.Renal != nil {
		renal = record.Renal.Category
	}
	rule, dosage, err := t.fusion.Dosage(ctx, rx.Antibiotic, renal, record.Patient.InfectionSite)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		rx.Dose, rx.Route, rx.Frequency, rx.Duration = rule.Dose, rule.Route, rule.Frequency, rule.Duration
		out = append(out, dosage...)
		for _, f := range []entities.PrescriptionField{entities.FieldDose, entities.FieldRoute, entities.FieldFrequency, entities.FieldDuration} {
			rx.Cite(f, dosage.IDs()...)
		}
		return out, nil
	}

	log.Ctx(ctx).Debug().Str("antibiotic", rx.Antibiotic).Msg("no dosage rule, citing guideline chunks for dosing")
	for _, f := range []entities.PrescriptionField{entities.FieldDose, entities.FieldRoute, entities.FieldFrequency, entities.FieldDuration} {
		rx.Cite(f, mentioning...)
	}
	return out, nil
}

// priorEvidence is the citable evidence gathered by earlier stages
func priorEvidence(record *entities.CaseRecord) entities.EvidenceLog {
	return record.Evidence.Filter(func(e entities.EvidenceItem) bool {
		return e.Citable() && e.Category != entities.EvidenceGuideline
	})
}
