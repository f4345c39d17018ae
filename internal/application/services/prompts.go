package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
)

const historianSystemPrompt = `You are an infectious diseases intake specialist. No culture results are available yet.
From the patient summary and the guideline excerpts, judge the likely pathogens and the empirical options.
Prefer WHO AWaRe ACCESS antibiotics unless the risk factors justify broader cover.
Return one JSON object and nothing else:
{"suspected_pathogens": ["..."], "infection_severity": "mild|moderate|severe|critical",
 "identified_risk_factors": ["..."], "candidate_antibiotics": ["most preferred first"], "notes": "..."}`

const trendSystemPrompt = `You are an antimicrobial resistance analyst. The fold changes and risk tiers below are already computed and are final.
Write a short narrative (at most five sentences) for the prescriber explaining what the MIC drift means for therapy.
Do not change any tier or number.`

const pharmacologySystemPrompt = `You are a clinical pharmacologist specialising in antimicrobial stewardship.
Choose one antibiotic for this patient. Start narrow, prefer ACCESS over WATCH over RESERVE, de-escalate when culture results allow,
and never choose a drug the isolate is reported resistant to or the patient is allergic to.
Only choose from the candidates listed unless none is appropriate.
Return one JSON object and nothing else:
{"primary": {"antibiotic": "...", "dose": "...", "route": "IV|PO|IM", "frequency": "...", "duration": "...", "aware_category": "ACCESS|WATCH|RESERVE"},
 "alternative": {"antibiotic": "..."}, "rationale": "...", "evidence_ids": ["ids of the evidence lines you relied on"]}`

const toxicologySystemPrompt = `You review antibiotic prescriptions for toxicity. Answer in two or three sentences,
then a final line "RISK: LOW", "RISK: MODERATE" or "RISK: HIGH".`

type historianReply struct {
	SuspectedPathogens []string `json:"suspected_pathogens"`
	Severity           string   `json:"infection_severity"`
	RiskFactors        []string `json:"identified_risk_factors"`
	CandidateDrugs     []string `json:"candidate_antibiotics"`
	Notes              string   `json:"notes"`
}

type pharmacologyReply struct {
	Primary struct {
		Antibiotic    string `json:"antibiotic"`
		Dose          string `json:"dose"`
		Route         string `json:"route"`
		Frequency     string `json:"frequency"`
		Duration      string `json:"duration"`
		AwareCategory string `json:"aware_category"`
	} `json:"primary"`
	Alternative struct {
		Antibiotic string `json:"antibiotic"`
	} `json:"alternative"`
	Rationale   string   `json:"rationale"`
	EvidenceIDs []string `json:"evidence_ids"`
}

func historianPayload(record *entities.CaseRecord, excerpts entities.EvidenceLog) providers.PromptPayload {
	var b strings.Builder
	writePatient(&b, record)
	b.WriteString("\nGUIDELINE EXCERPTS:\n")
	writeEvidence(&b, excerpts)
	return providers.PromptPayload{
		System:      historianSystemPrompt,
		User:        b.String(),
		MaxTokens:   1024,
		Temperature: 0.2,
		JSON:        true,
	}
}

func trendPayload(report *entities.TrendReport) providers.PromptPayload {
	var b strings.Builder
	b.WriteString("TREND ASSESSMENTS:\n")
	for _, a := range report.Assessments {
		fmt.Fprintf(&b, "- %s / %s: tier %s, %s\n", a.Pathogen, a.Antibiotic, a.Tier, a.Rationale)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(&b, "- %s / %s: not assessed (%s)\n", f.Pathogen, f.Antibiotic, f.Reason)
	}
	return providers.PromptPayload{
		System:      trendSystemPrompt,
		User:        b.String(),
		MaxTokens:   512,
		Temperature: 0.2,
	}
}

func pharmacologyPayload(record *entities.CaseRecord, candidates []*entities.Antibiotic, excerpts entities.EvidenceLog) providers.PromptPayload {
	var b strings.Builder
	writePatient(&b, record)

	if record.Empirical != nil {
		fmt.Fprintf(&b, "\nINTAKE ASSESSMENT: suspected %s, severity %s. %s\n",
			strings.Join(record.Empirical.SuspectedPathogens, ", "), orDash(record.Empirical.Severity), record.Empirical.Notes)
	}
	if record.LabExtract != nil {
		fmt.Fprintf(&b, "\nCULTURE: %s (%s)\n", record.LabExtract.Pathogen, orDash(record.LabExtract.SpecimenType))
		for _, r := range record.LabExtract.Results {
			mic := "-"
			if r.MIC != nil {
				mic = fmt.Sprintf("%g", *r.MIC)
			}
			fmt.Fprintf(&b, "- %s: MIC %s, %s\n", r.Antibiotic, mic, r.Category)
		}
	}
	if record.Trend != nil {
		b.WriteString("\nMIC TRENDS:\n")
		for _, a := range record.Trend.Assessments {
			fmt.Fprintf(&b, "- %s / %s: %s. %s\n", a.Pathogen, a.Antibiotic, a.Tier, a.Rationale)
		}
	}

	b.WriteString("\nCANDIDATES:\n")
	for _, a := range candidates {
		fmt.Fprintf(&b, "- %s (%s)\n", a.MedicineName, a.Tier)
	}
	b.WriteString("\nEVIDENCE:\n")
	writeEvidence(&b, excerpts)

	return providers.PromptPayload{
		System:      pharmacologySystemPrompt,
		User:        b.String(),
		MaxTokens:   1536,
		Temperature: 0.1,
		JSON:        true,
	}
}

func toxicologyPayload(record *entities.CaseRecord, rx *entities.Prescription) providers.PromptPayload {
	crcl := "unknown"
	if record.Renal != nil {
		crcl = fmt.Sprintf("%.1f", record.Renal.CreatinineClearanceMlMin)
	}
	user := fmt.Sprintf("ANTIBIOTIC: %s\nDOSE: %s %s %s\nDURATION: %s\nAGE: %g\nCrCl: %s mL/min\nMEDICATIONS: %s\n",
		rx.Antibiotic, rx.Dose, rx.Route, rx.Frequency, rx.Duration,
		record.Patient.AgeYears, crcl, orDash(strings.Join(record.Patient.Medications, ", ")))
	return providers.PromptPayload{
		System:      toxicologySystemPrompt,
		User:        user,
		MaxTokens:   256,
		Temperature: 0,
	}
}

func writePatient(b *strings.Builder, record *entities.CaseRecord) {
	p := record.Patient
	fmt.Fprintf(b, "PATIENT: %g years, %s, %g kg\n", p.AgeYears, p.Sex, p.WeightKg)
	if record.Renal != nil {
		fmt.Fprintf(b, "RENAL: CrCl %.1f mL/min (%s)\n", record.Renal.CreatinineClearanceMlMin, record.Renal.Category)
	}
	fmt.Fprintf(b, "INFECTION SITE: %s\nSUSPECTED SOURCE: %s\n", p.InfectionSite, orDash(p.SuspectedSource))
	fmt.Fprintf(b, "RISK FACTORS: %s\n", orDash(strings.Join(p.RiskFactors.Flags(), "; ")))
	fmt.Fprintf(b, "COMORBIDITIES: %s\n", orDash(strings.Join(p.Comorbidities, ", ")))
	fmt.Fprintf(b, "MEDICATIONS: %s\n", orDash(strings.Join(p.Medications, ", ")))
	fmt.Fprintf(b, "ALLERGIES: %s\n", orDash(strings.Join(p.Allergies, ", ")))
	if len(p.Vitals) > 0 {
		if vitals, err := json.Marshal(p.Vitals); err == nil {
			fmt.Fprintf(b, "VITALS: %s\n", vitals)
		}
	}
}

func writeEvidence(b *strings.Builder, log entities.EvidenceLog) {
	if len(log) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, item := range log {
		fmt.Fprintf(b, "[%s] %s: %s\n", item.ID, item.Locator, truncate(item.Snippet, 400))
	}
}
