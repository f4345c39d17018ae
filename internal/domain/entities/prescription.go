package entities

// TherapyKind distinguishes empirical from culture-directed prescriptions
type TherapyKind string

const (
	TherapyEmpirical TherapyKind = "empirical"
	TherapyTargeted  TherapyKind = "targeted"
)

// PrescriptionField names a field that must carry citations
type PrescriptionField string

const (
	FieldAntibiotic      PrescriptionField = "antibiotic"
	FieldDose            PrescriptionField = "dose"
	FieldRoute           PrescriptionField = "route"
	FieldFrequency       PrescriptionField = "frequency"
	FieldDuration        PrescriptionField = "duration"
	FieldStewardshipTier PrescriptionField = "stewardship_tier"
)

// CitedFields lists every field covered by the citation invariant
var CitedFields = []PrescriptionField{
	FieldAntibiotic, FieldDose, FieldRoute, FieldFrequency, FieldDuration, FieldStewardshipTier,
}

// AlertSeverity grades a safety alert
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "critical"
	AlertMajor    AlertSeverity = "major"
	AlertModerate AlertSeverity = "moderate"
	AlertMinor    AlertSeverity = "minor"
	AlertInfo     AlertSeverity = "info"
)

// Rank orders severities from info (0) to critical (4)
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertCritical:
		return 4
	case AlertMajor:
		return 3
	case AlertModerate:
		return 2
	case AlertMinor:
		return 1
	default:
		return 0
	}
}

// AlertKind classifies what triggered a safety alert
type AlertKind string

const (
	AlertInteraction       AlertKind = "interaction"
	AlertAllergy           AlertKind = "allergy"
	AlertTrend             AlertKind = "resistance_trend"
	AlertFirstObservation  AlertKind = "first_observation"
	AlertRenal             AlertKind = "renal"
	AlertReducedCapability AlertKind = "reduced_capability"
	AlertToxicology        AlertKind = "toxicology"
	AlertReportedResistant AlertKind = "reported_resistant"
)

// SafetyAlert is a flag raised for clinician review
type SafetyAlert struct {
	Kind        AlertKind     `json:"kind"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	EvidenceIDs []string      `json:"evidence_ids,omitempty"`
}

// Prescription is the clinician-reviewable recommendation
type Prescription struct {
	Antibiotic        string                         `json:"antibiotic"`
	Dose              string                         `json:"dose"`
	Route             string                         `json:"route"`
	Frequency         string                         `json:"frequency"`
	Duration          string                         `json:"duration"`
	StewardshipTier   StewardshipTier                `json:"stewardship_tier"`
	Therapy           TherapyKind                    `json:"therapy"`
	Alternative       string                         `json:"alternative,omitempty"`
	Rationale         string                         `json:"rationale,omitempty"`
	Alerts            []SafetyAlert                  `json:"alerts"`
	Citations         map[PrescriptionField][]string `json:"citations"`
	ReducedCapability bool                           `json:"reduced_capability"`
}

// Cite attaches evidence identifiers to a field
func (p *Prescription) Cite(field PrescriptionField, ids ...string) {
	if p.Citations == nil {
		p.Citations = make(map[PrescriptionField][]string)
	}
	p.Citations[field] = append(p.Citations[field], ids...)
}

// UncitedFields returns the fields that are empty or lack a citation resolving
// to a citable item in the log. An empty result means the invariant holds.
func (p *Prescription) UncitedFields(log EvidenceLog) []PrescriptionField {
	values := map[PrescriptionField]string{
		FieldAntibiotic:      p.Antibiotic,
		FieldDose:            p.Dose,
		FieldRoute:           p.Route,
		FieldFrequency:       p.Frequency,
		FieldDuration:        p.Duration,
		FieldStewardshipTier: string(p.StewardshipTier),
	}

	var missing []PrescriptionField
	for _, field := range CitedFields {
		if values[field] == "" {
			missing = append(missing, field)
			continue
		}
		cited := false
		for _, id := range p.Citations[field] {
			if item, ok := log.ByID(id); ok && item.Citable() {
				cited = true
				break
			}
		}
		if !cited {
			missing = append(missing, field)
		}
	}
	return missing
}

// HighestAlert returns the most severe alert severity, or info when there are none
func (p *Prescription) HighestAlert() AlertSeverity {
	highest := AlertInfo
	for _, a := range p.Alerts {
		if a.Severity.Rank() > highest.Rank() {
			highest = a.Severity
		}
	}
	return highest
}
