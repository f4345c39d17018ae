package entities

import "strings"

// Sex of the patient as used by the renal clearance formula
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// RiskFactors are the intake flags that shift empirical therapy towards broader coverage
type RiskFactors struct {
	PriorMDRInfection     bool `json:"prior_mdr_infection"`
	RecentAntibiotics     bool `json:"recent_antibiotics"`
	HealthcareAssociated  bool `json:"healthcare_associated"`
	RecentHospitalization bool `json:"recent_hospitalization"`
	Immunocompromised     bool `json:"immunocompromised"`
	IndwellingDevice      bool `json:"indwelling_device"`
	HighResistanceTravel  bool `json:"high_resistance_travel"`
}

// Flags returns the names of the risk factors that are set
func (r RiskFactors) Flags() []string {
	var out []string
	if r.PriorMDRInfection {
		out = append(out, "prior MDR infection")
	}
	if r.RecentAntibiotics {
		out = append(out, "antibiotics in the last 90 days")
	}
	if r.HealthcareAssociated {
		out = append(out, "healthcare-associated onset")
	}
	if r.RecentHospitalization {
		out = append(out, "recent hospitalization")
	}
	if r.Immunocompromised {
		out = append(out, "immunocompromised")
	}
	if r.IndwellingDevice {
		out = append(out, "indwelling device")
	}
	if r.HighResistanceTravel {
		out = append(out, "travel to high-resistance region")
	}
	return out
}

// PatientInput is the intake payload of one clinical episode. Identifiers are opaque.
type PatientInput struct {
	PatientID           string            `json:"patient_id"`
	AgeYears            float64           `json:"age_years"`
	Sex                 Sex               `json:"sex"`
	WeightKg            float64           `json:"weight_kg"`
	HeightCm            *float64          `json:"height_cm,omitempty"`
	SerumCreatinineMgDl float64           `json:"serum_creatinine_mg_dl"`
	InfectionSite       string            `json:"infection_site"`
	SuspectedSource     string            `json:"suspected_source,omitempty"`
	Region              string            `json:"region,omitempty"`
	Medications         []string          `json:"medications,omitempty"`
	Allergies           []string          `json:"allergies,omitempty"`
	Comorbidities       []string          `json:"comorbidities,omitempty"`
	RiskFactors         RiskFactors       `json:"risk_factors"`
	Vitals              map[string]string `json:"vitals,omitempty"`
}

// InvalidFields lists mandatory demographic and renal inputs that are missing or out of range
func (p *PatientInput) InvalidFields() []string {
	var fields []string
	if p.AgeYears <= 0 || p.AgeYears >= 130 {
		fields = append(fields, "age_years")
	}
	if p.Sex != SexMale && p.Sex != SexFemale {
		fields = append(fields, "sex")
	}
	if p.WeightKg <= 0 || p.WeightKg > 500 {
		fields = append(fields, "weight_kg")
	}
	if p.HeightCm != nil && (*p.HeightCm <= 0 || *p.HeightCm > 272) {
		fields = append(fields, "height_cm")
	}
	if p.SerumCreatinineMgDl <= 0 || p.SerumCreatinineMgDl > 30 {
		fields = append(fields, "serum_creatinine_mg_dl")
	}
	if strings.TrimSpace(p.InfectionSite) == "" {
		fields = append(fields, "infection_site")
	}
	return fields
}
