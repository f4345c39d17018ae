package entities

import "time"

// PipelineState is a state of the orchestrator workflow
type PipelineState string

const (
	StateIntake        PipelineState = "INTAKE"
	StateRouteDecision PipelineState = "ROUTE_DECISION"
	StateEmpirical     PipelineState = "EMPIRICAL"
	StateVision        PipelineState = "VISION"
	StateTrend         PipelineState = "TREND"
	StatePharmacology  PipelineState = "PHARMACOLOGY"
	StateDone          PipelineState = "DONE"
	StateFailed        PipelineState = "FAILED"
)

// Terminal reports whether no further transition is possible
func (s PipelineState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// EmpiricalAssessment is the historian's read of a case without culture data
type EmpiricalAssessment struct {
	SuspectedPathogens []string    `json:"suspected_pathogens"`
	Severity           string      `json:"severity,omitempty"`
	RiskFactors        []string    `json:"risk_factors,omitempty"`
	CandidateDrugs     []string    `json:"candidate_antibiotics"`
	Notes              string      `json:"notes,omitempty"`
	ServedBy           *Provenance `json:"served_by,omitempty"`
}

// FailureReason is the structured reason surfaced for a FAILED run
type FailureReason struct {
	Type       string        `json:"type"`
	Stage      PipelineState `json:"stage"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// StageVisit records one state the run passed through
type StageVisit struct {
	State     PipelineState `json:"state"`
	Attempts  int           `json:"attempts"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// RunRequest is the pipeline invocation input
type RunRequest struct {
	// RunID lets a caller subscribe to run events before submitting; generated when empty
	RunID   string       `json:"run_id,omitempty"`
	Patient PatientInput `json:"patient"`
	LabFile *LabFile     `json:"lab_file,omitempty"`

	// ManualLabExtract is the alternate input path when the report cannot be read
	ManualLabExtract *LabExtract         `json:"manual_lab_extract,omitempty"`
	History          []HistoricalReading `json:"history,omitempty"`
}

// CaseRecord is the working state of one pipeline run. It is owned by a
// single run and each section is written by exactly one stage.
type CaseRecord struct {
	RunID            string              `json:"run_id"`
	Patient          PatientInput        `json:"patient"`
	LabFile          *LabFile            `json:"-"`
	ManualLabExtract *LabExtract         `json:"manual_lab_extract,omitempty"`
	History          []HistoricalReading `json:"history,omitempty"`

	Renal        *RenalFunction       `json:"renal,omitempty"`
	Empirical    *EmpiricalAssessment `json:"empirical,omitempty"`
	LabExtract   *LabExtract          `json:"lab_extract,omitempty"`
	Trend        *TrendReport         `json:"trend,omitempty"`
	Prescription *Prescription        `json:"prescription,omitempty"`
	Evidence     EvidenceLog          `json:"evidence"`

	State             PipelineState  `json:"state"`
	Visited           []StageVisit   `json:"visited"`
	Failure           *FailureReason `json:"failure,omitempty"`
	ReducedCapability bool           `json:"reduced_capability"`
	CreatedAt         time.Time      `json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// NewCaseRecord initialises a record in the INTAKE state
func NewCaseRecord(runID string, req RunRequest, now time.Time) *CaseRecord {
	return &CaseRecord{
		RunID:            runID,
		Patient:          req.Patient,
		LabFile:          req.LabFile,
		ManualLabExtract: req.ManualLabExtract,
		History:          append([]HistoricalReading(nil), req.History...),
		State:            StateIntake,
		CreatedAt:        now,
	}
}

// LabRequested reports whether lab data is present or was supplied for extraction
func (r *CaseRecord) LabRequested() bool {
	return r.LabExtract != nil || r.LabFile != nil || r.ManualLabExtract != nil
}

// HasSusceptibilityData reports whether the lab extract carries at least one triple
func (r *CaseRecord) HasSusceptibilityData() bool {
	return r.LabExtract != nil && len(r.LabExtract.Results) > 0
}

// VisitedState reports whether the run passed through a state
func (r *CaseRecord) VisitedState(s PipelineState) bool {
	for _, v := range r.Visited {
		if v.State == s {
			return true
		}
	}
	return false
}
