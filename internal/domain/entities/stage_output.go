package entities

// StageOutput is the typed partial result of one stage task
type StageOutput interface {
	// OutputOf names the state whose section the output fills
	OutputOf() PipelineState
	// Items returns the evidence gathered by the stage in rank order
	Items() []EvidenceItem
}

// IntakeOutput carries validated renal function
type IntakeOutput struct {
	Renal    RenalFunction
	Evidence []EvidenceItem
}

func (o *IntakeOutput) OutputOf() PipelineState { return StateIntake }
func (o *IntakeOutput) Items() []EvidenceItem   { return o.Evidence }

// EmpiricalOutput carries the historian's assessment
type EmpiricalOutput struct {
	Assessment EmpiricalAssessment
	Evidence   []EvidenceItem
}

func (o *EmpiricalOutput) OutputOf() PipelineState { return StateEmpirical }
func (o *EmpiricalOutput) Items() []EvidenceItem   { return o.Evidence }

// VisionOutput carries the normalised lab extract
type VisionOutput struct {
	Extract  LabExtract
	Evidence []EvidenceItem
}

func (o *VisionOutput) OutputOf() PipelineState { return StateVision }
func (o *VisionOutput) Items() []EvidenceItem   { return o.Evidence }

// TrendOutput carries the resistance trend report
type TrendOutput struct {
	Report   TrendReport
	Evidence []EvidenceItem
}

func (o *TrendOutput) OutputOf() PipelineState { return StateTrend }
func (o *TrendOutput) Items() []EvidenceItem   { return o.Evidence }

// PharmacologyOutput carries the prescription
type PharmacologyOutput struct {
	Prescription Prescription
	Evidence     []EvidenceItem
}

func (o *PharmacologyOutput) OutputOf() PipelineState { return StatePharmacology }
func (o *PharmacologyOutput) Items() []EvidenceItem   { return o.Evidence }
