package entities

// RenalCategory buckets creatinine clearance for dosing decisions
type RenalCategory string

const (
	RenalNormal   RenalCategory = "normal"
	RenalMild     RenalCategory = "mild_impairment"
	RenalModerate RenalCategory = "moderate_impairment"
	RenalSevere   RenalCategory = "severe_impairment"
	RenalESRD     RenalCategory = "esrd"
	// RenalAny matches dosage rules that do not depend on renal function
	RenalAny RenalCategory = "any"
)

// WeightBasis records which body weight fed the clearance estimate
type WeightBasis string

const (
	WeightActual   WeightBasis = "actual"
	WeightIdeal    WeightBasis = "ideal"
	WeightAdjusted WeightBasis = "adjusted"
)

// RenalFunction is the deterministic output of the intake stage
type RenalFunction struct {
	CreatinineClearanceMlMin float64       `json:"creatinine_clearance_ml_min"`
	Category                 RenalCategory `json:"category"`
	WeightBasis              WeightBasis   `json:"weight_basis"`
	DosingWeightKg           float64       `json:"dosing_weight_kg"`
	Formula                  string        `json:"formula"`
}
