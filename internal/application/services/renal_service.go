package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// ComputeRenalFunction estimates creatinine clearance with Cockcroft-Gault.
// With a height, the dosing weight follows the ideal/adjusted body weight
// rules; otherwise actual weight is used.
func ComputeRenalFunction(p entities.PatientInput) (*entities.RenalFunction, error) {
	if invalid := p.InvalidFields(); len(invalid) > 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("missing or invalid patient fields: %s", strings.Join(invalid, ", ")))
	}

	weight, basis := DosingWeight(p.WeightKg, p.HeightCm, p.Sex)
	crcl := (140 - p.AgeYears) * weight / (72 * p.SerumCreatinineMgDl)
	if p.Sex == entities.SexFemale {
		crcl *= 0.85
	}
	if crcl < 0 {
		crcl = 0
	}
	crcl = math.Round(crcl*10) / 10

	return &entities.RenalFunction{
		CreatinineClearanceMlMin: crcl,
		Category:                 RenalCategoryFor(crcl),
		WeightBasis:              basis,
		DosingWeightKg:           math.Round(weight*10) / 10,
		Formula:                  "cockcroft-gault",
	}, nil
}

// IdealBodyWeight is the Devine formula
func IdealBodyWeight(heightCm float64, sex entities.Sex) float64 {
	base := 50.0
	if sex == entities.SexFemale {
		base = 45.5
	}
	inches := heightCm / 2.54
	return base + 2.3*(inches-60)
}

// DosingWeight picks the weight that feeds the clearance estimate
func DosingWeight(actualKg float64, heightCm *float64, sex entities.Sex) (float64, entities.WeightBasis) {
	if heightCm == nil {
		return actualKg, entities.WeightActual
	}
	ibw := IdealBodyWeight(*heightCm, sex)
	switch {
	case actualKg > 1.3*ibw:
		return ibw + 0.4*(actualKg-ibw), entities.WeightAdjusted
	case actualKg < ibw:
		return actualKg, entities.WeightActual
	default:
		return ibw, entities.WeightIdeal
	}
}

// RenalCategoryFor buckets a clearance value in mL/min
func RenalCategoryFor(crcl float64) entities.RenalCategory {
	switch {
	case crcl >= 90:
		return entities.RenalNormal
	case crcl >= 60:
		return entities.RenalMild
	case crcl >= 30:
		return entities.RenalModerate
	case crcl >= 15:
		return entities.RenalSevere
	default:
		return entities.RenalESRD
	}
}
