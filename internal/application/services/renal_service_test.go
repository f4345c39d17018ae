package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

func TestComputeRenalFunction(t *testing.T) {
	height := func(cm float64) *float64 { return &cm }

	tests := []struct {
		name     string
		input    entities.PatientInput
		crcl     float64
		category entities.RenalCategory
		basis    entities.WeightBasis
	}{
		{
			name:     "male actual weight",
			input:    entities.PatientInput{AgeYears: 60, Sex: entities.SexMale, WeightKg: 72, SerumCreatinineMgDl: 1.0, InfectionSite: "lung"},
			crcl:     80,
			category: entities.RenalMild,
			basis:    entities.WeightActual,
		},
		{
			name:     "female correction",
			input:    entities.PatientInput{AgeYears: 60, Sex: entities.SexFemale, WeightKg: 72, SerumCreatinineMgDl: 1.0, InfectionSite: "lung"},
			crcl:     68,
			category: entities.RenalMild,
			basis:    entities.WeightActual,
		},
		{
			name:     "severe impairment",
			input:    entities.PatientInput{AgeYears: 80, Sex: entities.SexMale, WeightKg: 60, SerumCreatinineMgDl: 2.0, InfectionSite: "urinary tract"},
			crcl:     25,
			category: entities.RenalSevere,
			basis:    entities.WeightActual,
		},
		{
			name:     "end stage",
			input:    entities.PatientInput{AgeYears: 90, Sex: entities.SexFemale, WeightKg: 50, SerumCreatinineMgDl: 6.0, InfectionSite: "blood"},
			crcl:     4.9,
			category: entities.RenalESRD,
			basis:    entities.WeightActual,
		},
		{
			name:     "young normal",
			input:    entities.PatientInput{AgeYears: 30, Sex: entities.SexMale, WeightKg: 80, SerumCreatinineMgDl: 0.8, InfectionSite: "skin"},
			crcl:     152.8,
			category: entities.RenalNormal,
			basis:    entities.WeightActual,
		},
		{
			name:     "obese patient uses adjusted weight",
			input:    entities.PatientInput{AgeYears: 50, Sex: entities.SexMale, WeightKg: 120, HeightCm: height(180), SerumCreatinineMgDl: 1.0, InfectionSite: "skin"},
			crcl:     116.2,
			category: entities.RenalNormal,
			basis:    entities.WeightAdjusted,
		},
		{
			name:     "underweight patient keeps actual weight",
			input:    entities.PatientInput{AgeYears: 50, Sex: entities.SexMale, WeightKg: 60, HeightCm: height(180), SerumCreatinineMgDl: 1.0, InfectionSite: "skin"},
			crcl:     75,
			category: entities.RenalMild,
			basis:    entities.WeightActual,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renal, err := services.ComputeRenalFunction(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.crcl, renal.CreatinineClearanceMlMin, 0.11)
			assert.Equal(t, tt.category, renal.Category)
			assert.Equal(t, tt.basis, renal.WeightBasis)
			assert.Equal(t, "cockcroft-gault", renal.Formula)
		})
	}
}

func TestComputeRenalFunction_InvalidInput(t *testing.T) {
	_, err := services.ComputeRenalFunction(entities.PatientInput{AgeYears: 0, Sex: "x", WeightKg: 70, SerumCreatinineMgDl: 1})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "age_years")
	assert.Contains(t, err.Error(), "sex")
	assert.Contains(t, err.Error(), "infection_site")
}

func TestDosingWeight_IdealBand(t *testing.T) {
	h := 160.0
	weight, basis := services.DosingWeight(60, &h, entities.SexFemale)

	assert.Equal(t, entities.WeightIdeal, basis)
	assert.InDelta(t, services.IdealBodyWeight(h, entities.SexFemale), weight, 1e-9)
}

func TestRenalCategoryFor_Boundaries(t *testing.T) {
	assert.Equal(t, entities.RenalNormal, services.RenalCategoryFor(90))
	assert.Equal(t, entities.RenalMild, services.RenalCategoryFor(89.9))
	assert.Equal(t, entities.RenalMild, services.RenalCategoryFor(60))
	assert.Equal(t, entities.RenalModerate, services.RenalCategoryFor(30))
	assert.Equal(t, entities.RenalSevere, services.RenalCategoryFor(29.9))
	assert.Equal(t, entities.RenalSevere, services.RenalCategoryFor(15))
	assert.Equal(t, entities.RenalESRD, services.RenalCategoryFor(14.9))
}
