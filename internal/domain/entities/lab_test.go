package entities_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/domain/entities"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want entities.SusceptibilityCategory
	}{
		{"R", entities.CategoryResistant},
		{" resistant ", entities.CategoryResistant},
		{"Susceptible", entities.CategorySusceptible},
		{"SENSITIVE", entities.CategorySusceptible},
		{"sdd", entities.CategoryIntermediate},
		{"", entities.CategoryUnknown},
		{"Unknown", entities.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, entities.ParseCategory(tt.in))
		})
	}
}

func TestSusceptibilityCategory_DecodesEitherForm(t *testing.T) {
	var history []entities.HistoricalReading
	require.NoError(t, json.Unmarshal([]byte(`[
		{"pathogen": "Escherichia coli", "antibiotic": "meropenem", "mic": 2, "category": "Susceptible"},
		{"pathogen": "Escherichia coli", "antibiotic": "meropenem", "mic": 16, "category": "R"},
		{"pathogen": "Escherichia coli", "antibiotic": "meropenem", "mic": 4}
	]`), &history))

	assert.Equal(t, entities.CategorySusceptible, history[0].Category)
	assert.Equal(t, entities.CategoryResistant, history[1].Category)
	assert.Equal(t, entities.CategoryUnknown, history[2].Category)

	encoded, err := json.Marshal(entities.SusceptibilityResult{Antibiotic: "meropenem", Category: entities.ParseCategory("Resistant")})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"category":"R"`)
}
