package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecallAtK(t *testing.T) {
	tests := []struct {
		name      string
		relevant  []string
		retrieved []string
		k         int
		want      float64
	}{
		{"every guideline chunk retrieved", []string{"idsa-esbl-1", "idsa-cre-1"}, []string{"idsa-cre-1", "safety-fq-1", "idsa-esbl-1"}, 5, 1},
		{"half of the chunks found", []string{"idsa-uti-1", "eucast-entero-1"}, []string{"idsa-uti-1", "resist-ecoli-1"}, 5, 0.5},
		{"chunk beyond the cutoff", []string{"idsa-esbl-1", "safety-fq-1"}, []string{"idsa-esbl-1", "idsa-cre-1", "safety-fq-1"}, 2, 0.5},
		{"nothing retrieved", []string{"idsa-esbl-1"}, nil, 5, 0},
		{"query without labelled chunks", nil, []string{"idsa-esbl-1"}, 5, 0},
		{"repeated hit counts once", []string{"idsa-1", "idsa-2"}, []string{"idsa-1", "idsa-1", "idsa-1"}, 10, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RecallAtK(tt.relevant, tt.retrieved, tt.k), 1e-9)
		})
	}
}

func TestMRRAtK(t *testing.T) {
	tests := []struct {
		name      string
		relevant  []string
		retrieved []string
		k         int
		want      float64
	}{
		{"top hit is relevant", []string{"idsa-cre-1"}, []string{"idsa-cre-1", "idsa-esbl-1"}, 5, 1},
		{"first relevant at rank three", []string{"safety-fq-1"}, []string{"idsa-uti-1", "idsa-esbl-1", "safety-fq-1"}, 5, 1.0 / 3.0},
		{"earliest of several relevant wins", []string{"idsa-uti-1", "resist-ecoli-1"}, []string{"idsa-cre-1", "resist-ecoli-1", "idsa-uti-1"}, 5, 0.5},
		{"relevant chunk past the cutoff", []string{"eucast-entero-1"}, []string{"idsa-uti-1", "idsa-cre-1", "eucast-entero-1"}, 2, 0},
		{"nothing retrieved", []string{"idsa-esbl-1"}, nil, 5, 0},
		{"query without labelled chunks", nil, []string{"idsa-esbl-1"}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MRRAtK(tt.relevant, tt.retrieved, tt.k), 1e-9)
		})
	}
}
