package evaluation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGoldenQueries_ValidFile(t *testing.T) {
	content := `[
		{"id": "q1", "query": "ESBL cystitis oral options", "collection": "idsa_treatment_guidelines", "pathogen_type": "ESBL-E", "expected_chunks": ["idsa-1"], "difficulty": "easy"},
		{"id": "q2", "query": "carbapenem resistant enterobacterales", "expected_chunks": ["idsa-2", "idsa-7"], "difficulty": "hard"}
	]`
	path := writeTempFile(t, content)

	queries, err := LoadGoldenQueries(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0].Collection != "idsa_treatment_guidelines" {
		t.Errorf("expected treatment collection, got %s", queries[0].Collection)
	}
	if queries[0].PathogenType != "ESBL-E" {
		t.Errorf("expected ESBL-E, got %s", queries[0].PathogenType)
	}
	if len(queries[1].ExpectedChunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(queries[1].ExpectedChunks))
	}
}

func TestLoadGoldenQueries_InvalidFile(t *testing.T) {
	_, err := LoadGoldenQueries("/nonexistent/path.json")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadGoldenQueries_InvalidJSON(t *testing.T) {
	path := writeTempFile(t, `not valid json`)
	_, err := LoadGoldenQueries(path)
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadGoldenQueries_RejectsInvalidQueries(t *testing.T) {
	path := writeTempFile(t, `[{"id": "q1", "query": "x", "expected_chunks": [], "difficulty": "easy"}]`)
	_, err := LoadGoldenQueries(path)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadGoldenQueries_EmptyArray(t *testing.T) {
	path := writeTempFile(t, `[]`)
	queries, err := LoadGoldenQueries(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 0 {
		t.Errorf("expected 0 queries, got %d", len(queries))
	}
}

func TestValidateGoldenQueries(t *testing.T) {
	valid := GoldenQuery{ID: "q1", Query: "test", ExpectedChunks: []string{"c1"}, Difficulty: "easy"}

	tests := []struct {
		name    string
		mutate  func(q *GoldenQuery)
		wantErr bool
	}{
		{"valid", func(q *GoldenQuery) {}, false},
		{"valid collection", func(q *GoldenQuery) { q.Collection = "drug_safety" }, false},
		{"missing id", func(q *GoldenQuery) { q.ID = "" }, true},
		{"missing query", func(q *GoldenQuery) { q.Query = "" }, true},
		{"no expected chunks", func(q *GoldenQuery) { q.ExpectedChunks = nil }, true},
		{"unknown collection", func(q *GoldenQuery) { q.Collection = "facilities" }, true},
		{"invalid difficulty", func(q *GoldenQuery) { q.Difficulty = "impossible" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid
			tt.mutate(&q)
			err := ValidateGoldenQueries([]GoldenQuery{q})
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGoldenQueries() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGoldenQueries_DuplicateIDs(t *testing.T) {
	queries := []GoldenQuery{
		{ID: "q1", Query: "cystitis", ExpectedChunks: []string{"c1"}, Difficulty: "easy"},
		{ID: "q1", Query: "pyelonephritis", ExpectedChunks: []string{"c2"}, Difficulty: "easy"},
	}
	err := ValidateGoldenQueries(queries)
	if err == nil {
		t.Error("expected validation error for duplicate IDs")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}
