package services

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// newEvidence builds an evidence item with a fresh identifier
func newEvidence(source entities.SourceStore, category entities.EvidenceCategory, locator, snippet string, row any, score float64) entities.EvidenceItem {
	return entities.EvidenceItem{
		ID:       uuid.NewString(),
		Source:   source,
		Locator:  locator,
		Snippet:  snippet,
		Row:      rowOf(row),
		Score:    score,
		Category: category,
	}
}

// rowOf flattens a reference row into a generic map for the evidence log
func rowOf(v any) map[string]any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// ranked assigns 1-based ranks in log order and stamps the producing stage
func ranked(log entities.EvidenceLog, stage entities.PipelineState) entities.EvidenceLog {
	for i := range log {
		log[i].Rank = i + 1
		log[i].Stage = stage
	}
	return log
}
