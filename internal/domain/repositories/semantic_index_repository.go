package repositories

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// ChunkFilter restricts semantic search by chunk metadata. Empty fields do not filter.
type ChunkFilter struct {
	Collection   string
	PathogenType string
	Category     string
}

// SemanticIndexRepository searches guideline chunks by meaning
type SemanticIndexRepository interface {
	// Search embeds the text and returns up to k chunks by descending similarity
	Search(ctx context.Context, text string, k int, filter ChunkFilter) ([]*entities.ScoredChunk, error)
}
