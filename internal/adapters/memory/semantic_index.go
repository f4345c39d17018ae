package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// EmbeddedChunk is a guideline chunk with its precomputed vector
type EmbeddedChunk struct {
	Chunk  entities.GuidelineChunk `json:"chunk"`
	Vector []float32               `json:"vector"`
}

// SemanticIndex is an exact nearest-neighbour index held in memory
type SemanticIndex struct {
	embedder providers.EmbeddingProvider
	chunks   atomic.Pointer[[]EmbeddedChunk]
}

// NewSemanticIndex creates an index over the given chunks
func NewSemanticIndex(embedder providers.EmbeddingProvider, chunks []EmbeddedChunk) *SemanticIndex {
	idx := &SemanticIndex{embedder: embedder}
	idx.Swap(chunks)
	return idx
}

// IndexChunks embeds the chunks with the index's embedder
func IndexChunks(ctx context.Context, embedder providers.EmbeddingProvider, chunks []entities.GuidelineChunk) ([]EmbeddedChunk, error) {
	out := make([]EmbeddedChunk, 0, len(chunks))
	for _, c := range chunks {
		vec, err := embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, apperrors.NewExternalError("failed to embed guideline chunk "+c.ID, err)
		}
		out = append(out, EmbeddedChunk{Chunk: c, Vector: vec})
	}
	return out, nil
}

// Swap installs a new chunk set
func (i *SemanticIndex) Swap(chunks []EmbeddedChunk) {
	cp := append([]EmbeddedChunk(nil), chunks...)
	i.chunks.Store(&cp)
}

// Search returns up to k chunks by descending cosine similarity; equal
// scores prefer the more recent document
func (i *SemanticIndex) Search(ctx context.Context, text string, k int, filter repositories.ChunkFilter) ([]*entities.ScoredChunk, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return []*entities.ScoredChunk{}, nil
	}
	query, err := i.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperrors.NewExternalError("failed to embed query", err)
	}

	results := []*entities.ScoredChunk{}
	for _, c := range *i.chunks.Load() {
		if !matches(c.Chunk, filter) {
			continue
		}
		results = append(results, &entities.ScoredChunk{Chunk: c.Chunk, Score: Cosine(query, c.Vector)})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Chunk.Year > results[b].Chunk.Year
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matches(c entities.GuidelineChunk, f repositories.ChunkFilter) bool {
	if f.Collection != "" && c.Collection != f.Collection {
		return false
	}
	if f.PathogenType != "" && !strings.EqualFold(c.PathogenType, f.PathogenType) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(c.Category, f.Category) {
		return false
	}
	return true
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty or their lengths differ
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LoadChunksFile reads a JSON array of guideline chunks from disk
func LoadChunksFile(path string) ([]entities.GuidelineChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}
	var chunks []entities.GuidelineChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse chunks file: %w", err)
	}
	for i, c := range chunks {
		if c.ID == "" || strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("chunk %d in %s has no id or text", i, path)
		}
	}
	return chunks, nil
}
