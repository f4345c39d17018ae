package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	tsclient "github.com/zatekoja/amrguard/internal/infrastructure/clients/typesense"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// GuidelineIndex implements semantic guideline search using Typesense
// vector queries. Reads always go through the guideline alias.
type GuidelineIndex struct {
	client   *tsclient.Client
	embedder providers.EmbeddingProvider
}

// Ensure GuidelineIndex implements SemanticIndexRepository
var _ repositories.SemanticIndexRepository = (*GuidelineIndex)(nil)

// NewGuidelineIndex creates a new Typesense guideline index
func NewGuidelineIndex(client *tsclient.Client, embedder providers.EmbeddingProvider) *GuidelineIndex {
	return &GuidelineIndex{client: client, embedder: embedder}
}

// Search embeds the text and returns the k nearest chunks
func (g *GuidelineIndex) Search(ctx context.Context, text string, k int, filter repositories.ChunkFilter) ([]*entities.ScoredChunk, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return []*entities.ScoredChunk{}, nil
	}

	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperrors.NewExternalError("failed to embed query", err)
	}

	params := &api.SearchCollectionParams{
		Q:             pointer.String("*"),
		VectorQuery:   pointer.String(VectorQuery(vec, k)),
		PerPage:       pointer.Int(k),
		ExcludeFields: pointer.String("embedding"),
	}
	if fb := FilterBy(filter); fb != "" {
		params.FilterBy = pointer.String(fb)
	}

	result, err := g.client.Client().Collection(g.client.GuidelineAlias()).Documents().Search(ctx, params)
	if err != nil {
		return nil, apperrors.NewExternalError("failed to search guideline index", err)
	}

	chunks := []*entities.ScoredChunk{}
	if result.Hits == nil {
		return chunks, nil
	}
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		score := 0.0
		if hit.VectorDistance != nil {
			// Cosine distance in [0, 2]; similarity is 1 - distance
			score = 1 - float64(*hit.VectorDistance)
		}
		chunks = append(chunks, &entities.ScoredChunk{Chunk: chunkFromDocument(*hit.Document), Score: score})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.Year > chunks[j].Chunk.Year
	})
	return chunks, nil
}

// Publish writes the chunks into a fresh collection and re-points the alias
// at it. Searches see either the old or the new collection, never a mix.
func (g *GuidelineIndex) Publish(ctx context.Context, chunks []memory.EmbeddedChunk, dims int) (string, error) {
	name := fmt.Sprintf("%s_%d", g.client.GuidelineAlias(), time.Now().UnixNano())
	if _, err := g.client.Client().Collections().Create(ctx, tsclient.GuidelineSchema(name, dims)); err != nil {
		return "", fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	for _, c := range chunks {
		if len(c.Vector) != dims {
			return "", apperrors.NewValidationError(fmt.Sprintf("chunk %s has %d dimensions, want %d", c.Chunk.ID, len(c.Vector), dims))
		}
		if _, err := g.client.Client().Collection(name).Documents().Upsert(ctx, chunkDocument(c)); err != nil {
			return "", fmt.Errorf("failed to index guideline chunk %s: %w", c.Chunk.ID, err)
		}
	}

	if _, err := g.client.Client().Aliases().Upsert(ctx, g.client.GuidelineAlias(), &api.CollectionAliasSchema{CollectionName: name}); err != nil {
		return "", fmt.Errorf("failed to point alias at %s: %w", name, err)
	}

	log.Info().Str("alias", g.client.GuidelineAlias()).Str("collection", name).Int("chunks", len(chunks)).Msg("published guideline collection")
	return name, nil
}

// VectorQuery renders the Typesense vector_query parameter
func VectorQuery(vec []float32, k int) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return fmt.Sprintf("embedding:([%s], k:%d)", strings.Join(parts, ","), k)
}

// FilterBy renders metadata filters as a Typesense filter_by expression
func FilterBy(filter repositories.ChunkFilter) string {
	var clauses []string
	add := func(field, value string) {
		if value = strings.TrimSpace(value); value != "" {
			clauses = append(clauses, fmt.Sprintf("%s:=`%s`", field, strings.ReplaceAll(value, "`", "")))
		}
	}
	add("collection", filter.Collection)
	add("pathogen_type", filter.PathogenType)
	add("category", filter.Category)
	return strings.Join(clauses, " && ")
}

func chunkDocument(c memory.EmbeddedChunk) map[string]interface{} {
	doc := map[string]interface{}{
		"id":         c.Chunk.ID,
		"text":       c.Chunk.Text,
		"collection": c.Chunk.Collection,
		"source":     c.Chunk.Source,
		"year":       c.Chunk.Year,
		"embedding":  c.Vector,
	}
	if c.Chunk.Category != "" {
		doc["category"] = c.Chunk.Category
	}
	if c.Chunk.PathogenType != "" {
		doc["pathogen_type"] = c.Chunk.PathogenType
	}
	if c.Chunk.Page > 0 {
		doc["page"] = c.Chunk.Page
	}
	return doc
}

// chunkFromDocument reads a hit back. Typesense returns numbers as float64.
func chunkFromDocument(doc map[string]interface{}) entities.GuidelineChunk {
	str := func(key string) string {
		if v, ok := doc[key].(string); ok {
			return v
		}
		return ""
	}
	num := func(key string) int {
		if v, ok := doc[key].(float64); ok {
			return int(v)
		}
		return 0
	}
	return entities.GuidelineChunk{
		ID:           str("id"),
		Collection:   str("collection"),
		Source:       str("source"),
		Page:         num("page"),
		Category:     str("category"),
		PathogenType: str("pathogen_type"),
		Year:         num("year"),
		Text:         str("text"),
	}
}
