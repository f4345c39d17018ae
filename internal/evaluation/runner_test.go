package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/adapters/embedding"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	"github.com/zatekoja/amrguard/pkg/utils"
)

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) GuidelineSearch(ctx context.Context, text string, k int, filter repositories.ChunkFilter) (entities.EvidenceLog, error) {
	args := m.Called(ctx, text, k, filter)
	if log := args.Get(0); log != nil {
		return log.(entities.EvidenceLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func hits(ids ...string) entities.EvidenceLog {
	log := entities.EvidenceLog{}
	for _, id := range ids {
		log = append(log, entities.EvidenceItem{ID: "ev-" + id, Category: entities.EvidenceGuideline, Row: map[string]any{"id": id}})
	}
	return log
}

func TestRunner_Run(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("GuidelineSearch", mock.Anything, "esbl cystitis", 5, repositories.ChunkFilter{Collection: services.CollectionTreatment}).
		Return(hits("x", "idsa-1"), nil).Once()
	searcher.On("GuidelineSearch", mock.Anything, "cre", 5, repositories.ChunkFilter{PathogenType: "CRE"}).
		Return(hits("idsa-2"), nil).Once()
	searcher.On("GuidelineSearch", mock.Anything, "broken", 5, mock.Anything).
		Return(nil, errors.New("index unavailable")).Once()

	summary, err := NewRunner(searcher, 5).Run(context.Background(), []GoldenQuery{
		{ID: "q1", Query: "esbl cystitis", Collection: services.CollectionTreatment, ExpectedChunks: []string{"idsa-1"}},
		{ID: "q2", Query: "cre", PathogenType: "CRE", ExpectedChunks: []string{"idsa-2", "idsa-9"}},
		{ID: "q3", Query: "broken", ExpectedChunks: []string{"idsa-3"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 5, summary.K)
	assert.Equal(t, 3, summary.TotalQueries)
	assert.Equal(t, 1, summary.FailedQueries)
	assert.Equal(t, 2, summary.QueriesWithHits)
	assert.InDelta(t, (1.0+0.5+0)/3, summary.AvgRecall, 1e-9)
	assert.InDelta(t, (0.5+1.0+0)/3, summary.AvgMRR, 1e-9)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, []string{"x", "idsa-1"}, summary.Results[0].RetrievedChunks)
	assert.Equal(t, "index unavailable", summary.Results[2].Error)
	assert.Equal(t, 1, summary.ByCollection[services.CollectionTreatment].Count)
	assert.Equal(t, 2, summary.ByCollection["all"].Count)
	assert.InDelta(t, 0.25, summary.ByCollection["all"].AvgRecall, 1e-9)
	searcher.AssertExpectations(t)
}

func TestRunner_DefaultK(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("GuidelineSearch", mock.Anything, "q", 10, mock.Anything).Return(hits(), nil).Once()

	summary, err := NewRunner(searcher, 0).Run(context.Background(), []GoldenQuery{{ID: "q", Query: "q", ExpectedChunks: []string{"a"}}})

	require.NoError(t, err)
	assert.Equal(t, 10, summary.K)
	assert.Zero(t, summary.QueriesWithHits)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(&mockSearcher{}, 5).Run(ctx, []GoldenQuery{{ID: "q", Query: "q"}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_OverRetrievalFusion(t *testing.T) {
	embedder := embedding.NewHashingEmbedder(64)
	chunks, err := memory.IndexChunks(context.Background(), embedder, []entities.GuidelineChunk{
		{ID: "idsa-1", Collection: services.CollectionTreatment, Source: "IDSA", PathogenType: "ESBL-E", Text: "nitrofurantoin for ESBL-E cystitis"},
		{ID: "idsa-2", Collection: services.CollectionTreatment, Source: "IDSA", PathogenType: "CRE", Text: "meropenem-vaborbactam for CRE"},
	})
	require.NoError(t, err)
	fusion := services.NewRetrievalFusion(memory.NewReferenceStore(&entities.ReferenceSnapshot{Version: "test"}),
		memory.NewSemanticIndex(embedder, chunks), utils.NewDefaultClinicalNameNormalizer(), 3)

	summary, err := NewRunner(fusion, 3).Run(context.Background(), []GoldenQuery{
		{ID: "cre", Query: "carbapenem resistant infection", PathogenType: "CRE", ExpectedChunks: []string{"idsa-2"}, Difficulty: "easy"},
	})

	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.AvgRecall, 1e-9)
	assert.InDelta(t, 1.0, summary.AvgMRR, 1e-9)
}
