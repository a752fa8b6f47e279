package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkit/internal/adapter/analyzer"
	"ragkit/internal/domain"
	"ragkit/internal/port"
)

type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []string) ([]port.RerankedResult, error) {
	return nil, domain.ErrProviderUnavailable
}

func (failingReranker) ModelName() string { return "failing" }

type fixedReranker struct {
	scores []float64
}

func (f fixedReranker) Rerank(_ context.Context, _ string, texts []string) ([]port.RerankedResult, error) {
	out := make([]port.RerankedResult, len(texts))
	for i := range texts {
		out[i] = port.RerankedResult{Index: i, Score: f.scores[i]}
	}
	return out, nil
}

func (fixedReranker) ModelName() string { return "fixed" }

func fusedDocs(contents ...string) []domain.FusedCandidate {
	out := make([]domain.FusedCandidate, len(contents))
	for i, c := range contents {
		out[i] = domain.FusedCandidate{
			Document:   domain.Document{ID: string(rune('a' + i)), Content: c},
			FusedScore: 1.0 - float64(i)*0.1,
		}
	}
	return out
}

func TestRerankOrdersByScore(t *testing.T) {
	stage := NewRerankStage(fixedReranker{scores: []float64{0.1, 0.9, 0.5}}, nil)

	ranked, fallback, err := stage.Rerank(context.Background(), "q", fusedDocs("one", "two", "three"))
	require.NoError(t, err)
	assert.False(t, fallback)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].Document.ID)
	assert.Equal(t, "c", ranked[1].Document.ID)
	assert.Equal(t, "a", ranked[2].Document.ID)
}

// Primary unavailable: same documents come back, scored by the fallback, and
// the caller learns the fallback ran.
func TestRerankFallsBackOnProviderUnavailable(t *testing.T) {
	tokenizer := analyzer.NewTokenizer(true)
	stage := NewRerankStage(failingReranker{}, NewLexicalReranker(tokenizer))

	candidates := fusedDocs(
		"session histories are cleared explicitly",
		"the chunker slides a fixed window",
		"completely unrelated text about gardening",
	)
	ranked, fallback, err := stage.Rerank(context.Background(), "how are session histories cleared", candidates)
	require.NoError(t, err)
	assert.True(t, fallback)
	require.Len(t, ranked, len(candidates))

	ids := make(map[string]bool)
	for _, r := range ranked {
		ids[r.Document.ID] = true
	}
	for _, c := range candidates {
		assert.True(t, ids[c.Document.ID], "document %s must survive the fallback", c.Document.ID)
	}

	// The lexically matching document outranks the unrelated one.
	assert.Equal(t, "a", ranked[0].Document.ID)
}

func TestRerankNoFallbackPropagatesError(t *testing.T) {
	stage := NewRerankStage(failingReranker{}, nil)

	_, fallback, err := stage.Rerank(context.Background(), "q", fusedDocs("one"))
	require.Error(t, err)
	assert.False(t, fallback)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestRerankEmptyInput(t *testing.T) {
	stage := NewRerankStage(fixedReranker{}, nil)
	ranked, fallback, err := stage.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Empty(t, ranked)
}

func TestLexicalRerankerScoring(t *testing.T) {
	tokenizer := analyzer.NewTokenizer(true)
	r := NewLexicalReranker(tokenizer)

	scores, err := r.Rerank(context.Background(), "vector index search", []string{
		"the vector index serves search queries",
		"nothing relevant here",
	})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Greater(t, scores[0].Score, scores[1].Score)
	assert.Equal(t, 0, scores[0].Index)
}
