package usecase

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkit/internal/adapter/analyzer"
	"ragkit/internal/adapter/store"
	"ragkit/internal/domain"
)

func newAssembleFixture(t *testing.T, budget int, neighbors bool) (*Assembler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "asm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	asm, err := NewAssembler(st, analyzer.NewTokenizer(true), AssemblerOptions{
		BudgetTokens:    budget,
		ExpandNeighbors: neighbors,
	})
	require.NoError(t, err)
	return asm, st
}

func rankedDoc(id, content, source string, index int) domain.RankedCandidate {
	return domain.RankedCandidate{
		Document: domain.Document{
			ID:       id,
			Content:  content,
			Metadata: domain.Metadata{Source: source, ChunkIndex: index},
		},
		RerankScore: 1,
	}
}

func TestAssembleRespectsBudget(t *testing.T) {
	asm, _ := newAssembleFixture(t, 20, false)

	ranked := []domain.RankedCandidate{
		rankedDoc("a", "first chunk with several words inside it", "s", 0),
		rankedDoc("b", "second chunk also has plenty of words in it", "s", 1),
		rankedDoc("c", "third chunk likewise contains a number of words", "s", 2),
	}
	out := asm.Assemble("kb", ranked)

	assert.LessOrEqual(t, out.UsedTokens, out.BudgetTokens)
	assert.NotEmpty(t, out.Text)
	assert.NotEmpty(t, out.DocumentIDs)
}

func TestAssembleSkipsOversizedKeepsSmaller(t *testing.T) {
	asm, _ := newAssembleFixture(t, 20, false)

	big := strings.Repeat("word ", 60)
	ranked := []domain.RankedCandidate{
		rankedDoc("fits", "short first chunk", "s", 0),
		rankedDoc("huge", big, "s", 1),
		rankedDoc("small", "tiny tail chunk", "s", 2),
	}
	out := asm.Assemble("kb", ranked)

	assert.Contains(t, out.DocumentIDs, "fits")
	assert.NotContains(t, out.DocumentIDs, "huge", "an oversized later document is skipped, not truncated")
	assert.Contains(t, out.DocumentIDs, "small", "skipping must leave room for later smaller documents")
	assert.LessOrEqual(t, out.UsedTokens, 20)
}

func TestAssembleTruncatesOversizedFirstDocument(t *testing.T) {
	asm, _ := newAssembleFixture(t, 10, false)

	big := strings.Repeat("word ", 100)
	out := asm.Assemble("kb", []domain.RankedCandidate{rankedDoc("only", big, "s", 0)})

	require.Len(t, out.DocumentIDs, 1)
	assert.NotEmpty(t, out.Text, "the top document must be truncated rather than producing an empty context")
	assert.Less(t, len(out.Text), len(big))
	assert.LessOrEqual(t, out.UsedTokens, 10)
}

func TestAssembleEmptyInput(t *testing.T) {
	asm, _ := newAssembleFixture(t, 100, false)
	out := asm.Assemble("kb", nil)
	assert.Empty(t, out.Text)
	assert.Zero(t, out.UsedTokens)
	assert.Empty(t, out.DocumentIDs)
}

func TestAssembleNeighborExpansion(t *testing.T) {
	asm, st := newAssembleFixture(t, 200, true)

	docs := []domain.Document{
		{ID: "c0", Content: "chunk zero text", Metadata: domain.Metadata{Source: "doc.md", ChunkIndex: 0}},
		{ID: "c1", Content: "chunk one text", Metadata: domain.Metadata{Source: "doc.md", ChunkIndex: 1}},
		{ID: "c2", Content: "chunk two text", Metadata: domain.Metadata{Source: "doc.md", ChunkIndex: 2}},
		{ID: "c9", Content: "far away chunk", Metadata: domain.Metadata{Source: "doc.md", ChunkIndex: 9}},
	}
	require.NoError(t, st.Upsert("kb", docs))

	out := asm.Assemble("kb", []domain.RankedCandidate{
		{Document: docs[1], RerankScore: 1},
	})

	assert.Contains(t, out.DocumentIDs, "c1")
	assert.Contains(t, out.DocumentIDs, "c0", "previous chunk joins when budget allows")
	assert.Contains(t, out.DocumentIDs, "c2", "next chunk joins when budget allows")
	assert.NotContains(t, out.DocumentIDs, "c9", "only directly adjacent chunks are expanded")
}

func TestAssembleNeighborExpansionRespectsBudget(t *testing.T) {
	asm, st := newAssembleFixture(t, 8, true)

	docs := []domain.Document{
		{ID: "c0", Content: strings.Repeat("padding ", 30), Metadata: domain.Metadata{Source: "doc.md", ChunkIndex: 0}},
		{ID: "c1", Content: "selected chunk", Metadata: domain.Metadata{Source: "doc.md", ChunkIndex: 1}},
	}
	require.NoError(t, st.Upsert("kb", docs))

	out := asm.Assemble("kb", []domain.RankedCandidate{{Document: docs[1], RerankScore: 1}})

	assert.Contains(t, out.DocumentIDs, "c1")
	assert.NotContains(t, out.DocumentIDs, "c0", "a neighbor that would blow the budget stays out")
	assert.LessOrEqual(t, out.UsedTokens, 8)
}

func TestNewAssemblerRejectsBadBudget(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "asm.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = NewAssembler(st, analyzer.NewTokenizer(true), AssemblerOptions{BudgetTokens: 0})
	assert.ErrorIs(t, err, domain.ErrConfig)
}
