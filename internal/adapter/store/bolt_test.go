package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkit/internal/domain"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, path
}

func testDoc(id, source string, index int, embedding []float32) domain.Document {
	return domain.Document{
		ID:        id,
		Content:   "content of " + id,
		Embedding: embedding,
		Metadata:  domain.Metadata{Source: source, ChunkIndex: index, TotalChunks: 3},
	}
}

func TestUpsertAndGet(t *testing.T) {
	st, _ := openTestStore(t)

	doc := testDoc("d1", "a.md", 0, []float32{1, 0, 0})
	require.NoError(t, st.Upsert("notes", []domain.Document{doc}))

	got, err := st.Get("notes", "d1")
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Embedding, got.Embedding)
	assert.Equal(t, doc.Metadata, got.Metadata)

	_, err = st.Get("notes", "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = st.Get("no-such-collection", "d1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Upsert("kb", []domain.Document{testDoc("d1", "a.md", 0, []float32{0.5, 0.5})}))
	require.NoError(t, st.UpdatePostings("kb", "d1", []string{"alpha", "beta", "alpha"}))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Get("kb", "d1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, got.Embedding)

	postings, err := st.Postings("kb", "alpha")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, "d1", postings[0].DocID)
	assert.Equal(t, 2, postings[0].TF)

	hits, err := st.Search("kb", []float32{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].DocID)
}

func TestCollectionIsolation(t *testing.T) {
	st, _ := openTestStore(t)

	require.NoError(t, st.Upsert("alpha", []domain.Document{testDoc("d1", "a.md", 0, []float32{1, 0})}))
	require.NoError(t, st.Upsert("beta", []domain.Document{testDoc("d2", "b.md", 0, []float32{0, 1})}))

	_, err := st.Get("alpha", "d2")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	hits, err := st.Search("beta", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].DocID)

	require.NoError(t, st.Clear("alpha"))
	_, err = st.Get("beta", "d2")
	assert.NoError(t, err, "clearing one collection must not touch another")
}

func TestBatchDeleteAccounting(t *testing.T) {
	st, _ := openTestStore(t)

	require.NoError(t, st.Upsert("kb", []domain.Document{
		testDoc("d1", "a.md", 0, []float32{1, 0}),
		testDoc("d2", "a.md", 1, []float32{0, 1}),
	}))

	success, failed, err := st.Delete("kb", []string{"d1", "ghost", "d2", "ghost2"})
	require.NoError(t, err)
	assert.Equal(t, 2, success)
	assert.ElementsMatch(t, []string{"ghost", "ghost2"}, failed)
	assert.Equal(t, 4, success+len(failed), "every requested id must be accounted for")

	count, err := st.Count("kb")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteRemovesPostings(t *testing.T) {
	st, _ := openTestStore(t)

	require.NoError(t, st.Upsert("kb", []domain.Document{testDoc("d1", "a.md", 0, nil)}))
	require.NoError(t, st.UpdatePostings("kb", "d1", []string{"term"}))

	_, _, err := st.Delete("kb", []string{"d1"})
	require.NoError(t, err)

	postings, err := st.Postings("kb", "term")
	require.NoError(t, err)
	assert.Empty(t, postings)

	stats, err := st.CorpusStats("kb")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalDocs)
	assert.Equal(t, 0, stats.TotalTokens)
}

func TestNormalizeName(t *testing.T) {
	safe := NormalizeName("my-notes_2")
	assert.Regexp(t, `^my-notes_2_[0-9a-f]{8}$`, safe)

	chinese := NormalizeName("知识库")
	assert.Regexp(t, `^kb_[0-9a-f]{8}$`, chinese)

	upper := NormalizeName("MyDocs")
	assert.Regexp(t, `^mydocs_[0-9a-f]{8}$`, upper)

	assert.NotEqual(t, NormalizeName("知识库"), NormalizeName("论文库"),
		"distinct originals must not collide even when all characters are unsafe")
	assert.Equal(t, NormalizeName("docs"), NormalizeName("docs"))
}

func TestOriginalNamePreserved(t *testing.T) {
	st, _ := openTestStore(t)

	require.NoError(t, st.Upsert("知识库", []domain.Document{testDoc("d1", "a.md", 0, []float32{1})}))

	info, err := st.Info("知识库")
	require.NoError(t, err)
	assert.Equal(t, "知识库", info.OriginalName)
	assert.Equal(t, NormalizeName("知识库"), info.Name)
	assert.Equal(t, 1, info.DocumentCount)

	infos, err := st.Collections()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "知识库", infos[0].OriginalName)
}

func TestListBySourceOrdersByChunkIndex(t *testing.T) {
	st, _ := openTestStore(t)

	require.NoError(t, st.Upsert("kb", []domain.Document{
		testDoc("z2", "doc.md", 2, nil),
		testDoc("a0", "doc.md", 0, nil),
		testDoc("m1", "doc.md", 1, nil),
		testDoc("x0", "other.md", 0, nil),
	}))

	docs, err := st.ListBySource("kb", "doc.md")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, i, d.Metadata.ChunkIndex)
	}
}

func TestSearchVisibilityAfterUpsert(t *testing.T) {
	st, _ := openTestStore(t)

	require.NoError(t, st.Upsert("kb", []domain.Document{testDoc("d1", "a.md", 0, []float32{1, 0})}))

	// First search loads the snapshot.
	hits, err := st.Search("kb", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// A later upsert must be visible to the next search.
	require.NoError(t, st.Upsert("kb", []domain.Document{testDoc("d2", "a.md", 1, []float32{0, 1})}))
	hits, err = st.Search("kb", []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d2", hits[0].DocID)
}

func TestSearchSeesWriteThatRacedColdLoad(t *testing.T) {
	st, _ := openTestStore(t)

	// A write committing while the first search is still loading its disk
	// snapshot must not end up hidden behind a stale cache.
	for i := 0; i < 20; i++ {
		coll := fmt.Sprintf("race-%d", i)
		require.NoError(t, st.Upsert(coll, []domain.Document{testDoc("seed", "a.md", 0, []float32{1, 0, 0})}))

		done := make(chan struct{})
		go func() {
			for j := 0; j < 50; j++ {
				st.Search(coll, []float32{1, 0, 0}, 5)
			}
			close(done)
		}()
		require.NoError(t, st.Upsert(coll, []domain.Document{testDoc("late", "a.md", 1, []float32{0, 1, 0})}))
		<-done

		hits, err := st.Search(coll, []float32{0, 1, 0}, 5)
		require.NoError(t, err)
		found := false
		for _, h := range hits {
			if h.DocID == "late" {
				found = true
			}
		}
		require.True(t, found, "collection %s lost an upsert to a stale snapshot", coll)
	}
}
