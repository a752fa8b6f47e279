package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeEnglish(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("The Vector index stores document embeddings")
	assert.Equal(t, []string{"vector", "index", "stores", "document", "embeddings"}, tokens)
}

func TestTokenizeStemming(t *testing.T) {
	tok := NewTokenizer(true)

	indexed := tok.Tokenize("indexed")
	indexing := tok.Tokenize("indexing")
	require.Len(t, indexed, 1)
	require.Len(t, indexing, 1)
	assert.Equal(t, indexed[0], indexing[0], "inflections of the same word must share a term")
}

func TestTokenizeChineseSegmentsWords(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("知识库支持混合检索")
	require.Greater(t, len(tokens), 1, "a Chinese sentence must segment into words, not one token")
	for _, token := range tokens {
		assert.NotEmpty(t, token)
		assert.NotContains(t, token, " ")
	}
}

func TestTokenizeMixedScripts(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("使用BM25算法检索")
	require.NotEmpty(t, tokens)
	assert.Contains(t, tokens, "bm25")
}

func TestCountTokens(t *testing.T) {
	tok := NewTokenizer(true)

	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 4, tok.CountTokens("检索系统"))

	// Latin words count at roughly 1.3 tokens each.
	n := tok.CountTokens("four plain english words")
	assert.Equal(t, 5, n)
}
