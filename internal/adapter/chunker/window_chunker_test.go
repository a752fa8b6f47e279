package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkit/internal/domain"
)

func TestChunkWindows(t *testing.T) {
	c, err := NewWindowChunker(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("a", 40) + strings.Repeat("b", 40) + strings.Repeat("c", 40)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, text[0:50], chunks[0])
	assert.Equal(t, text[40:90], chunks[1])
	assert.Equal(t, text[80:120], chunks[2])
}

func TestChunkCoversWholeText(t *testing.T) {
	c, err := NewWindowChunker(30, 7)
	require.NoError(t, err)

	text := "The ingestion path splits long source texts into overlapping windows so that no sentence is lost at a boundary."
	chunks, err := c.Chunk(text)
	require.NoError(t, err)

	// Strip each chunk's overlap with its predecessor; the remainder must
	// reconstruct the input exactly.
	var rebuilt strings.Builder
	rebuilt.WriteString(chunks[0])
	for _, chunk := range chunks[1:] {
		runes := []rune(chunk)
		rebuilt.WriteString(string(runes[7:]))
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	c, err := NewWindowChunker(100, 20)
	require.NoError(t, err)

	chunks, err := c.Chunk("short")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0])

	exact := strings.Repeat("x", 100)
	chunks, err = c.Chunk(exact)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, exact, chunks[0])
}

func TestChunkRuneBoundaries(t *testing.T) {
	c, err := NewWindowChunker(4, 1)
	require.NoError(t, err)

	text := "知识库检索系统测试"
	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	for _, chunk := range chunks {
		assert.Contains(t, text, chunk, "windows must not split multi-byte characters")
	}
	assert.Equal(t, "知识库检", chunks[0])
}

func TestNewWindowChunkerValidation(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWindowChunker(tc.size, tc.overlap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfig))
		})
	}
}
