package chunker

import (
	"ragkit/internal/domain"
)

// WindowChunker splits text into fixed-size character windows where each
// window after the first repeats the final overlap characters of its
// predecessor. Sizes are in runes so multi-byte scripts are never split
// mid-character.
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window parameters. Overlap must be smaller
// than size and both must be positive.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, domain.ConfigErrorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, domain.ConfigErrorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, domain.ConfigErrorf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Chunk returns the ordered windows covering text. Text shorter than one
// window yields exactly one chunk; empty text yields one empty chunk.
func (c *WindowChunker) Chunk(text string) ([]string, error) {
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}, nil
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// Size returns the configured window size in runes.
func (c *WindowChunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *WindowChunker) Overlap() int { return c.overlap }
