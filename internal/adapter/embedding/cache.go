package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"ragkit/internal/port"
)

// CachedEmbedder memoizes embeddings by text so re-ingesting unchanged
// content and repeated queries skip the remote round trip. Entries are
// evicted in insertion order once maxSize is reached.
type CachedEmbedder struct {
	inner   port.Embedder
	mu      sync.RWMutex
	entries map[string][]float32
	order   []string
	maxSize int
}

// NewCachedEmbedder wraps inner with a bounded memoizing cache.
func NewCachedEmbedder(inner port.Embedder, maxSize int) *CachedEmbedder {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &CachedEmbedder{
		inner:   inner,
		entries: make(map[string][]float32),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// Embed returns cached vectors where available and delegates the rest to the
// wrapped embedder in a single batched call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	c.mu.RLock()
	for i, text := range texts {
		if vec, ok := c.entries[cacheKey(text)]; ok {
			result[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	fresh, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, vec := range fresh {
		result[missingIdx[j]] = vec
		key := cacheKey(missing[j])
		if _, exists := c.entries[key]; !exists {
			if len(c.order) >= c.maxSize {
				oldest := c.order[0]
				c.order = c.order[1:]
				delete(c.entries, oldest)
			}
			c.entries[key] = vec
			c.order = append(c.order, key)
		}
	}
	c.mu.Unlock()

	return result, nil
}

// Dimension returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// ModelName returns the wrapped embedder's model name.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
