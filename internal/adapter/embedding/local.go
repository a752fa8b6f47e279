package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// LocalEmbedder is the in-process embedding variant: a hashed bag-of-terms
// projection. Each term is hashed onto a dimension with a deterministic sign,
// and the resulting vector is L2-normalized so cosine similarity behaves the
// same as with a model-served embedding. It is a pure function of its input
// and needs no network or model files.
type LocalEmbedder struct {
	dimension int
	tokenizer port.Tokenizer
}

// NewLocalEmbedder creates a local embedder with the declared dimension.
func NewLocalEmbedder(dimension int, tokenizer port.Tokenizer) (*LocalEmbedder, error) {
	if dimension <= 0 {
		return nil, domain.ConfigErrorf("embedding dimension must be positive, got %d", dimension)
	}
	return &LocalEmbedder{dimension: dimension, tokenizer: tokenizer}, nil
}

// Embed generates one vector per input text.
func (e *LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *LocalEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, term := range e.tokenizer.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Dimension returns the declared vector dimension.
func (e *LocalEmbedder) Dimension() int { return e.dimension }

// ModelName identifies the local projection model.
func (e *LocalEmbedder) ModelName() string { return "local-hash-projection" }
