package port

import "context"

// Embedder generates dense vectors for text. Implementations must return one
// vector per input, of a fixed declared dimension, deterministically per
// model version.
type Embedder interface {
	// Embed generates embeddings for the given texts, same length in/out.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
