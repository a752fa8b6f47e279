package retriever

import (
	"context"
	"fmt"

	"ragkit/internal/adapter/store"
	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// VectorRetriever answers a query by embedding it and running cosine search
// against the collection's vector index.
type VectorRetriever struct {
	store    *store.Store
	embedder port.Embedder
}

// NewVectorRetriever creates a vector retriever.
func NewVectorRetriever(st *store.Store, embedder port.Embedder) *VectorRetriever {
	return &VectorRetriever{store: st, embedder: embedder}
}

// Search returns up to k candidates scored by cosine similarity.
func (r *VectorRetriever) Search(ctx context.Context, collection, query string, k int) ([]domain.RetrievalCandidate, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := r.store.Search(collection, vectors[0], k)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.RetrievalCandidate, 0, len(hits))
	for _, hit := range hits {
		doc, err := r.store.Get(collection, hit.DocID)
		if err != nil {
			continue
		}
		candidates = append(candidates, domain.RetrievalCandidate{
			Document: doc,
			Score:    hit.Score,
			Channel:  domain.ChannelVector,
		})
	}
	return candidates, nil
}
