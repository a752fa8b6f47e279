package retriever

import (
	"context"
	"sort"

	"ragkit/internal/domain"
)

// HybridRetriever runs the vector and keyword channels independently and
// fuses the two ranked lists into one, deduplicated strictly by document id.
type HybridRetriever struct {
	vector       *VectorRetriever
	keyword      *KeywordRetriever
	vectorWeight float64
}

// NewHybridRetriever creates a hybrid retriever. vectorWeight is the share of
// the fused score taken from the vector channel, in [0,1]; the keyword
// channel gets the remainder.
func NewHybridRetriever(vector *VectorRetriever, keyword *KeywordRetriever, vectorWeight float64) *HybridRetriever {
	if vectorWeight < 0 || vectorWeight > 1 {
		vectorWeight = 0.5
	}
	return &HybridRetriever{vector: vector, keyword: keyword, vectorWeight: vectorWeight}
}

// Search retrieves kEach candidates per channel and returns the top k fused
// results. A failure in either index aborts the query rather than silently
// returning a partial list.
func (r *HybridRetriever) Search(ctx context.Context, collection, query string, k int) ([]domain.FusedCandidate, error) {
	kEach := k * 2
	if kEach < 10 {
		kEach = 10
	}

	vectorHits, err := r.vector.Search(ctx, collection, query, kEach)
	if err != nil {
		return nil, err
	}
	keywordHits, err := r.keyword.Search(collection, query, kEach)
	if err != nil {
		return nil, err
	}

	fused := Fuse(vectorHits, keywordHits, r.vectorWeight)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// Fuse min-max normalizes each channel's scores and combines them per
// document id. A document present in both channels gets the weighted sum of
// its normalized scores; a document present in one channel keeps that
// channel's normalized score weighted against the channel weight actually in
// play, so single-channel hits are comparable to dual-channel ones instead of
// being halved for missing the other list. Ties break toward dual-channel
// presence, then toward the lower chunk index.
func Fuse(vectorHits, keywordHits []domain.RetrievalCandidate, vectorWeight float64) []domain.FusedCandidate {
	keywordWeight := 1 - vectorWeight
	normalize(vectorHits)
	normalize(keywordHits)

	byID := make(map[string]*domain.FusedCandidate)
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	for _, hit := range vectorHits {
		id := hit.Document.ID
		if _, seen := byID[id]; !seen {
			byID[id] = &domain.FusedCandidate{Document: hit.Document}
			order = append(order, id)
		}
		byID[id].VectorScore = hit.Score
		byID[id].InVector = true
	}
	for _, hit := range keywordHits {
		id := hit.Document.ID
		if _, seen := byID[id]; !seen {
			byID[id] = &domain.FusedCandidate{Document: hit.Document}
			order = append(order, id)
		}
		byID[id].KeywordScore = hit.Score
		byID[id].InKeyword = true
	}

	results := make([]domain.FusedCandidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		weightMass := 0.0
		score := 0.0
		if c.InVector {
			score += vectorWeight * c.VectorScore
			weightMass += vectorWeight
		}
		if c.InKeyword {
			score += keywordWeight * c.KeywordScore
			weightMass += keywordWeight
		}
		if weightMass > 0 {
			c.FusedScore = score / weightMass
		}
		results = append(results, *c)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		aBoth := a.InVector && a.InKeyword
		bBoth := b.InVector && b.InKeyword
		if aBoth != bBoth {
			return aBoth
		}
		return a.Document.Metadata.ChunkIndex < b.Document.Metadata.ChunkIndex
	})
	return results
}

// normalize rescales scores in place to [0,1] per channel. Uniform score
// lists map to 1.0 so a single-hit channel still contributes fully.
func normalize(hits []domain.RetrievalCandidate) {
	if len(hits) == 0 {
		return
	}
	minScore, maxScore := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < minScore {
			minScore = h.Score
		}
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	if maxScore == minScore {
		for i := range hits {
			hits[i].Score = 1.0
		}
		return
	}
	span := maxScore - minScore
	for i := range hits {
		hits[i].Score = (hits[i].Score - minScore) / span
	}
}
