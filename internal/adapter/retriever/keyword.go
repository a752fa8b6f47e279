package retriever

import (
	"math"
	"sort"

	"ragkit/internal/adapter/store"
	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// KeywordRetriever scores documents with BM25 over the persisted posting
// lists. Documents are added incrementally at ingestion time; Rebuild
// re-derives the whole index from stored content.
type KeywordRetriever struct {
	store     *store.Store
	tokenizer port.Tokenizer
	k1        float64
	b         float64
}

// NewKeywordRetriever creates a BM25 retriever with the standard parameters
// (k1 controls term-frequency saturation, b length normalization).
func NewKeywordRetriever(st *store.Store, tokenizer port.Tokenizer, k1, b float64) *KeywordRetriever {
	if k1 <= 0 {
		k1 = 1.5
	}
	if b < 0 || b > 1 {
		b = 0.75
	}
	return &KeywordRetriever{store: st, tokenizer: tokenizer, k1: k1, b: b}
}

// Add indexes documents incrementally without a full reindex.
func (r *KeywordRetriever) Add(collection string, docs []domain.Document) error {
	for _, doc := range docs {
		if err := r.store.UpdatePostings(collection, doc.ID, r.tokenizer.Tokenize(doc.Content)); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild reconstructs the keyword index from the stored corpus.
func (r *KeywordRetriever) Rebuild(collection string) error {
	return r.store.RebuildPostings(collection, r.tokenizer.Tokenize)
}

// Search returns up to k candidates ranked by BM25 relevance. Score grows
// with term overlap weighted by rarity and shrinks with document length.
func (r *KeywordRetriever) Search(collection, query string, k int) ([]domain.RetrievalCandidate, error) {
	queryTerms := r.tokenizer.Tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	stats, err := r.store.CorpusStats(collection)
	if err != nil {
		return nil, err
	}
	if stats.TotalDocs == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	docLens := make(map[string]int)
	for _, term := range queryTerms {
		postings, err := r.store.Postings(collection, term)
		if err != nil {
			return nil, err
		}
		if len(postings) == 0 {
			continue
		}

		n := float64(len(postings))
		N := float64(stats.TotalDocs)
		idf := math.Log((N-n+0.5)/(n+0.5) + 1)

		for _, p := range postings {
			dl, ok := docLens[p.DocID]
			if !ok {
				dl, err = r.store.DocTokenLen(collection, p.DocID)
				if err != nil || dl == 0 {
					dl = int(math.Max(stats.AvgDocLen, 1))
				}
				docLens[p.DocID] = dl
			}
			tf := float64(p.TF)
			norm := r.k1 * (1 - r.b + r.b*float64(dl)/math.Max(stats.AvgDocLen, 1))
			scores[p.DocID] += idf * (tf * (r.k1 + 1)) / (tf + norm)
		}
	}

	ranked := make([]domain.RetrievalCandidate, 0, len(scores))
	for id, score := range scores {
		doc, err := r.store.Get(collection, id)
		if err != nil {
			continue
		}
		ranked = append(ranked, domain.RetrievalCandidate{
			Document: doc,
			Score:    score,
			Channel:  domain.ChannelKeyword,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].Document.ID < ranked[j].Document.ID
		}
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}
