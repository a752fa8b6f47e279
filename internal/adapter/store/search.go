package store

import (
	"math"
	"sort"

	"github.com/bytedance/sonic"
	"go.etcd.io/bbolt"
)

// VectorHit is one similarity-search result.
type VectorHit struct {
	DocID string
	Score float64
}

// Search runs brute-force cosine similarity over the collection's vectors.
// Vectors are served from an in-memory snapshot loaded lazily from disk, so
// concurrent searches proceed without touching the write path.
func (s *Store) Search(collection string, query []float32, k int) ([]VectorHit, error) {
	norm := NormalizeName(collection)
	c := s.cache(norm)

	c.mu.RLock()
	if !c.loaded {
		c.mu.RUnlock()
		if err := s.loadVectors(norm, c); err != nil {
			return nil, err
		}
		c.mu.RLock()
	}
	defer c.mu.RUnlock()

	hits := make([]VectorHit, 0, len(c.vectors))
	for id, vec := range c.vectors {
		if len(vec) == 0 {
			continue
		}
		hits = append(hits, VectorHit{DocID: id, Score: cosine(query, vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].DocID < hits[j].DocID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// loadVectors fills the snapshot from disk. A snapshot taken while a write
// committed would hide that write from every later search, so the load is
// only installed when the cache generation is unchanged; otherwise it retries
// against the post-write state.
func (s *Store) loadVectors(norm string, c *vectorCache) error {
	for {
		c.mu.RLock()
		loaded, gen := c.loaded, c.gen
		c.mu.RUnlock()
		if loaded {
			return nil
		}

		vectors := make(map[string][]float32)
		err := s.db.View(func(tx *bbolt.Tx) error {
			cb, err := collectionBucket(tx, norm)
			if err != nil {
				return err
			}
			return cb.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
				var stored storedDoc
				if err := sonic.Unmarshal(v, &stored); err != nil {
					return nil
				}
				vectors[string(k)] = stored.Embedding
				return nil
			})
		})
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.loaded {
			c.mu.Unlock()
			return nil
		}
		if c.gen == gen {
			c.vectors = vectors
			c.loaded = true
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
	}
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
