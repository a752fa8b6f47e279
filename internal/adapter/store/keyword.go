package store

import (
	"fmt"

	"github.com/bytedance/sonic"
	"go.etcd.io/bbolt"

	"ragkit/internal/domain"
)

// Keyword postings live next to the documents they index: term -> posting
// list, plus a reverse doc -> terms map so deletions can clean up, plus the
// corpus stats BM25 needs.
var bucketDocTerms = []byte("docterms")

// Posting records one document's term frequency for a term.
type Posting struct {
	DocID string `json:"doc_id"`
	TF    int    `json:"tf"`
}

// docTermEntry is the reverse mapping value: the document's terms plus its
// token length for BM25 length normalization.
type docTermEntry struct {
	Terms  []string `json:"terms"`
	Length int      `json:"length"`
}

// UpdatePostings indexes a document's tokens incrementally: previous postings
// for the id (if any) are removed, then the new term frequencies are written
// and corpus stats adjusted. No full reindex is required.
func (s *Store) UpdatePostings(collection, docID string, tokens []string) error {
	norm := NormalizeName(collection)
	lock := s.writeLock(norm)
	lock.Lock()
	defer lock.Unlock()

	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		if err := removeDocPostings(cb, docID); err != nil {
			return err
		}
		return writeDocPostings(cb, docID, tf, len(tokens))
	})
	if err != nil {
		return fmt.Errorf("failed to index terms for %q: %w", docID, err)
	}
	return nil
}

// Postings returns the posting list for a term, empty when unseen.
func (s *Store) Postings(collection, term string) ([]Posting, error) {
	norm := NormalizeName(collection)
	var list []Posting
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		data := cb.Bucket(bucketPostings).Get([]byte(term))
		if data == nil {
			return nil
		}
		return sonic.Unmarshal(data, &list)
	})
	return list, err
}

// CorpusStats returns the keyword corpus statistics for the collection.
func (s *Store) CorpusStats(collection string) (domain.Stats, error) {
	norm := NormalizeName(collection)
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		data := cb.Bucket(bucketStats).Get(keyStats)
		if data == nil {
			return nil
		}
		return sonic.Unmarshal(data, &stats)
	})
	return stats, err
}

// RebuildPostings drops every posting of the collection and re-derives them
// from the stored document content. Used for consistency recovery.
func (s *Store) RebuildPostings(collection string, tokenize func(string) []string) error {
	norm := NormalizeName(collection)
	lock := s.writeLock(norm)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		for _, b := range [][]byte{bucketPostings, bucketDocTerms, bucketStats} {
			if err := cb.DeleteBucket(b); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := cb.CreateBucket(b); err != nil {
				return err
			}
		}
		return cb.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var stored storedDoc
			if err := sonic.Unmarshal(v, &stored); err != nil {
				return nil
			}
			tokens := tokenize(stored.Content)
			tf := make(map[string]int, len(tokens))
			for _, t := range tokens {
				tf[t]++
			}
			return writeDocPostings(cb, string(k), tf, len(tokens))
		})
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild keyword index for %q: %w", collection, err)
	}
	return nil
}

// writeDocPostings appends a document's term frequencies to the posting lists
// and records the reverse mapping and stats delta. Caller holds the writer
// lock and an open write transaction.
func writeDocPostings(cb *bbolt.Bucket, docID string, tf map[string]int, docLen int) error {
	postings := cb.Bucket(bucketPostings)
	for term, freq := range tf {
		var list []Posting
		if existing := postings.Get([]byte(term)); existing != nil {
			if err := sonic.Unmarshal(existing, &list); err != nil {
				return err
			}
		}
		list = append(list, Posting{DocID: docID, TF: freq})
		data, err := sonic.Marshal(list)
		if err != nil {
			return err
		}
		if err := postings.Put([]byte(term), data); err != nil {
			return err
		}
	}

	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	termData, err := sonic.Marshal(docTermEntry{Terms: terms, Length: docLen})
	if err != nil {
		return err
	}
	if err := cb.Bucket(bucketDocTerms).Put([]byte(docID), termData); err != nil {
		return err
	}

	return adjustStats(cb, 1, docLen)
}

// removeDocPostings removes a document from every posting list it appears in.
// A no-op when the document was never keyword-indexed.
func removeDocPostings(cb *bbolt.Bucket, docID string) error {
	docTerms := cb.Bucket(bucketDocTerms)
	data := docTerms.Get([]byte(docID))
	if data == nil {
		return nil
	}
	var entry docTermEntry
	if err := sonic.Unmarshal(data, &entry); err != nil {
		return err
	}

	postings := cb.Bucket(bucketPostings)
	for _, term := range entry.Terms {
		raw := postings.Get([]byte(term))
		if raw == nil {
			continue
		}
		var list []Posting
		if err := sonic.Unmarshal(raw, &list); err != nil {
			return err
		}
		kept := list[:0]
		for _, p := range list {
			if p.DocID == docID {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			if err := postings.Delete([]byte(term)); err != nil {
				return err
			}
			continue
		}
		updated, err := sonic.Marshal(kept)
		if err != nil {
			return err
		}
		if err := postings.Put([]byte(term), updated); err != nil {
			return err
		}
	}

	if err := docTerms.Delete([]byte(docID)); err != nil {
		return err
	}
	return adjustStats(cb, -1, -entry.Length)
}

// DocTokenLen returns a document's keyword-index token length.
func (s *Store) DocTokenLen(collection, docID string) (int, error) {
	norm := NormalizeName(collection)
	length := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		data := cb.Bucket(bucketDocTerms).Get([]byte(docID))
		if data == nil {
			return nil
		}
		var entry docTermEntry
		if err := sonic.Unmarshal(data, &entry); err != nil {
			return err
		}
		length = entry.Length
		return nil
	})
	return length, err
}

func adjustStats(cb *bbolt.Bucket, docDelta, tokenDelta int) error {
	statsBucket := cb.Bucket(bucketStats)
	var stats domain.Stats
	if data := statsBucket.Get(keyStats); data != nil {
		if err := sonic.Unmarshal(data, &stats); err != nil {
			return err
		}
	}
	stats.TotalDocs += docDelta
	stats.TotalTokens += tokenDelta
	if stats.TotalDocs < 0 {
		stats.TotalDocs = 0
	}
	if stats.TotalTokens < 0 {
		stats.TotalTokens = 0
	}
	if stats.TotalDocs > 0 {
		stats.AvgDocLen = float64(stats.TotalTokens) / float64(stats.TotalDocs)
	} else {
		stats.AvgDocLen = 0
	}
	data, err := sonic.Marshal(stats)
	if err != nil {
		return err
	}
	return statsBucket.Put(keyStats, data)
}
