package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.etcd.io/bbolt"

	"ragkit/internal/domain"
)

// Bucket layout: one top-level "collections" bucket maps the normalized
// collection name to its metadata; each collection owns a nested bucket under
// "data" with sub-buckets for documents, keyword postings and corpus stats.
var (
	bucketCollections = []byte("collections")
	bucketData        = []byte("data")
	bucketDocs        = []byte("docs")
	bucketPostings    = []byte("postings")
	bucketStats       = []byte("stats")
	keyStats          = []byte("corpus_stats")
)

// Store is a durable multi-collection document store on a single bbolt file.
// Writers are serialized per collection; searches read an in-memory vector
// snapshot guarded by an RWMutex, so a search never observes a half-applied
// write and an upsert is visible to the next search in the same process.
type Store struct {
	db *bbolt.DB

	mu     sync.Mutex // guards the maps below
	locks  map[string]*sync.Mutex
	caches map[string]*vectorCache
}

type collectionMeta struct {
	OriginalName string `json:"original_name"`
	Dimension    int    `json:"dimension"`
}

type storedDoc struct {
	Content   string          `json:"content"`
	Embedding []float32       `json:"embedding"`
	Metadata  domain.Metadata `json:"metadata"`
}

// vectorCache keeps a collection's vectors in memory for brute-force search.
// gen counts writes so a lazy load that raced a commit can tell its snapshot
// is stale and retry instead of installing it.
type vectorCache struct {
	mu      sync.RWMutex
	loaded  bool
	gen     uint64
	vectors map[string][]float32
}

// Open opens (or creates) the store file.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCollections); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketData)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create root buckets: %w", err)
	}
	s := &Store{
		db:     db,
		locks:  make(map[string]*sync.Mutex),
		caches: make(map[string]*vectorCache),
	}
	if err := s.backfillOriginalNames(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// NormalizeName maps a human-chosen collection name to a storage-safe
// identifier: lowercased safe characters plus an 8-hex digest suffix so
// distinct originals never collide. Names with no safe characters at all get
// the "kb" prefix. The original name is persisted in collection metadata.
func NormalizeName(original string) string {
	prefix := unsafeNameChars.ReplaceAllString(strings.ToLower(original), "")
	prefix = strings.Trim(prefix, "_-")
	if prefix == "" {
		prefix = "kb"
	}
	sum := sha256.Sum256([]byte(original))
	return prefix + "_" + hex.EncodeToString(sum[:4])
}

// backfillOriginalNames restores a usable original name for collections
// written before name metadata existed, guessing from the normalized prefix.
func (s *Store) backfillOriginalNames() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		return b.ForEach(func(k, v []byte) error {
			var meta collectionMeta
			if err := sonic.Unmarshal(v, &meta); err != nil {
				return nil // skip corrupted entries
			}
			if meta.OriginalName != "" {
				return nil
			}
			name := string(k)
			if i := strings.LastIndex(name, "_"); i > 0 {
				meta.OriginalName = name[:i]
			} else {
				meta.OriginalName = name
			}
			data, err := sonic.Marshal(meta)
			if err != nil {
				return err
			}
			return b.Put(k, data)
		})
	})
}

// writeLock returns the single-writer mutex for a collection.
func (s *Store) writeLock(norm string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[norm]
	if !ok {
		l = &sync.Mutex{}
		s.locks[norm] = l
	}
	return l
}

func (s *Store) cache(norm string) *vectorCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[norm]
	if !ok {
		c = &vectorCache{vectors: make(map[string][]float32)}
		s.caches[norm] = c
	}
	return c
}

// ensureCollection creates the collection's buckets and metadata on first
// write. Collections are created lazily, never by reads.
func ensureCollection(tx *bbolt.Tx, norm, original string, dimension int) (*bbolt.Bucket, error) {
	colls := tx.Bucket(bucketCollections)
	if colls.Get([]byte(norm)) == nil {
		meta := collectionMeta{OriginalName: original, Dimension: dimension}
		data, err := sonic.Marshal(meta)
		if err != nil {
			return nil, err
		}
		if err := colls.Put([]byte(norm), data); err != nil {
			return nil, err
		}
	}
	cb, err := tx.Bucket(bucketData).CreateBucketIfNotExists([]byte(norm))
	if err != nil {
		return nil, err
	}
	for _, sub := range [][]byte{bucketDocs, bucketPostings, bucketStats, bucketDocTerms} {
		if _, err := cb.CreateBucketIfNotExists(sub); err != nil {
			return nil, err
		}
	}
	return cb, nil
}

// collectionBucket returns the collection's bucket, or ErrNotFound.
func collectionBucket(tx *bbolt.Tx, norm string) (*bbolt.Bucket, error) {
	cb := tx.Bucket(bucketData).Bucket([]byte(norm))
	if cb == nil {
		return nil, domain.NotFoundErrorf("collection %q", norm)
	}
	return cb, nil
}

// Upsert writes documents (content, metadata and embedding) into the
// collection, creating it on first write. Existing ids are overwritten.
func (s *Store) Upsert(collection string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	norm := NormalizeName(collection)
	lock := s.writeLock(norm)
	lock.Lock()
	defer lock.Unlock()

	dim := 0
	if len(docs[0].Embedding) > 0 {
		dim = len(docs[0].Embedding)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		cb, err := ensureCollection(tx, norm, collection, dim)
		if err != nil {
			return err
		}
		docBucket := cb.Bucket(bucketDocs)
		for _, doc := range docs {
			data, err := sonic.Marshal(storedDoc{
				Content:   doc.Content,
				Embedding: doc.Embedding,
				Metadata:  doc.Metadata,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
			}
			if err := docBucket.Put([]byte(doc.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert into %q: %w", collection, err)
	}

	// Refresh the search snapshot so the write is immediately visible.
	c := s.cache(norm)
	c.mu.Lock()
	c.gen++
	if c.loaded {
		for _, doc := range docs {
			c.vectors[doc.ID] = doc.Embedding
		}
	}
	c.mu.Unlock()
	return nil
}

// Get returns one document by id.
func (s *Store) Get(collection, id string) (domain.Document, error) {
	norm := NormalizeName(collection)
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		data := cb.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return domain.NotFoundErrorf("document %q in collection %q", id, collection)
		}
		var stored storedDoc
		if err := sonic.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		doc = domain.Document{ID: id, Content: stored.Content, Embedding: stored.Embedding, Metadata: stored.Metadata}
		return nil
	})
	return doc, err
}

// List returns documents ordered by id with limit/offset paging. A limit of
// zero means no limit.
func (s *Store) List(collection string, limit, offset int) ([]domain.Document, error) {
	norm := NormalizeName(collection)
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		skipped := 0
		cur := cb.Bucket(bucketDocs).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(docs) >= limit {
				break
			}
			var stored storedDoc
			if err := sonic.Unmarshal(v, &stored); err != nil {
				continue
			}
			docs = append(docs, domain.Document{
				ID: string(k), Content: stored.Content, Embedding: stored.Embedding, Metadata: stored.Metadata,
			})
		}
		return nil
	})
	return docs, err
}

// ListBySource returns all documents of the collection that came from the
// given source, ordered by chunk index. Used for neighbor expansion.
func (s *Store) ListBySource(collection, source string) ([]domain.Document, error) {
	docs, err := s.List(collection, 0, 0)
	if err != nil {
		return nil, err
	}
	var matched []domain.Document
	for _, d := range docs {
		if d.Metadata.Source == source {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Metadata.ChunkIndex < matched[j].Metadata.ChunkIndex
	})
	return matched, nil
}

// Delete removes ids from the collection. Deletion is atomic per id: each
// id that does not exist is reported in failedIDs while the others are still
// removed. success+len(failed) always equals len(ids).
func (s *Store) Delete(collection string, ids []string) (success int, failedIDs []string, err error) {
	norm := NormalizeName(collection)
	lock := s.writeLock(norm)
	lock.Lock()
	defer lock.Unlock()

	var removed []string
	err = s.db.Update(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		docBucket := cb.Bucket(bucketDocs)
		for _, id := range ids {
			if docBucket.Get([]byte(id)) == nil {
				failedIDs = append(failedIDs, id)
				continue
			}
			if err := docBucket.Delete([]byte(id)); err != nil {
				failedIDs = append(failedIDs, id)
				continue
			}
			if err := removeDocPostings(cb, id); err != nil {
				return err
			}
			removed = append(removed, id)
			success++
		}
		return nil
	})
	if err != nil {
		return 0, ids, err
	}

	c := s.cache(norm)
	c.mu.Lock()
	c.gen++
	for _, id := range removed {
		delete(c.vectors, id)
	}
	c.mu.Unlock()
	return success, failedIDs, nil
}

// Clear drops the collection's on-disk state entirely, including its keyword
// postings and name mapping.
func (s *Store) Clear(collection string) error {
	norm := NormalizeName(collection)
	lock := s.writeLock(norm)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketData).Bucket([]byte(norm)) == nil {
			return domain.NotFoundErrorf("collection %q", collection)
		}
		if err := tx.Bucket(bucketData).DeleteBucket([]byte(norm)); err != nil {
			return err
		}
		return tx.Bucket(bucketCollections).Delete([]byte(norm))
	})
	if err != nil {
		return fmt.Errorf("failed to clear collection %q: %w", collection, err)
	}

	s.mu.Lock()
	delete(s.caches, norm)
	s.mu.Unlock()
	return nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(collection string) (int, error) {
	norm := NormalizeName(collection)
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		cb, err := collectionBucket(tx, norm)
		if err != nil {
			return err
		}
		count = cb.Bucket(bucketDocs).Stats().KeyN
		return nil
	})
	return count, err
}

// Collections lists every stored collection with its recoverable original
// name and document count.
func (s *Store) Collections() ([]domain.CollectionInfo, error) {
	var infos []domain.CollectionInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var meta collectionMeta
			if err := sonic.Unmarshal(v, &meta); err != nil {
				return nil
			}
			info := domain.CollectionInfo{
				Name:         string(k),
				OriginalName: meta.OriginalName,
				Dimension:    meta.Dimension,
			}
			if cb := tx.Bucket(bucketData).Bucket(k); cb != nil {
				if docs := cb.Bucket(bucketDocs); docs != nil {
					info.DocumentCount = docs.Stats().KeyN
				}
			}
			infos = append(infos, info)
			return nil
		})
	})
	return infos, err
}

// Info returns metadata for one collection addressed by its original name.
func (s *Store) Info(collection string) (domain.CollectionInfo, error) {
	norm := NormalizeName(collection)
	var info domain.CollectionInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCollections).Get([]byte(norm))
		if data == nil {
			return domain.NotFoundErrorf("collection %q", collection)
		}
		var meta collectionMeta
		if err := sonic.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("failed to decode collection metadata: %w", err)
		}
		info = domain.CollectionInfo{Name: norm, OriginalName: meta.OriginalName, Dimension: meta.Dimension}
		if cb := tx.Bucket(bucketData).Bucket([]byte(norm)); cb != nil {
			info.DocumentCount = cb.Bucket(bucketDocs).Stats().KeyN
		}
		return nil
	})
	return info, err
}
