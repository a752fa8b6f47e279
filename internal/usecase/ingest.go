package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"ragkit/internal/adapter/fs"
	"ragkit/internal/adapter/retriever"
	"ragkit/internal/adapter/store"
	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// IngestUseCase turns raw text into embedded, keyword-indexed documents.
type IngestUseCase struct {
	store     *store.Store
	chunker   port.Chunker
	embedder  port.Embedder
	keyword   *retriever.KeywordRetriever
	walker    *fs.Walker
	batchSize int
	workers   int
}

func NewIngestUseCase(
	st *store.Store,
	ch port.Chunker,
	embedder port.Embedder,
	keyword *retriever.KeywordRetriever,
	walker *fs.Walker,
) *IngestUseCase {
	return &IngestUseCase{
		store:     st,
		chunker:   ch,
		embedder:  embedder,
		keyword:   keyword,
		walker:    walker,
		batchSize: 32,
		workers:   4,
	}
}

// SourceText is one logical input document before chunking.
type SourceText struct {
	Source  string
	Content string
	Extra   map[string]string
}

// IngestResult reports what an ingestion run produced.
type IngestResult struct {
	SourcesRead   int
	ChunksCreated int
	Errors        []string
}

// chunkID derives a stable document id from the source and chunk position,
// so re-ingesting the same source overwrites rather than duplicates.
func chunkID(source string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return hex.EncodeToString(sum[:16])
}

// AddTexts chunks, embeds, and indexes the given texts into a collection.
// A failing source is recorded and skipped; embedding or storage failures
// abort the run.
func (u *IngestUseCase) AddTexts(ctx context.Context, collection string, texts []SourceText) (*IngestResult, error) {
	if collection == "" {
		return nil, domain.ConfigErrorf("collection name is required")
	}

	result := &IngestResult{}
	var docs []domain.Document
	for _, t := range texts {
		if t.Content == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: empty content", t.Source))
			continue
		}
		chunks, err := u.chunker.Chunk(t.Content)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", t.Source, err)
		}
		result.SourcesRead++
		for i, chunk := range chunks {
			docs = append(docs, domain.Document{
				ID:      chunkID(t.Source, i),
				Content: chunk,
				Metadata: domain.Metadata{
					Source:      t.Source,
					ChunkIndex:  i,
					TotalChunks: len(chunks),
					Extra:       t.Extra,
				},
			})
		}
	}
	if len(docs) == 0 {
		return result, nil
	}

	if err := u.embedAll(ctx, docs); err != nil {
		return nil, err
	}

	if err := u.store.Upsert(collection, docs); err != nil {
		return nil, fmt.Errorf("store documents: %w", err)
	}
	if err := u.keyword.Add(collection, docs); err != nil {
		return nil, fmt.Errorf("index keywords: %w", err)
	}

	result.ChunksCreated = len(docs)
	return result, nil
}

// AddFromSource walks a file or directory, loads every matching text file,
// and ingests it with the root-relative path as the source. Unreadable files
// are reported in the result, not fatal.
func (u *IngestUseCase) AddFromSource(ctx context.Context, collection, root string) (*IngestResult, error) {
	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	var texts []SourceText
	var readErrors []string
	for _, file := range files {
		content, err := fs.ReadText(file)
		if err != nil {
			readErrors = append(readErrors, err.Error())
			continue
		}
		texts = append(texts, SourceText{Source: file.Source, Content: content})
	}

	result, err := u.AddTexts(ctx, collection, texts)
	if err != nil {
		return nil, err
	}
	result.Errors = append(readErrors, result.Errors...)
	return result, nil
}

// embedAll fills in document embeddings, batching requests and running up to
// u.workers batches concurrently.
func (u *IngestUseCase) embedAll(ctx context.Context, docs []domain.Document) error {
	type batch struct {
		start, end int
	}
	var batches []batch
	for start := 0; start < len(docs); start += u.batchSize {
		end := start + u.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, batch{start, end})
	}

	sem := make(chan struct{}, u.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, b := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(b batch) {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed || ctx.Err() != nil {
				return
			}

			texts := make([]string, 0, b.end-b.start)
			for _, doc := range docs[b.start:b.end] {
				texts = append(texts, doc.Content)
			}
			vectors, err := u.embedder.Embed(ctx, texts)
			if err == nil && len(vectors) != len(texts) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			for i := range vectors {
				docs[b.start+i].Embedding = vectors[i]
			}
		}(b)
	}
	wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("embed documents: %w", firstErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
