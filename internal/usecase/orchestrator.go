package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ragkit/internal/adapter/retriever"
	"ragkit/internal/adapter/store"
	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// Stage names the phases a query passes through. The terminal stage is part
// of the query result so callers can tell a grounded answer from a degraded
// one.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageOptimizingQuery Stage = "optimizing_query"
	StageRetrieving      Stage = "retrieving"
	StageReranking       Stage = "reranking"
	StageAssembling      Stage = "assembling_context"
	StageDone            Stage = "done"
	StageNoContext       Stage = "no_context"
)

// RetrievalMode selects which first-pass index (or both) serves a collection.
type RetrievalMode string

const (
	ModeVector  RetrievalMode = "vector"
	ModeKeyword RetrievalMode = "keyword"
	ModeHybrid  RetrievalMode = "hybrid"
)

const groundedSystemPrompt = `You answer questions using only the provided reference context.
If the context does not contain the answer, say so instead of guessing.`

const ungroundedSystemPrompt = `You answer questions from general knowledge. No reference
documents were found for this question, so state clearly that your answer is
not based on the knowledge base.`

// EngineConfig carries the per-collection pipeline settings.
type EngineConfig struct {
	Mode           RetrievalMode
	TopK           int
	MinScore       float64
	QueryTimeout   time.Duration
	EnableOptimize bool
	EnableRerank   bool
}

// Deps is the shared wiring behind every collection engine.
type Deps struct {
	Store     *store.Store
	Ingest    *IngestUseCase
	Vector    *retriever.VectorRetriever
	Keyword   *retriever.KeywordRetriever
	Hybrid    *retriever.HybridRetriever
	Optimizer *retriever.QueryOptimizer
	Rerank    *retriever.RerankStage
	Assembler *Assembler
	LLM       port.LLM
	Sessions  *SessionStore
}

// Registry hands out one Engine per collection, creating them lazily with the
// default config. Per-collection settings changed through an engine survive
// for the registry's lifetime.
type Registry struct {
	mu       sync.Mutex
	deps     Deps
	defaults EngineConfig
	engines  map[string]*Engine
}

func NewRegistry(deps Deps, defaults EngineConfig) (*Registry, error) {
	if defaults.TopK <= 0 {
		defaults.TopK = 5
	}
	switch defaults.Mode {
	case ModeVector, ModeKeyword, ModeHybrid:
	case "":
		defaults.Mode = ModeHybrid
	default:
		return nil, domain.ConfigErrorf("unknown retrieval mode %q", defaults.Mode)
	}
	if defaults.QueryTimeout <= 0 {
		defaults.QueryTimeout = 2 * time.Minute
	}
	return &Registry{
		deps:     deps,
		defaults: defaults,
		engines:  make(map[string]*Engine),
	}, nil
}

// Engine returns the collection's engine, creating it on first use.
func (r *Registry) Engine(collection string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[collection]; ok {
		return e
	}
	e := &Engine{
		collection: collection,
		deps:       r.deps,
		config:     r.defaults,
	}
	r.engines[collection] = e
	return e
}

// Sessions exposes the shared conversation store.
func (r *Registry) Sessions() *SessionStore { return r.deps.Sessions }

// Collections lists every stored collection.
func (r *Registry) Collections() ([]domain.CollectionInfo, error) {
	return r.deps.Store.Collections()
}

// Engine runs the full retrieval pipeline for one collection.
type Engine struct {
	collection string
	deps       Deps

	mu     sync.Mutex
	config EngineConfig
}

// SetMode switches the collection's retrieval mode.
func (e *Engine) SetMode(mode RetrievalMode) error {
	switch mode {
	case ModeVector, ModeKeyword, ModeHybrid:
	default:
		return domain.ConfigErrorf("unknown retrieval mode %q", mode)
	}
	e.mu.Lock()
	e.config.Mode = mode
	e.mu.Unlock()
	return nil
}

func (e *Engine) snapshot() EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// AddDocuments ingests raw texts into the collection.
func (e *Engine) AddDocuments(ctx context.Context, texts []SourceText) (*IngestResult, error) {
	return e.deps.Ingest.AddTexts(ctx, e.collection, texts)
}

// AddFromSource ingests a file or directory tree into the collection.
func (e *Engine) AddFromSource(ctx context.Context, root string) (*IngestResult, error) {
	return e.deps.Ingest.AddFromSource(ctx, e.collection, root)
}

// ListDocuments pages through the collection's stored chunks.
func (e *Engine) ListDocuments(limit, offset int) ([]domain.Document, error) {
	return e.deps.Store.List(e.collection, limit, offset)
}

// GetDocument returns one chunk by id.
func (e *Engine) GetDocument(id string) (domain.Document, error) {
	return e.deps.Store.Get(e.collection, id)
}

// DeleteDocument removes one chunk by id.
func (e *Engine) DeleteDocument(id string) error {
	success, failed, err := e.deps.Store.Delete(e.collection, []string{id})
	if err != nil {
		return err
	}
	if success == 0 && len(failed) == 1 {
		return domain.NotFoundErrorf("document %q in collection %q", id, e.collection)
	}
	return nil
}

// DeleteDocuments removes a batch of chunks. Partial failure is reported as
// a PartialBatchError alongside the per-id accounting, never swallowed.
func (e *Engine) DeleteDocuments(ids []string) (int, []string, error) {
	success, failed, err := e.deps.Store.Delete(e.collection, ids)
	if err != nil {
		return success, failed, err
	}
	if len(failed) > 0 {
		return success, failed, &domain.PartialBatchError{SuccessCount: success, FailedIDs: failed}
	}
	return success, nil, nil
}

// Clear drops the whole collection.
func (e *Engine) Clear() error {
	return e.deps.Store.Clear(e.collection)
}

// Info describes the collection, including its active retrieval mode.
type Info struct {
	domain.CollectionInfo
	RetrievalMode RetrievalMode `json:"retrieval_mode"`
}

func (e *Engine) Info() (Info, error) {
	ci, err := e.deps.Store.Info(e.collection)
	if err != nil {
		return Info{}, err
	}
	return Info{CollectionInfo: ci, RetrievalMode: e.snapshot().Mode}, nil
}

// QueryOptions are the per-call knobs of Query.
type QueryOptions struct {
	SessionID  string
	TopK       int
	UseHistory bool
	Optimize   bool
	Stream     bool
}

// QueryResult is everything a query produced, including the degradation
// flags the caller needs to present the answer honestly.
type QueryResult struct {
	Answer  string
	Stream  <-chan string
	Context domain.AssembledContext
	Ranked  []domain.RankedCandidate

	FinalStage Stage
	// Grounded is false when no usable context backed the answer.
	Grounded bool
	// FallbackUsed is true when the primary reranker was unreachable and the
	// local fallback produced the scores.
	FallbackUsed bool
	// OptimizerDegraded is true when an enabled optimization stage failed and
	// its input was passed through unchanged.
	OptimizerDegraded bool
	Optimized         retriever.OptimizedQuery
}

// Query runs the stage pipeline for one question: optimize, retrieve,
// rerank, assemble, generate. Optimizer and reranker failures degrade in
// place; retrieval failures and empty candidate sets terminate in NoContext
// with an explicitly ungrounded answer.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) (*QueryResult, error) {
	if question == "" {
		return nil, domain.ConfigErrorf("question is empty")
	}
	cfg := e.snapshot()
	if opts.TopK <= 0 {
		opts.TopK = cfg.TopK
	}
	// The stage timeout must not outlive Query, but a returned stream does:
	// it runs under the caller's context, not the timed one.
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()

	result := &QueryResult{FinalStage: StageIdle}

	var history []domain.Turn
	if opts.UseHistory && opts.SessionID != "" {
		history = e.deps.Sessions.History(opts.SessionID)
	}

	// Optimize.
	queries := []string{question}
	if opts.Optimize && cfg.EnableOptimize && e.deps.Optimizer != nil {
		result.FinalStage = StageOptimizingQuery
		result.Optimized = e.deps.Optimizer.Optimize(ctx, question, history)
		result.OptimizerDegraded = result.Optimized.Degraded
		queries = result.Optimized.Subqueries
	}

	// Retrieve.
	result.FinalStage = StageRetrieving
	candidates, err := e.retrieve(ctx, queries, opts.TopK, cfg.Mode)
	if err != nil || len(candidates) == 0 {
		return e.answerUngrounded(ctx, parent, question, opts, result, err)
	}

	// Rerank.
	ranked := passthroughRank(candidates)
	if cfg.EnableRerank && e.deps.Rerank != nil {
		result.FinalStage = StageReranking
		reranked, fallbackUsed, rerr := e.deps.Rerank.Rerank(ctx, question, candidates)
		result.FallbackUsed = fallbackUsed
		if rerr == nil {
			ranked = reranked
		}
	}
	if cfg.MinScore > 0 {
		ranked = filterMinScore(ranked, cfg.MinScore)
		if len(ranked) == 0 {
			return e.answerUngrounded(ctx, parent, question, opts, result, nil)
		}
	}
	if len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}
	result.Ranked = ranked

	// Assemble.
	result.FinalStage = StageAssembling
	result.Context = e.deps.Assembler.Assemble(e.collection, ranked)
	if result.Context.Text == "" {
		return e.answerUngrounded(ctx, parent, question, opts, result, nil)
	}

	result.Grounded = true
	result.FinalStage = StageDone
	prompt := fmt.Sprintf("Reference context:\n%s\n\nQuestion: %s", result.Context.Text, question)
	return e.generate(ctx, parent, question, prompt, groundedSystemPrompt, opts, result)
}

// retrieve runs every sub-query through the collection's retrieval mode and
// merges the hits by document id, keeping each document's best fused score.
func (e *Engine) retrieve(ctx context.Context, queries []string, topK int, mode RetrievalMode) ([]domain.FusedCandidate, error) {
	merged := make(map[string]domain.FusedCandidate)
	var order []string

	for _, q := range queries {
		var (
			hits []domain.FusedCandidate
			err  error
		)
		switch mode {
		case ModeVector:
			raw, verr := e.deps.Vector.Search(ctx, e.collection, q, topK)
			hits, err = singleChannel(raw, true), verr
		case ModeKeyword:
			raw, kerr := e.deps.Keyword.Search(e.collection, q, topK)
			hits, err = singleChannel(raw, false), kerr
		default:
			hits, err = e.deps.Hybrid.Search(ctx, e.collection, q, topK)
		}
		if err != nil {
			return nil, fmt.Errorf("retrieve %q: %w", q, err)
		}
		for _, h := range hits {
			prev, seen := merged[h.Document.ID]
			if !seen {
				order = append(order, h.Document.ID)
				merged[h.Document.ID] = h
				continue
			}
			if h.FusedScore > prev.FusedScore {
				merged[h.Document.ID] = h
			}
		}
	}

	out := make([]domain.FusedCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})
	return out, nil
}

// answerUngrounded terminates the pipeline in NoContext and asks the model to
// answer without retrieval grounding. retrievalErr, when non-nil, is attached
// so the caller sees why the index produced nothing.
func (e *Engine) answerUngrounded(ctx, parent context.Context, question string, opts QueryOptions, result *QueryResult, retrievalErr error) (*QueryResult, error) {
	result.FinalStage = StageNoContext
	result.Grounded = false
	res, err := e.generate(ctx, parent, question, question, ungroundedSystemPrompt, opts, result)
	if err != nil {
		return nil, err
	}
	if retrievalErr != nil {
		return res, retrievalErr
	}
	return res, nil
}

// generate produces the final answer, records the session turns, and closes
// out the result. For streams the assistant turn is recorded after the
// stream drains. The stream itself is bound to parent: ctx carries the stage
// timeout and is cancelled when Query returns, which would kill the stream
// before the caller reads it.
func (e *Engine) generate(ctx, parent context.Context, question, prompt, system string, opts QueryOptions, result *QueryResult) (*QueryResult, error) {
	recordTurns := opts.SessionID != ""
	if recordTurns {
		e.deps.Sessions.Append(opts.SessionID, domain.RoleUser, question)
	}

	if opts.Stream {
		sctx, scancel := context.WithCancel(parent)
		stream, err := e.deps.LLM.ChatStream(sctx, []port.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		})
		if err != nil {
			scancel()
			return nil, fmt.Errorf("stream answer: %w", err)
		}
		tapped := make(chan string)
		go func() {
			defer scancel()
			defer close(tapped)
			var full []byte
			for token := range stream {
				full = append(full, token...)
				select {
				case tapped <- token:
				case <-sctx.Done():
					return
				}
			}
			if recordTurns {
				e.deps.Sessions.Append(opts.SessionID, domain.RoleAssistant, string(full))
			}
		}()
		result.Stream = tapped
		return result, nil
	}

	answer, err := e.deps.LLM.GenerateWithSystem(ctx, system, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	result.Answer = answer
	if recordTurns {
		e.deps.Sessions.Append(opts.SessionID, domain.RoleAssistant, answer)
	}
	return result, nil
}

// singleChannel lifts one channel's hits into fused form with the channel's
// normalized score carried through unweighted.
func singleChannel(hits []domain.RetrievalCandidate, vector bool) []domain.FusedCandidate {
	out := make([]domain.FusedCandidate, 0, len(hits))
	for _, h := range hits {
		fc := domain.FusedCandidate{Document: h.Document, FusedScore: h.Score}
		if vector {
			fc.VectorScore = h.Score
			fc.InVector = true
		} else {
			fc.KeywordScore = h.Score
			fc.InKeyword = true
		}
		out = append(out, fc)
	}
	return out
}

// passthroughRank keeps fusion order when reranking is disabled.
func passthroughRank(candidates []domain.FusedCandidate) []domain.RankedCandidate {
	out := make([]domain.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, domain.RankedCandidate{
			Document:    c.Document,
			RerankScore: c.FusedScore,
			FusedScore:  c.FusedScore,
		})
	}
	return out
}

func filterMinScore(ranked []domain.RankedCandidate, min float64) []domain.RankedCandidate {
	out := ranked[:0:0]
	for _, r := range ranked {
		if r.RerankScore >= min {
			out = append(out, r)
		}
	}
	return out
}
