package retriever

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// RerankStage reorders fused candidates with a primary reranker, falling back
// to a deterministic local reranker when the primary is unavailable. The
// returned flag reports whether the fallback was used.
type RerankStage struct {
	primary  port.Reranker
	fallback port.Reranker
}

func NewRerankStage(primary, fallback port.Reranker) *RerankStage {
	return &RerankStage{primary: primary, fallback: fallback}
}

// Rerank scores every candidate against the query and returns them in
// descending rerank-score order, ties broken by the original fused score.
func (s *RerankStage) Rerank(ctx context.Context, query string, candidates []domain.FusedCandidate) ([]domain.RankedCandidate, bool, error) {
	if len(candidates) == 0 {
		return nil, false, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Document.Content
	}

	fallbackUsed := false
	scores, err := s.primary.Rerank(ctx, query, texts)
	if err != nil {
		if s.fallback == nil {
			return nil, false, err
		}
		fallbackUsed = true
		scores, err = s.fallback.Rerank(ctx, query, texts)
		if err != nil {
			return nil, true, err
		}
	}

	ranked := make([]domain.RankedCandidate, 0, len(candidates))
	for _, r := range scores {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fallbackUsed, fmt.Errorf("reranker returned index %d outside candidate range", r.Index)
		}
		c := candidates[r.Index]
		ranked = append(ranked, domain.RankedCandidate{
			Document:    c.Document,
			RerankScore: r.Score,
			FusedScore:  c.FusedScore,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return ranked[i].FusedScore > ranked[j].FusedScore
	})
	return ranked, fallbackUsed, nil
}

// RemoteReranker calls a cross-encoder rerank endpoint compatible with the
// common /rerank API shape.
type RemoteReranker struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	client     *http.Client
}

type RemoteRerankerOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

func NewRemoteReranker(opts RemoteRerankerOptions) (*RemoteReranker, error) {
	if opts.BaseURL == "" {
		return nil, domain.ConfigErrorf("reranker base URL is required")
	}
	if opts.Model == "" {
		return nil, domain.ConfigErrorf("reranker model is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &RemoteReranker{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxRetries: opts.MaxRetries,
		client:     &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (r *RemoteReranker) ModelName() string { return r.model }

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *RemoteReranker) Rerank(ctx context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		results, err := r.doRequest(ctx, query, texts)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if attempt < r.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("%w: rerank endpoint after %d attempts: %v", domain.ErrProviderUnavailable, r.maxRetries, lastErr)
}

func (r *RemoteReranker) doRequest(ctx context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	body, err := sonic.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      len(texts),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint returned status %d: %s", resp.StatusCode, truncateBody(data))
	}

	var parsed rerankResponse
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("rerank response contains no results")
	}

	out := make([]port.RerankedResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		out = append(out, port.RerankedResult{Index: res.Index, Score: res.RelevanceScore})
	}
	return out, nil
}

func truncateBody(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// LexicalReranker scores each text by token overlap with the query. It is the
// deterministic fallback when no cross-encoder is reachable: cheap, offline,
// and stable across runs.
type LexicalReranker struct {
	tokenizer port.Tokenizer
}

func NewLexicalReranker(tokenizer port.Tokenizer) *LexicalReranker {
	return &LexicalReranker{tokenizer: tokenizer}
}

func (r *LexicalReranker) ModelName() string { return "lexical-overlap" }

func (r *LexicalReranker) Rerank(_ context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	queryTerms := make(map[string]struct{})
	for _, t := range r.tokenizer.Tokenize(query) {
		queryTerms[t] = struct{}{}
	}

	out := make([]port.RerankedResult, 0, len(texts))
	for i, text := range texts {
		out = append(out, port.RerankedResult{Index: i, Score: r.overlap(queryTerms, text)})
	}
	return out, nil
}

// overlap is the fraction of distinct query terms that occur in the text,
// with a mild length penalty so a wall of text matching one term does not tie
// a focused paragraph matching the same term.
func (r *LexicalReranker) overlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	terms := r.tokenizer.Tokenize(text)
	seen := make(map[string]struct{}, len(terms))
	matched := 0
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTerms[t]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTerms))
	if len(terms) > 0 {
		score *= 1 / (1 + 0.001*float64(len(terms)))
	}
	return score
}
