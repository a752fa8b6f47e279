package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"ragkit/internal/domain"
)

// RemoteEmbedder calls an OpenAI-compatible /embeddings endpoint. Requests
// are batched, retried with exponential backoff, and fail with
// domain.ErrProviderUnavailable once the retry budget is exhausted.
type RemoteEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	maxBatch   int
	maxRetries int
	client     *http.Client
}

// RemoteOptions configures a RemoteEmbedder.
type RemoteOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewRemoteEmbedder validates options and builds the client.
func NewRemoteEmbedder(opts RemoteOptions) (*RemoteEmbedder, error) {
	if opts.BaseURL == "" {
		return nil, domain.ConfigErrorf("remote embedder requires a base URL")
	}
	if opts.Model == "" {
		return nil, domain.ConfigErrorf("remote embedder requires a model name")
	}
	if opts.Dimension <= 0 {
		return nil, domain.ConfigErrorf("remote embedder requires a declared dimension")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &RemoteEmbedder{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    opts.BaseURL,
		dimension:  opts.Dimension,
		maxBatch:   opts.BatchSize,
		maxRetries: opts.MaxRetries,
		client:     &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Embed generates embeddings for the given texts, batching as needed.
func (e *RemoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.maxBatch {
		end := i + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (e *RemoteEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := sonic.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff between attempts: 1s, 2s, 4s, ...
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		embeddings, err := e.doRequest(ctx, body, len(texts))
		if err == nil {
			return embeddings, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: embeddings endpoint after %d attempts: %v",
		domain.ErrProviderUnavailable, e.maxRetries, lastErr)
}

func (e *RemoteEmbedder) doRequest(ctx context.Context, body []byte, n int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings endpoint error: %s", parsed.Error.Message)
	}

	embeddings := make([][]float32, n)
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < n {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("embeddings endpoint omitted vector for input %d", i)
		}
	}
	return embeddings, nil
}

// Dimension returns the declared vector dimension.
func (e *RemoteEmbedder) Dimension() int { return e.dimension }

// ModelName returns the remote model name.
func (e *RemoteEmbedder) ModelName() string { return e.model }
