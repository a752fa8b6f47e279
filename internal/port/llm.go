package port

import "context"

// Message is one chat turn sent to a generation model.
type Message struct {
	Role    string
	Content string
}

// LLM represents a language model used for generation and query transforms.
type LLM interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateWithSystem produces a completion with a system prompt.
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Chat produces a completion for a full message history.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream produces an incremental token stream for a message history.
	// The channel is closed when generation finishes or ctx is cancelled.
	ChatStream(ctx context.Context, messages []Message) (<-chan string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// Reranker jointly scores (query, candidate) pairs for relevance.
type Reranker interface {
	// Rerank scores the candidate texts against the query. Results keep the
	// original input index so callers can map scores back to documents.
	Rerank(ctx context.Context, query string, texts []string) ([]RerankedResult, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}

// RerankedResult is one scored candidate.
type RerankedResult struct {
	Index int     // original index in the input slice
	Score float64 // relevance score, higher is better
}
