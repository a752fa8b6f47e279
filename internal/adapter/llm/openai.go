// Package llm provides chat model clients for the OpenAI-compatible API
// surface exposed by most hosted and self-hosted inference services.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"ragkit/internal/domain"
	"ragkit/internal/port"
)

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	client      *http.Client
	// streamClient has no overall timeout; a long generation would otherwise
	// be cut off mid-stream. Cancellation comes from the request context.
	streamClient *http.Client
}

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, domain.ConfigErrorf("llm base URL is required")
	}
	if opts.Model == "" {
		return nil, domain.ConfigErrorf("llm model is required")
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.3
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		model:        opts.Model,
		temperature:  opts.Temperature,
		maxTokens:    opts.MaxTokens,
		maxRetries:   opts.MaxRetries,
		client:       &http.Client{Timeout: opts.Timeout},
		streamClient: &http.Client{},
	}, nil
}

func (c *Client) ModelName() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []port.Message{{Role: "user", Content: prompt}})
}

func (c *Client) GenerateWithSystem(ctx context.Context, system, prompt string) (string, error) {
	return c.Chat(ctx, []port.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	})
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []port.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Stream      bool           `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Chat sends the full message list and returns the assistant's reply.
// Transient failures are retried with exponential backoff; exhaustion maps to
// ErrProviderUnavailable.
func (c *Client) Chat(ctx context.Context, messages []port.Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		reply, err := c.doChat(ctx, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}
	}
	return "", fmt.Errorf("%w: chat endpoint after %d attempts: %v", domain.ErrProviderUnavailable, c.maxRetries, lastErr)
}

func (c *Client) doChat(ctx context.Context, messages []port.Message) (string, error) {
	resp, err := c.post(ctx, chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat endpoint returned status %d: %s", resp.StatusCode, truncate(data))
	}

	var parsed chatResponse
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response contains no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatStream opens a server-sent-events completion stream and emits content
// deltas on the returned channel. The channel closes when the stream ends or
// the context is cancelled. Streams are not retried: a mid-stream failure
// would replay already-delivered tokens.
func (c *Client) ChatStream(ctx context.Context, messages []port.Message) (<-chan string, error) {
	resp, err := c.postWith(ctx, c.streamClient, chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open chat stream: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: chat stream returned status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, truncate(data))
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				if payload == "[DONE]" {
					return
				}
				continue
			}
			var chunk chatStreamChunk
			if err := sonic.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	return c.postWith(ctx, c.client, body)
}

func (c *Client) postWith(ctx context.Context, client *http.Client, body chatRequest) (*http.Response, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return client.Do(req)
}

func truncate(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
