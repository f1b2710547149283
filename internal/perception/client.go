// Package perception talks to the hosted LLM backends. It provides the
// tiered client set the convergence engine calls through, a scheduler
// that caps in-flight calls across concurrent analyses, and a process
// cost ledger.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"noema/internal/types"
)

// ErrTransient marks backend failures worth retrying: timeouts, rate
// limits, 5xx. The controller retries once at the same tier, then
// escalates.
var ErrTransient = errors.New("transient backend error")

// Completion is the raw output of one LLM call.
type Completion struct {
	Text  string
	Usage types.Usage
}

// LLMClient is the interface every backend client implements.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error)
	Model() string
}

// =============================================================================
// OPENAI-COMPATIBLE HTTP CLIENT
// =============================================================================

// HTTPClient implements LLMClient against any OpenAI-compatible
// chat-completions endpoint.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPClientConfig holds configuration for HTTPClient.
type HTTPClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewHTTPClient creates a client for an OpenAI-compatible endpoint.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt without a system message.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message and returns
// the completion plus token usage.
func (c *HTTPClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, fmt.Errorf("API key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Completion{}, err
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.1, // low temperature for structured output
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Completion{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return Completion{}, fmt.Errorf("%w: request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Completion{}, fmt.Errorf("%w: rate limit exceeded (429)", ErrTransient)
	case resp.StatusCode >= 500:
		return Completion{}, fmt.Errorf("%w: server error %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Completion{}, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Completion{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return Completion{}, fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("no completion returned")
	}

	return Completion{
		Text: strings.TrimSpace(parsed.Choices[0].Message.Content),
		Usage: types.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// Model returns the configured model name.
func (c *HTTPClient) Model() string {
	return c.model
}
