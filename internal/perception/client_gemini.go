package perception

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"noema/internal/types"
)

// =============================================================================
// GOOGLE GENAI CLIENT
// =============================================================================

// GeminiClient implements LLMClient using the Google GenAI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// GeminiConfig holds configuration for GeminiClient.
type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
}

// NewGeminiClient creates a GenAI-backed client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Complete sends a prompt without a system instruction.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Completion{}, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.1)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Completion{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		if isRetryableGenAIError(err) {
			return Completion{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return Completion{}, fmt.Errorf("genai generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Completion{}, fmt.Errorf("no completion returned")
	}

	var usage types.Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return Completion{Text: text, Usage: usage}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// isRetryableGenAIError matches rate-limit and availability failures in
// the SDK's error strings.
func isRetryableGenAIError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"429", "RESOURCE_EXHAUSTED", "UNAVAILABLE", "503", "500"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
