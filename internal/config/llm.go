package config

import (
	"fmt"
	"time"

	"noema/internal/types"
)

// TierConfig describes one backend tier: which provider and model to
// call, how long to wait, and what a token costs there.
type TierConfig struct {
	Provider string `yaml:"provider"` // openai-compatible | gemini
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`

	// Timeout for a single pass at this tier.
	Timeout time.Duration `yaml:"timeout"`

	// Unit costs in USD per 1K tokens, used by the result aggregator
	// for the estimated spend report.
	PromptCostPer1K     float64 `yaml:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `yaml:"completion_cost_per_1k"`
}

// LLMConfig configures the tiered LLM backends.
type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key,omitempty"`

	Baseline TierConfig `yaml:"baseline"`
	Mid      TierConfig `yaml:"mid"`
	Top      TierConfig `yaml:"top"`

	// MaxInFlight caps concurrent LLM calls across all events, to
	// respect provider rate limits. One analysis holds at most one
	// slot at a time.
	MaxInFlight int `yaml:"max_in_flight"`

	// RequestsPerSecond is the client-side rate limit per backend.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultLLMConfig returns the default three-tier ladder. Cheap and
// fast at the bottom, expensive and careful at the top.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Baseline: TierConfig{
			Provider:            "gemini",
			Model:               "gemini-2.5-flash-lite",
			Timeout:             10 * time.Second,
			PromptCostPer1K:     0.0001,
			CompletionCostPer1K: 0.0004,
		},
		Mid: TierConfig{
			Provider:            "gemini",
			Model:               "gemini-2.5-flash",
			Timeout:             20 * time.Second,
			PromptCostPer1K:     0.0003,
			CompletionCostPer1K: 0.0025,
		},
		Top: TierConfig{
			Provider:            "gemini",
			Model:               "gemini-2.5-pro",
			Timeout:             30 * time.Second,
			PromptCostPer1K:     0.00125,
			CompletionCostPer1K: 0.01,
		},
		MaxInFlight:       4,
		RequestsPerSecond: 2,
	}
}

// ForTier returns the configuration for the given tier.
func (c LLMConfig) ForTier(tier types.Tier) TierConfig {
	switch tier {
	case types.TierMid:
		return c.Mid
	case types.TierTop:
		return c.Top
	default:
		return c.Baseline
	}
}

// Validate checks the tier ladder is usable.
func (c LLMConfig) Validate() error {
	for _, tc := range []struct {
		name string
		cfg  TierConfig
	}{{"baseline", c.Baseline}, {"mid", c.Mid}, {"top", c.Top}} {
		if tc.cfg.Model == "" {
			return fmt.Errorf("llm: tier %s has no model configured", tc.name)
		}
		if tc.cfg.Timeout <= 0 {
			return fmt.Errorf("llm: tier %s has no timeout", tc.name)
		}
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("llm: max_in_flight must be positive")
	}
	return nil
}
