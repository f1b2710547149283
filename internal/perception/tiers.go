package perception

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"noema/internal/config"
	"noema/internal/types"
)

// =============================================================================
// TIER SET
// =============================================================================

// TierSet holds one client per backend tier and knows each tier's
// timeout and unit costs. It is the engine's single entry point for
// LLM calls: Call applies the per-tier timeout and prices the usage.
type TierSet struct {
	clients map[types.Tier]LLMClient
	cfg     config.LLMConfig
	logger  *zap.Logger
}

// NewTierSet builds clients for all three tiers from configuration.
func NewTierSet(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*TierSet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clients := make(map[types.Tier]LLMClient, 3)
	for _, tier := range []types.Tier{types.TierBaseline, types.TierMid, types.TierTop} {
		client, err := newTierClient(ctx, cfg, cfg.ForTier(tier))
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
		clients[tier] = client
	}

	return &TierSet{clients: clients, cfg: cfg, logger: logger}, nil
}

// NewTierSetWithClients wires pre-built clients, used by tests and by
// callers that need custom backends per tier.
func NewTierSetWithClients(clients map[types.Tier]LLMClient, cfg config.LLMConfig, logger *zap.Logger) *TierSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierSet{clients: clients, cfg: cfg, logger: logger}
}

func newTierClient(ctx context.Context, llm config.LLMConfig, tc config.TierConfig) (LLMClient, error) {
	switch tc.Provider {
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:            firstNonEmpty(llm.GeminiAPIKey, llm.APIKey),
			Model:             tc.Model,
			RequestsPerSecond: llm.RequestsPerSecond,
		})
	case "openai-compatible", "":
		return NewHTTPClient(HTTPClientConfig{
			APIKey:            llm.APIKey,
			BaseURL:           tc.BaseURL,
			Model:             tc.Model,
			Timeout:           tc.Timeout,
			RequestsPerSecond: llm.RequestsPerSecond,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", tc.Provider)
	}
}

// Call runs one completion at the given tier under that tier's timeout,
// and fills in the estimated cost on the returned usage.
func (s *TierSet) Call(ctx context.Context, tier types.Tier, systemPrompt, userPrompt string) (Completion, error) {
	client, ok := s.clients[tier]
	if !ok {
		return Completion{}, fmt.Errorf("no client for tier %s", tier)
	}

	tc := s.cfg.ForTier(tier)
	callCtx, cancel := context.WithTimeout(ctx, tc.Timeout)
	defer cancel()

	start := time.Now()
	comp, err := client.CompleteWithSystem(callCtx, systemPrompt, userPrompt)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Warn("llm call failed",
			zap.String("tier", string(tier)),
			zap.String("model", client.Model()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return Completion{}, err
	}

	comp.Usage.CostUSD = tierCost(tc, comp.Usage)
	s.logger.Debug("llm call completed",
		zap.String("tier", string(tier)),
		zap.String("model", client.Model()),
		zap.Int("prompt_tokens", comp.Usage.PromptTokens),
		zap.Int("completion_tokens", comp.Usage.CompletionTokens),
		zap.Float64("cost_usd", comp.Usage.CostUSD),
		zap.Duration("elapsed", elapsed))
	return comp, nil
}

// ModelFor returns the model name serving a tier.
func (s *TierSet) ModelFor(tier types.Tier) string {
	if c, ok := s.clients[tier]; ok {
		return c.Model()
	}
	return ""
}

func tierCost(tc config.TierConfig, u types.Usage) float64 {
	return float64(u.PromptTokens)/1000*tc.PromptCostPer1K +
		float64(u.CompletionTokens)/1000*tc.CompletionCostPer1K
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
