package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"noema/internal/perception"
	"noema/internal/types"
)

// Caller is the slice of the perception layer the engine needs: one
// tiered completion call plus model lookup. Both the raw tier set and
// the scheduler-wrapped one satisfy it; tests supply fakes.
type Caller interface {
	Call(ctx context.Context, tier types.Tier, systemPrompt, userPrompt string) (perception.Completion, error)
	ModelFor(tier types.Tier) string
}

// =============================================================================
// PASS EXECUTOR
// =============================================================================

// executor runs exactly one pass: render the prompt, make one LLM call
// on the selected tier, parse and validate the structured output. It
// holds no loop state; retries and escalation belong to the controller.
type executor struct {
	tiers  Caller
	logger *zap.Logger
}

// passRequest describes one pass to run.
type passRequest struct {
	PassNumber int
	Type       types.PassType
	Tier       types.Tier
	Prompt     promptInput
}

// passSummary carries the payload's presentation fields, which are not
// part of PassResult but survive to the final aggregate.
type passSummary struct {
	Summary string
	Links   []types.NoteLink
}

// runPass executes one pass end to end. On any failure (transport,
// timeout, unrepairable JSON) it returns a PassResult with Failed set
// and the wrapped error; partial progress is never invented. Usage is
// recorded even for failed calls, since tokens were still spent.
func (e *executor) runPass(ctx context.Context, req passRequest) (types.PassResult, passSummary, error) {
	req.Prompt.PassType = req.Type
	system := systemPromptFor(req.Type)
	user := renderUserPrompt(req.Prompt)

	start := time.Now()
	completion, err := e.tiers.Call(ctx, req.Tier, system, user)
	elapsed := time.Since(start)

	result := types.PassResult{
		PassNumber: req.PassNumber,
		Type:       req.Type,
		Model:      req.Tier,
		Usage:      completion.Usage,
		Duration:   elapsed,
	}

	if err != nil {
		result.Failed = true
		result.FailureReason = err.Error()
		e.logger.Warn("pass call failed",
			zap.Int("pass", req.PassNumber),
			zap.String("tier", string(req.Tier)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return result, passSummary{}, fmt.Errorf("pass %d on %s tier: %w", req.PassNumber, req.Tier, err)
	}

	payload, err := parsePassPayload(completion.Text)
	if err != nil {
		result.Failed = true
		result.FailureReason = err.Error()
		e.logger.Warn("pass response unparseable",
			zap.Int("pass", req.PassNumber),
			zap.String("tier", string(req.Tier)),
			zap.Int("response_bytes", len(completion.Text)),
			zap.Error(err))
		return result, passSummary{}, err
	}
	normalizePayload(payload)

	result.Extractions = payload.Extractions
	result.Action = parseAction(payload.Action)
	result.Confidence = payload.Confidence
	result.NewEntities = payload.NewEntities
	result.ChangesMade = payload.ChangesMade
	result.Reasoning = payload.Reasoning

	e.logger.Debug("pass completed",
		zap.Int("pass", req.PassNumber),
		zap.String("type", string(req.Type)),
		zap.String("tier", string(req.Tier)),
		zap.Float64("overall_confidence", result.Confidence.Overall()),
		zap.Int("extractions", len(result.Extractions)),
		zap.Int("tokens", result.Usage.TotalTokens()),
		zap.Duration("elapsed", elapsed))

	return result, passSummary{Summary: payload.Summary, Links: payload.Links}, nil
}
