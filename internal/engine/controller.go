package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"noema/internal/types"
)

// =============================================================================
// CONVERGENCE CONTROLLER
// =============================================================================
//
// One event moves through passes strictly sequentially; concurrency
// lives across events, capped by the call scheduler. The loop holds no
// locks across LLM calls.

// loopState is the per-event mutable state of one convergence run.
type loopState struct {
	event       *types.PerceivedEvent
	history     []types.PassResult
	escalations []types.EscalationStep
	bundle      *types.ContextBundle
	searched    bool
	known       map[string]bool

	summary passSummary

	highStakes   bool
	stakesReason string

	consecutiveFailures int
	lastFailedTier      types.Tier

	// exhausted: the top tier failed twice with nowhere to escalate.
	exhausted bool

	stopReason types.StopReason
}

// passTypeFor maps a pass slot to its strategy: blind first read, then
// cheap contextual refinement, then deep reasoning once the cheap
// passes have stalled.
func passTypeFor(pass int) types.PassType {
	switch {
	case pass == 1:
		return types.PassBlindExtraction
	case pass <= 3:
		return types.PassContextualRefinement
	default:
		return types.PassDeepReasoning
	}
}

// decideTier picks the tier for the next pass. Failure handling takes
// precedence over the confidence ladder: a single failure retries the
// same tier, a second consecutive failure escalates one step.
func (e *Engine) decideTier(st *loopState, pass int) TierDecision {
	if st.consecutiveFailures == 1 {
		return TierDecision{Tier: st.lastFailedTier, Reason: "retry_after_failure"}
	}
	if st.consecutiveFailures >= 2 {
		return TierDecision{Tier: nextTier(st.lastFailedTier), Reason: "failure_escalation"}
	}
	if pass == 1 {
		return TierDecision{Tier: types.TierBaseline, Reason: "first_pass"}
	}

	last := lastSucceeded(st.history)
	conf := 0.0
	if last != nil {
		conf = last.Confidence.Overall()
	}
	d := selectTier(selectorInput{
		PassNumber:       pass,
		Confidence:       conf,
		ConflictDetected: st.bundle != nil && st.bundle.HasConflict(),
		HighStakes:       st.highStakes,
		MaxPasses:        e.cfg.Analysis.MaxPasses,
	})
	if d.Reason == "high_stakes" && st.stakesReason != "" {
		d.Reason = "high_stakes_" + st.stakesReason
	}
	return d
}

// runLoop drives passes until a stop rule fires. It always returns a
// terminal stop reason; events are never silently dropped.
func (e *Engine) runLoop(ctx context.Context, st *loopState) {
	blind := e.extractor.Extract(*st.event)
	for _, name := range types.EntityNames(blind.Entities) {
		st.known[strings.ToLower(name)] = true
	}

	// Event-level stakes signals (VIP sender, amounts in raw text) are
	// visible before any pass runs.
	st.highStakes, st.stakesReason = e.stakes.Detect(st.event, nil)

	maxAttempts := e.cfg.Analysis.MaxPasses + 6

	for pass := 1; ; pass++ {
		if ctx.Err() != nil {
			st.stopReason = types.StopDeadline
			return
		}
		if pass > maxAttempts {
			st.stopReason = types.StopMaxPasses
			return
		}
		// A tier that failed twice with nowhere left to escalate ends
		// the analysis; the result is always flagged for manual review,
		// even when an earlier pass produced a usable recommendation.
		if st.consecutiveFailures >= 2 && st.lastFailedTier == types.TierTop {
			st.exhausted = true
			st.stopReason = types.StopMaxPasses
			return
		}

		passType := passTypeFor(pass)
		decision := e.decideTier(st, pass)
		// An escalated tier gets a fresh retry budget of its own.
		if decision.Reason == "failure_escalation" {
			st.consecutiveFailures = 0
		}
		st.escalations = append(st.escalations, types.EscalationStep{
			PassNumber: pass,
			Tier:       decision.Tier,
			Reason:     decision.Reason,
		})

		// Context is fetched once, before the first non-blind pass, and
		// only expanded afterwards when new entities appear.
		if passType != types.PassBlindExtraction && !st.searched {
			main := e.search.Search(ctx, st.event.Sender, blind.Entities, e.cfg.Search)
			if st.bundle == nil {
				st.bundle = main
			} else {
				st.bundle.Merge(main)
			}
			st.searched = true
		}

		e.observer.PassStarted(st.event.ID, pass, decision.Tier, passType)
		result, summary, err := e.executor.runPass(ctx, passRequest{
			PassNumber: pass,
			Type:       passType,
			Tier:       decision.Tier,
			Prompt: promptInput{
				Event:   st.event,
				Blind:   blind,
				Bundle:  st.bundle,
				History: st.history,
			},
		})
		st.history = append(st.history, result)
		e.observer.PassCompleted(st.event.ID, result)

		if err != nil {
			st.consecutiveFailures++
			st.lastFailedTier = decision.Tier
			continue
		}
		st.consecutiveFailures = 0
		st.summary = summary

		if hs, reason := e.stakes.Detect(st.event, &result); hs {
			st.highStakes, st.stakesReason = hs, reason
		}

		stable := e.absorbNewEntities(ctx, st, &result)

		if reason, stop := e.evaluateStop(pass, &result, stable, st.highStakes); stop {
			st.stopReason = reason
			return
		}
	}
}

// absorbNewEntities re-searches context for entities this pass
// discovered and reports whether the entity set stayed stable.
func (e *Engine) absorbNewEntities(ctx context.Context, st *loopState, result *types.PassResult) bool {
	var fresh []string
	for _, name := range result.NewEntities {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || st.known[key] {
			continue
		}
		st.known[key] = true
		fresh = append(fresh, name)
	}
	if len(fresh) == 0 {
		return true
	}

	e.logger.Debug("entity set expanded",
		zap.String("event_id", st.event.ID),
		zap.Int("pass", result.PassNumber),
		zap.Strings("entities", fresh))

	extra := e.search.SearchEntities(ctx, fresh, e.cfg.Search)
	if st.bundle == nil {
		st.bundle = extra
	} else {
		st.bundle.Merge(extra)
	}
	return false
}

// evaluateStop applies the stop rules in priority order after a
// successful pass.
func (e *Engine) evaluateStop(pass int, result *types.PassResult, entitiesStable, highStakes bool) (types.StopReason, bool) {
	cfg := e.cfg.Analysis
	overall := result.Confidence.Overall()

	if overall >= cfg.StopThreshold {
		return types.StopConfidenceThreshold, true
	}
	if pass > 1 && len(result.ChangesMade) == 0 {
		return types.StopNoChanges, true
	}
	if pass > 1 && entitiesStable && overall >= cfg.AcceptableThreshold {
		return types.StopStableEntities, true
	}
	if pass >= cfg.MaxPasses {
		return types.StopMaxPasses, true
	}
	// The cheap exit for archive/no-op; high-stakes events never take
	// it, they keep going until confidence clears the full threshold.
	if !highStakes && result.Action.IsSimple() && overall >= cfg.SimpleActionThreshold {
		return types.StopSimpleAction, true
	}
	return "", false
}
