// Package pipeline ties the engine to the local store: sender-pattern
// fast path in front, persistence and pattern learning behind. Both the
// CLI and the inbox watcher process events through it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noema/internal/engine"
	"noema/internal/store"
	"noema/internal/types"
)

// Pipeline processes events end to end.
type Pipeline struct {
	engine *engine.Engine
	store  *store.LocalStore
	logger *zap.Logger
}

// New builds a pipeline. The store may be nil, which disables the fast
// path and persistence (useful for dry runs).
func New(eng *engine.Engine, st *store.LocalStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{engine: eng, store: st, logger: logger}
}

// Process analyzes one event. A strong sender pattern short-circuits
// the whole convergence loop: when this sender's events have been
// handled the same way often enough, the learned action applies with
// zero LLM calls. Everything else goes through the engine. Results are
// persisted and the sender pattern table updated either way.
func (p *Pipeline) Process(ctx context.Context, event *types.PerceivedEvent) (*types.AnalysisResult, error) {
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if result := p.fastPath(ctx, event); result != nil {
		p.persist(ctx, event, result)
		return result, nil
	}

	result, err := p.engine.Analyze(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("analyze event %s: %w", event.ID, err)
	}
	p.persist(ctx, event, result)
	return result, nil
}

func (p *Pipeline) fastPath(ctx context.Context, event *types.PerceivedEvent) *types.AnalysisResult {
	if p.store == nil {
		return nil
	}
	patterns, err := p.store.GetApplicablePatterns(ctx, event.Sender)
	if err != nil {
		p.logger.Warn("pattern lookup failed", zap.String("sender", event.Sender), zap.Error(err))
		return nil
	}
	for _, pat := range patterns {
		if !pat.Strong() {
			continue
		}
		p.logger.Info("sender pattern fast path",
			zap.String("event_id", event.ID),
			zap.String("sender", event.Sender),
			zap.String("action", string(pat.Action)),
			zap.Int("occurrences", pat.Occurrences))
		conf := types.DecomposedConfidence{
			EntityID:     pat.Confidence,
			Action:       pat.Confidence,
			Extraction:   pat.Confidence,
			Completeness: pat.Confidence,
		}
		return &types.AnalysisResult{
			AnalysisID: uuid.NewString(),
			EventID:    event.ID,
			Action:     pat.Action,
			Confidence: conf,
			Rationale: fmt.Sprintf("Sender %s has been handled with %s %d times (%.0f%% success).",
				event.Sender, pat.Action, pat.Occurrences, pat.SuccessRate*100),
			Summary:    fmt.Sprintf("Recognized sender, applied learned action: %s.", pat.Action),
			StopReason: types.StopSenderPattern,
		}
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, event *types.PerceivedEvent, result *types.AnalysisResult) {
	if p.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.store.SaveAnalysis(saveCtx, result); err != nil {
		p.logger.Error("save analysis failed",
			zap.String("analysis_id", result.AnalysisID), zap.Error(err))
	}
	// Pattern learning only records confident, non-clarification
	// outcomes; an uncertain run must not teach the fast path.
	if !result.NeedsClarification && result.StopReason != types.StopSenderPattern {
		overall := result.Confidence.Overall()
		if err := p.store.RecordOutcome(saveCtx, event.Sender, result.Action, overall, true); err != nil {
			p.logger.Warn("record outcome failed",
				zap.String("sender", event.Sender), zap.Error(err))
		}
	}
}
