// Package engine implements the multi-pass convergence loop at the core
// of noema: iterative extract, search, refine cycles against tiered LLM
// backends, with confidence-gated stopping and cost-aware escalation.
//
// The expensive resource is the LLM call, not the CPU. Everything here
// is shaped around making as few calls as possible on the cheapest tier
// that can do the job, while never letting an event fall through
// unanalyzed.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"noema/internal/config"
	"noema/internal/extract"
	"noema/internal/perception"
	"noema/internal/search"
	"noema/internal/types"
)

// Engine runs analyses. Safe for concurrent use: all per-event state
// lives in the loop, and cross-event LLM concurrency is capped by the
// caller-supplied scheduler behind the Caller.
type Engine struct {
	cfg       *config.Config
	executor  *executor
	search    *search.Service
	extractor *extract.Extractor
	stakes    *stakesDetector
	ledger    *perception.CostLedger
	observer  Observer
	logger    *zap.Logger
}

// Options configures optional engine collaborators.
type Options struct {
	// Observer receives lifecycle callbacks. Nil means none.
	Observer Observer
	// Ledger accumulates cost totals across events. Nil disables
	// accounting.
	Ledger *perception.CostLedger
}

// New builds an engine over a tiered caller and a context search
// service.
func New(cfg *config.Config, tiers Caller, svc *search.Service, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{
		cfg:       cfg,
		executor:  &executor{tiers: tiers, logger: logger},
		search:    svc,
		extractor: extract.New(),
		stakes:    newStakesDetector(cfg.Stakes),
		ledger:    opts.Ledger,
		observer:  obs,
		logger:    logger,
	}
}

// Analyze runs the full convergence loop for one event and returns the
// aggregated result. The returned result is always non-nil on a nil
// error; a run whose every pass failed still yields a result flagged
// for clarification. Passes for one event run strictly in order.
func (e *Engine) Analyze(ctx context.Context, event *types.PerceivedEvent) (*types.AnalysisResult, error) {
	if event == nil {
		return nil, errors.New("nil event")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = types.NewEventID()
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Analysis.Deadline)
	defer cancel()

	start := time.Now()
	st := &loopState{
		event: event,
		known: make(map[string]bool),
	}
	st.known[strings.ToLower(event.Sender)] = true

	e.logger.Info("analysis started",
		zap.String("event_id", event.ID),
		zap.String("source", string(event.Source)),
		zap.String("sender", event.Sender))

	e.runLoop(ctx, st)

	result := e.finalize(uuid.NewString(), st, time.Since(start))
	if e.ledger != nil {
		e.ledger.MergeEvent(result.TotalUsage)
	}
	e.observer.AnalysisFinished(result)
	return result, nil
}
