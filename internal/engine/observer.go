package engine

import (
	"go.uber.org/zap"

	"noema/internal/types"
)

// Observer receives lifecycle callbacks from the convergence loop.
// Callbacks run synchronously on the analysis goroutine, so
// implementations must be fast and must not block.
type Observer interface {
	PassStarted(eventID string, pass int, tier types.Tier, passType types.PassType)
	PassCompleted(eventID string, result types.PassResult)
	AnalysisFinished(result *types.AnalysisResult)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) PassStarted(string, int, types.Tier, types.PassType) {}
func (NopObserver) PassCompleted(string, types.PassResult)              {}
func (NopObserver) AnalysisFinished(*types.AnalysisResult)              {}

// LogObserver writes the analysis lifecycle to a structured logger.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) PassStarted(eventID string, pass int, tier types.Tier, passType types.PassType) {
	o.Logger.Info("pass started",
		zap.String("event_id", eventID),
		zap.Int("pass", pass),
		zap.String("tier", string(tier)),
		zap.String("type", string(passType)))
}

func (o LogObserver) PassCompleted(eventID string, result types.PassResult) {
	if result.Failed {
		o.Logger.Warn("pass failed",
			zap.String("event_id", eventID),
			zap.Int("pass", result.PassNumber),
			zap.String("tier", string(result.Model)),
			zap.String("reason", result.FailureReason))
		return
	}
	o.Logger.Info("pass completed",
		zap.String("event_id", eventID),
		zap.Int("pass", result.PassNumber),
		zap.String("tier", string(result.Model)),
		zap.Float64("confidence", result.Confidence.Overall()),
		zap.Strings("changes", result.ChangesMade))
}

func (o LogObserver) AnalysisFinished(result *types.AnalysisResult) {
	o.Logger.Info("analysis finished",
		zap.String("event_id", result.EventID),
		zap.String("stop_reason", string(result.StopReason)),
		zap.String("action", string(result.Action)),
		zap.Float64("confidence", result.Confidence.Overall()),
		zap.Int("passes", len(result.PassHistory)),
		zap.Bool("needs_clarification", result.NeedsClarification),
		zap.Float64("cost_usd", result.TotalUsage.CostUSD),
		zap.Duration("elapsed", result.TotalDuration))
}
