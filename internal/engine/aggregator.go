package engine

import (
	"fmt"
	"time"

	"noema/internal/types"
)

// =============================================================================
// RESULT AGGREGATOR
// =============================================================================

// finalize folds a finished loop into the AnalysisResult. The most
// recent successful pass is authoritative for extractions, action, and
// confidence; every pass stays in the history verbatim for audit, and
// usage totals include failed calls since those tokens were spent too.
func (e *Engine) finalize(analysisID string, st *loopState, elapsed time.Duration) *types.AnalysisResult {
	result := &types.AnalysisResult{
		AnalysisID:    analysisID,
		EventID:       st.event.ID,
		StopReason:    st.stopReason,
		PassHistory:   st.history,
		Escalations:   st.escalations,
		TotalDuration: elapsed,
	}

	for _, p := range st.history {
		result.TotalUsage.Add(p.Usage)
	}

	last := lastSucceeded(st.history)
	if last == nil {
		// Every attempt failed. Nothing trustworthy to recommend, so
		// the event is flagged and handed to the user.
		result.Action = types.ActionFlag
		result.NeedsClarification = true
		result.Clarification = fmt.Sprintf(
			"Automatic analysis of %q from %s failed on every attempt. How should this be handled?",
			st.event.Subject, st.event.Sender)
		return result
	}

	result.Extractions = last.Extractions
	result.Action = last.Action
	result.Confidence = last.Confidence
	result.Rationale = last.Reasoning
	result.Summary = st.summary.Summary
	result.Links = st.summary.Links

	// Backend exhaustion flags the result no matter how confident an
	// earlier pass was: the recommendation is stale and every attempt to
	// re-verify it failed.
	if st.exhausted {
		result.NeedsClarification = true
		result.Clarification = fmt.Sprintf(
			"Automated analysis of %q from %s failed: every model tier stopped responding. The tentative recommendation (%s, from pass %d) was never re-verified. How should this be handled?",
			st.event.Subject, st.event.Sender, last.Action, last.PassNumber)
		return result
	}

	overall := last.Confidence.Overall()
	terminal := st.stopReason == types.StopMaxPasses || st.stopReason == types.StopDeadline
	if terminal && overall < e.cfg.Analysis.MinimumForAutoApply {
		result.NeedsClarification = true
		result.Clarification = clarificationQuestion(st.event, last)
	}
	return result
}

// clarificationQuestion composes the question shown to the user when an
// analysis ends below the auto-apply floor. The weakest confidence
// dimension decides what to ask about.
func clarificationQuestion(event *types.PerceivedEvent, last *types.PassResult) string {
	subject := event.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	var ask string
	switch last.Confidence.Weakest() {
	case "entity_identification":
		ask = "Who or what is this actually about?"
	case "action_correctness":
		ask = fmt.Sprintf("The tentative recommendation is to %s it. Is that right?", last.Action)
	case "extraction_completeness":
		ask = "Is there information here that should be captured but was not?"
	default:
		ask = "What is the right way to handle it?"
	}

	return fmt.Sprintf(
		"Analysis of %q from %s did not converge (confidence %.2f). %s",
		subject, event.Sender, last.Confidence.Overall(), ask)
}
