package engine

import "noema/internal/types"

// =============================================================================
// MODEL TIER SELECTOR
// =============================================================================

// TierDecision carries the selected tier plus a short reason tag for the
// escalation trail.
type TierDecision struct {
	Tier   types.Tier
	Reason string
}

// selectorInput is everything tier selection may depend on. Keeping it a
// value type keeps selectTier a pure function, which is what makes the
// escalation behavior testable without any backend.
type selectorInput struct {
	// PassNumber is the pass about to run, 1-based.
	PassNumber int
	// Confidence is the overall confidence of the most recent pass.
	Confidence float64
	// ConflictDetected reports whether context search found a conflict.
	ConflictDetected bool
	// HighStakes reports whether the high-stakes detector fired.
	HighStakes bool
	MaxPasses  int
}

// selectTier decides which backend tier serves the next pass.
//
// Cost discipline comes first: early passes always run on the baseline
// tier, and escalation only happens when confidence stalls. Two
// overrides cut through the ladder: high-stakes events escalate straight
// to the top tier, and any pass beyond the configured maximum (possible
// after failure retries) runs on the top tier as a safety net.
func selectTier(in selectorInput) TierDecision {
	if in.HighStakes && in.Confidence < 0.95 {
		return TierDecision{Tier: types.TierTop, Reason: "high_stakes"}
	}
	if in.PassNumber > in.MaxPasses {
		return TierDecision{Tier: types.TierTop, Reason: "max_passes"}
	}

	switch {
	case in.PassNumber <= 3:
		return TierDecision{Tier: types.TierBaseline, Reason: "baseline"}

	case in.PassNumber == 4:
		switch {
		case in.Confidence < 0.80:
			return TierDecision{Tier: types.TierMid, Reason: "stalled"}
		case in.Confidence < 0.90:
			return TierDecision{Tier: types.TierBaseline, Reason: "retry"}
		default:
			return TierDecision{Tier: types.TierBaseline, Reason: "confident"}
		}

	default: // final configured pass
		if in.Confidence < 0.75 || in.ConflictDetected || in.HighStakes {
			return TierDecision{Tier: types.TierTop, Reason: "final_escalation"}
		}
		return TierDecision{Tier: types.TierMid, Reason: "final_mid"}
	}
}

// nextTier returns the tier one step up the ladder, used when the same
// tier has failed twice in a row. Top stays top.
func nextTier(t types.Tier) types.Tier {
	switch t {
	case types.TierBaseline:
		return types.TierMid
	case types.TierMid:
		return types.TierTop
	default:
		return types.TierTop
	}
}
