package engine

import (
	"testing"

	"pgregory.net/rapid"

	"noema/internal/types"
)

func TestSelectTier(t *testing.T) {
	tests := []struct {
		name string
		in   selectorInput
		tier types.Tier
	}{
		{"pass 1 baseline", selectorInput{PassNumber: 1, Confidence: 0, MaxPasses: 5}, types.TierBaseline},
		{"pass 2 baseline", selectorInput{PassNumber: 2, Confidence: 0.5, MaxPasses: 5}, types.TierBaseline},
		{"pass 3 baseline even when low", selectorInput{PassNumber: 3, Confidence: 0.2, MaxPasses: 5}, types.TierBaseline},
		{"pass 4 stalled goes mid", selectorInput{PassNumber: 4, Confidence: 0.79, MaxPasses: 5}, types.TierMid},
		{"pass 4 middling retries baseline", selectorInput{PassNumber: 4, Confidence: 0.85, MaxPasses: 5}, types.TierBaseline},
		{"pass 4 confident stays baseline", selectorInput{PassNumber: 4, Confidence: 0.92, MaxPasses: 5}, types.TierBaseline},
		{"pass 5 low goes top", selectorInput{PassNumber: 5, Confidence: 0.70, MaxPasses: 5}, types.TierTop},
		{"pass 5 conflict goes top", selectorInput{PassNumber: 5, Confidence: 0.88, ConflictDetected: true, MaxPasses: 5}, types.TierTop},
		{"pass 5 otherwise mid", selectorInput{PassNumber: 5, Confidence: 0.88, MaxPasses: 5}, types.TierMid},
		{"beyond max goes top", selectorInput{PassNumber: 6, Confidence: 0.88, MaxPasses: 5}, types.TierTop},
		{"high stakes overrides early pass", selectorInput{PassNumber: 2, Confidence: 0.80, HighStakes: true, MaxPasses: 5}, types.TierTop},
		{"high stakes released above 0.95", selectorInput{PassNumber: 2, Confidence: 0.96, HighStakes: true, MaxPasses: 5}, types.TierBaseline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectTier(tt.in)
			if got.Tier != tt.tier {
				t.Errorf("selectTier(%+v) = %s (%s), want %s", tt.in, got.Tier, got.Reason, tt.tier)
			}
			if got.Reason == "" {
				t.Error("empty reason tag")
			}
		})
	}
}

func TestSelectTierReasonTags(t *testing.T) {
	if d := selectTier(selectorInput{PassNumber: 4, Confidence: 0.85, MaxPasses: 5}); d.Reason != "retry" {
		t.Errorf("pass 4 middling reason = %q, want retry", d.Reason)
	}
	if d := selectTier(selectorInput{PassNumber: 4, Confidence: 0.92, MaxPasses: 5}); d.Reason != "confident" {
		t.Errorf("pass 4 confident reason = %q, want confident", d.Reason)
	}
	if d := selectTier(selectorInput{PassNumber: 7, Confidence: 0.5, MaxPasses: 5}); d.Reason != "max_passes" {
		t.Errorf("overflow reason = %q, want max_passes", d.Reason)
	}
}

func TestSelectTierEarlyPassesAlwaysBaseline(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := selectorInput{
			PassNumber:       rapid.IntRange(1, 3).Draw(t, "pass"),
			Confidence:       rapid.Float64Range(0, 1).Draw(t, "conf"),
			ConflictDetected: rapid.Bool().Draw(t, "conflict"),
			MaxPasses:        5,
		}
		if d := selectTier(in); d.Tier != types.TierBaseline {
			t.Fatalf("pass %d without high stakes selected %s", in.PassNumber, d.Tier)
		}
	})
}

func TestSelectTierHighStakesForcesTop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := selectorInput{
			PassNumber:       rapid.IntRange(1, 8).Draw(t, "pass"),
			Confidence:       rapid.Float64Range(0, 0.9499).Draw(t, "conf"),
			ConflictDetected: rapid.Bool().Draw(t, "conflict"),
			HighStakes:       true,
			MaxPasses:        5,
		}
		if d := selectTier(in); d.Tier != types.TierTop {
			t.Fatalf("high stakes at confidence %.3f pass %d selected %s", in.Confidence, in.PassNumber, d.Tier)
		}
	})
}

func TestNextTier(t *testing.T) {
	if got := nextTier(types.TierBaseline); got != types.TierMid {
		t.Errorf("nextTier(baseline) = %s", got)
	}
	if got := nextTier(types.TierMid); got != types.TierTop {
		t.Errorf("nextTier(mid) = %s", got)
	}
	if got := nextTier(types.TierTop); got != types.TierTop {
		t.Errorf("nextTier(top) = %s", got)
	}
}
