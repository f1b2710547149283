package config

import (
	"fmt"
	"time"
)

// AnalysisConfig holds the convergence loop thresholds. The defaults
// encode the cost/correctness tradeoff the loop is built around: squeeze
// cheap passes first, stop as soon as the result is trustworthy.
type AnalysisConfig struct {
	// StopThreshold: overall confidence at or above this converges
	// immediately.
	StopThreshold float64 `yaml:"stop_threshold"`

	// AcceptableThreshold: converge here only when the entity set has
	// also stabilized between passes.
	AcceptableThreshold float64 `yaml:"acceptable_threshold"`

	// MinimumForAutoApply: below this at termination, the result is
	// flagged for manual review instead of auto-applied.
	MinimumForAutoApply float64 `yaml:"minimum_for_auto_apply"`

	// SimpleActionThreshold: archive/no-op stop early at this level.
	SimpleActionThreshold float64 `yaml:"simple_action_threshold"`

	MaxPasses int `yaml:"max_passes"`

	// Deadline is the hard ceiling for one event's whole analysis.
	Deadline time.Duration `yaml:"deadline"`
}

// DefaultAnalysisConfig returns the standard thresholds.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		StopThreshold:         0.95,
		AcceptableThreshold:   0.90,
		MinimumForAutoApply:   0.85,
		SimpleActionThreshold: 0.85,
		MaxPasses:             5,
		Deadline:              60 * time.Second,
	}
}

// Validate rejects threshold orderings that would make the state
// machine unreachable.
func (c AnalysisConfig) Validate() error {
	for name, v := range map[string]float64{
		"stop_threshold":         c.StopThreshold,
		"acceptable_threshold":   c.AcceptableThreshold,
		"minimum_for_auto_apply": c.MinimumForAutoApply,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("analysis: %s out of range [0,1]: %v", name, v)
		}
	}
	if c.AcceptableThreshold > c.StopThreshold {
		return fmt.Errorf("analysis: acceptable_threshold above stop_threshold")
	}
	if c.MaxPasses < 1 {
		return fmt.Errorf("analysis: max_passes must be at least 1")
	}
	return nil
}

// SearchConfig bounds one context search call. Context search runs once
// per pass (plus re-searches for newly discovered entities), so the
// limits keep repeated lookups cheap relative to LLM latency.
type SearchConfig struct {
	MaxNotes    int `yaml:"max_notes"`
	MaxCalendar int `yaml:"max_calendar"`
	MaxTasks    int `yaml:"max_tasks"`
	MaxMessages int `yaml:"max_messages"`

	IncludeCalendar bool `yaml:"include_calendar"`
	IncludeTasks    bool `yaml:"include_tasks"`
	IncludeMessages bool `yaml:"include_messages"`
}

// DefaultSearchConfig returns the standard bounds.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxNotes:        5,
		MaxCalendar:     8,
		MaxTasks:        5,
		MaxMessages:     4,
		IncludeCalendar: true,
		IncludeTasks:    true,
		IncludeMessages: true,
	}
}

// StakesConfig tunes the high-stakes detector. High-stakes content
// forces escalation to the top tier regardless of cost, because an
// under-confident decision there is costlier than the extra API spend.
type StakesConfig struct {
	// AmountThreshold: monetary amounts above this are high-stakes.
	AmountThreshold float64 `yaml:"amount_threshold"`

	// DeadlineWindow: deadlines landing inside this window are
	// high-stakes.
	DeadlineWindow time.Duration `yaml:"deadline_window"`

	// VIPSenders are origins flagged by the user as always important.
	VIPSenders []string `yaml:"vip_senders,omitempty"`
}

// DefaultStakesConfig returns the standard stakes thresholds.
func DefaultStakesConfig() StakesConfig {
	return StakesConfig{
		AmountThreshold: 10000,
		DeadlineWindow:  48 * time.Hour,
	}
}
