package engine

import (
	"strings"
	"time"

	"noema/internal/config"
	"noema/internal/extract"
	"noema/internal/types"
)

// =============================================================================
// HIGH-STAKES DETECTOR
// =============================================================================

// stakesDetector flags events where a wrong recommendation is expensive.
// A positive detection forces top-tier escalation until confidence
// clears 0.95, regardless of pass number.
type stakesDetector struct {
	cfg config.StakesConfig
	now func() time.Time
}

func newStakesDetector(cfg config.StakesConfig) *stakesDetector {
	return &stakesDetector{cfg: cfg, now: time.Now}
}

// Detect checks the event plus the latest pass output for high-stakes
// signals. It returns the first matching signal as a reason tag, so the
// escalation trail explains itself.
func (d *stakesDetector) Detect(event *types.PerceivedEvent, last *types.PassResult) (bool, string) {
	if d.vipSender(event.Sender) {
		return true, "vip_sender"
	}
	if amt, ok := d.largestAmount(event, last); ok && amt > d.cfg.AmountThreshold {
		return true, "large_amount"
	}
	if d.imminentDeadline(last) {
		return true, "imminent_deadline"
	}
	if last != nil {
		for _, ex := range last.Extractions {
			if ex.Type == types.ExtractDecision && ex.Importance == types.ImportanceHigh {
				return true, "high_importance_decision"
			}
		}
	}
	return false, ""
}

func (d *stakesDetector) vipSender(sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	for _, vip := range d.cfg.VIPSenders {
		if strings.ToLower(strings.TrimSpace(vip)) == sender {
			return true
		}
	}
	return false
}

// largestAmount scans both the raw event text (regex) and the LLM's
// structured extractions. The regex side catches amounts on pass 1,
// before any structured output exists.
func (d *stakesDetector) largestAmount(event *types.PerceivedEvent, last *types.PassResult) (float64, bool) {
	var best float64
	found := false
	if last != nil {
		for _, ex := range last.Extractions {
			if ex.Amount > best {
				best = ex.Amount
				found = true
			}
		}
	}
	for _, raw := range extract.AmountsIn(event.Subject + "\n" + event.Body) {
		if amt := extract.ParseAmount(raw); amt > best {
			best = amt
			found = true
		}
	}
	return best, found
}

// imminentDeadline reports whether any extracted deadline falls inside
// the configured window from now.
func (d *stakesDetector) imminentDeadline(last *types.PassResult) bool {
	if last == nil {
		return false
	}
	now := d.now()
	cutoff := now.Add(d.cfg.DeadlineWindow)
	for _, ex := range last.Extractions {
		if ex.Type != types.ExtractDeadline || ex.Date == "" {
			continue
		}
		due, err := time.Parse("2006-01-02", ex.Date)
		if err != nil {
			continue
		}
		if ex.Time != "" {
			if withTime, err := time.Parse("2006-01-02 15:04", ex.Date+" "+ex.Time); err == nil {
				due = withTime
			}
		}
		// A date-only deadline counts as end of that day.
		if ex.Time == "" {
			due = due.Add(24*time.Hour - time.Second)
		}
		if due.After(now) && due.Before(cutoff) {
			return true
		}
	}
	return false
}
