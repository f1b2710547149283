package perception

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"noema/internal/types"
)

// =============================================================================
// CALL SCHEDULER - CROSS-EVENT CONCURRENCY CAP
// =============================================================================
//
// Passes within one event are strictly sequential, so concurrency exists
// only across events. The scheduler caps total in-flight LLM calls so
// the surrounding pipeline can analyze many events at once without
// tripping provider rate limits. One slot = permission for one call.

// CallScheduler is a counting semaphore over LLM call slots, with
// atomically maintained metrics.
type CallScheduler struct {
	slots chan struct{}

	totalCalls    atomic.Int64
	totalWaitNs   atomic.Int64
	currentlyHeld atomic.Int32
}

// NewCallScheduler creates a scheduler with the given slot count.
func NewCallScheduler(maxInFlight int) *CallScheduler {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &CallScheduler{
		slots: make(chan struct{}, maxInFlight),
	}
}

// Acquire blocks until a call slot is available or the context ends.
func (s *CallScheduler) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case s.slots <- struct{}{}:
		s.totalWaitNs.Add(int64(time.Since(start)))
		s.currentlyHeld.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for call slot: %w", ctx.Err())
	}
}

// Release returns a slot after the call completes.
func (s *CallScheduler) Release() {
	select {
	case <-s.slots:
		s.currentlyHeld.Add(-1)
		s.totalCalls.Add(1)
	default:
		// Releasing without holding is a programming error; tolerate it
		// rather than deadlocking a caller.
	}
}

// SchedulerMetrics is a snapshot of scheduler activity.
type SchedulerMetrics struct {
	MaxSlots      int
	InFlight      int
	TotalCalls    int64
	TotalWaitTime time.Duration
}

// Metrics returns current counters.
func (s *CallScheduler) Metrics() SchedulerMetrics {
	return SchedulerMetrics{
		MaxSlots:      cap(s.slots),
		InFlight:      int(s.currentlyHeld.Load()),
		TotalCalls:    s.totalCalls.Load(),
		TotalWaitTime: time.Duration(s.totalWaitNs.Load()),
	}
}

// String returns a human-readable summary.
func (m SchedulerMetrics) String() string {
	avg := time.Duration(0)
	if m.TotalCalls > 0 {
		avg = m.TotalWaitTime / time.Duration(m.TotalCalls)
	}
	return fmt.Sprintf("slots=%d/%d, calls=%d, avg_wait=%v",
		m.InFlight, m.MaxSlots, m.TotalCalls, avg)
}

// =============================================================================
// SCHEDULED TIER SET
// =============================================================================

// ScheduledTierSet wraps a TierSet so every call holds a scheduler slot
// for exactly the duration of the backend request. No lock or slot is
// held across anything but the I/O itself.
type ScheduledTierSet struct {
	Tiers     *TierSet
	Scheduler *CallScheduler
}

// Call acquires a slot, performs the tier call, and releases the slot.
func (s *ScheduledTierSet) Call(ctx context.Context, tier types.Tier, systemPrompt, userPrompt string) (Completion, error) {
	if err := s.Scheduler.Acquire(ctx); err != nil {
		return Completion{}, err
	}
	defer s.Scheduler.Release()
	return s.Tiers.Call(ctx, tier, systemPrompt, userPrompt)
}

// ModelFor reports the model serving a tier, for pass provenance.
func (s *ScheduledTierSet) ModelFor(tier types.Tier) string {
	return s.Tiers.ModelFor(tier)
}
