package perception

import (
	"math"
	"sync/atomic"

	"noema/internal/types"
)

// CostLedger tracks process-wide token and spend totals. Per-event
// usage is accumulated locally inside the engine and merged here once
// at finalize time, so no shared counter is touched during I/O.
type CostLedger struct {
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	costMicroUSD     atomic.Int64 // USD * 1e6, atomics need integers
	analyses         atomic.Int64
}

// MergeEvent folds one completed analysis's totals into the ledger.
func (l *CostLedger) MergeEvent(u types.Usage) {
	l.promptTokens.Add(int64(u.PromptTokens))
	l.completionTokens.Add(int64(u.CompletionTokens))
	l.costMicroUSD.Add(int64(math.Round(u.CostUSD * 1e6)))
	l.analyses.Add(1)
}

// LedgerTotals is a snapshot of process-wide spend.
type LedgerTotals struct {
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
	Analyses         int64
}

// Totals returns current ledger totals.
func (l *CostLedger) Totals() LedgerTotals {
	return LedgerTotals{
		PromptTokens:     l.promptTokens.Load(),
		CompletionTokens: l.completionTokens.Load(),
		CostUSD:          float64(l.costMicroUSD.Load()) / 1e6,
		Analyses:         l.analyses.Load(),
	}
}
