package perception

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"noema/internal/config"
	"noema/internal/types"
)

// stubClient is a canned LLMClient.
type stubClient struct {
	model string
	text  string
	usage types.Usage
	err   error
	delay time.Duration
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (Completion, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
	if c.err != nil {
		return Completion{}, c.err
	}
	return Completion{Text: c.text, Usage: c.usage}, nil
}

func (c *stubClient) Model() string { return c.model }

func testTierSet(clients map[types.Tier]LLMClient) *TierSet {
	return NewTierSetWithClients(clients, config.DefaultLLMConfig(), nil)
}

func TestTierSetCallPricesUsage(t *testing.T) {
	set := testTierSet(map[types.Tier]LLMClient{
		types.TierBaseline: &stubClient{
			model: "m-base",
			text:  "{}",
			usage: types.Usage{PromptTokens: 2000, CompletionTokens: 1000},
		},
	})

	comp, err := set.Call(context.Background(), types.TierBaseline, "sys", "user")
	if err != nil {
		t.Fatal(err)
	}
	// 2K prompt at 0.0001/1K plus 1K completion at 0.0004/1K.
	want := 0.0006
	if diff := comp.Usage.CostUSD - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %v, want %v", comp.Usage.CostUSD, want)
	}
}

func TestTierSetUnknownTier(t *testing.T) {
	set := testTierSet(map[types.Tier]LLMClient{})
	if _, err := set.Call(context.Background(), types.TierTop, "s", "u"); err == nil {
		t.Fatal("expected error for missing tier client")
	}
}

func TestTierSetPropagatesErrors(t *testing.T) {
	boom := errors.New("backend down")
	set := testTierSet(map[types.Tier]LLMClient{
		types.TierMid: &stubClient{model: "m-mid", err: boom},
	})
	if _, err := set.Call(context.Background(), types.TierMid, "s", "u"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestTierSetModelFor(t *testing.T) {
	set := testTierSet(map[types.Tier]LLMClient{
		types.TierBaseline: &stubClient{model: "m-base"},
	})
	if got := set.ModelFor(types.TierBaseline); got != "m-base" {
		t.Errorf("ModelFor = %q", got)
	}
	if got := set.ModelFor(types.TierTop); got != "" {
		t.Errorf("missing tier ModelFor = %q", got)
	}
}

func TestCallSchedulerCapsConcurrency(t *testing.T) {
	sched := NewCallScheduler(2)
	var inFlight, peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			sched.Release()
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak in-flight = %d, cap is 2", got)
	}
	m := sched.Metrics()
	if m.TotalCalls != 10 {
		t.Errorf("total calls = %d", m.TotalCalls)
	}
	if m.InFlight != 0 {
		t.Errorf("in-flight after drain = %d", m.InFlight)
	}
}

func TestCallSchedulerAcquireHonorsContext(t *testing.T) {
	sched := NewCallScheduler(1)
	if err := sched.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sched.Acquire(ctx); err == nil {
		t.Fatal("acquire succeeded past the cap")
	}
}

func TestScheduledTierSetReleasesSlot(t *testing.T) {
	sched := NewCallScheduler(1)
	set := &ScheduledTierSet{
		Tiers: testTierSet(map[types.Tier]LLMClient{
			types.TierBaseline: &stubClient{model: "m", text: "{}"},
		}),
		Scheduler: sched,
	}

	for i := 0; i < 3; i++ {
		if _, err := set.Call(context.Background(), types.TierBaseline, "s", "u"); err != nil {
			t.Fatal(err)
		}
	}
	if m := sched.Metrics(); m.InFlight != 0 || m.TotalCalls != 3 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestCostLedgerMergesAtomically(t *testing.T) {
	ledger := &CostLedger{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.MergeEvent(types.Usage{PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.001})
		}()
	}
	wg.Wait()

	totals := ledger.Totals()
	if totals.Analyses != 20 {
		t.Errorf("analyses = %d", totals.Analyses)
	}
	if totals.PromptTokens != 200 || totals.CompletionTokens != 100 {
		t.Errorf("tokens = %d/%d", totals.PromptTokens, totals.CompletionTokens)
	}
	if diff := totals.CostUSD - 0.02; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %v", totals.CostUSD)
	}
}
