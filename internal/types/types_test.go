package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecomposedConfidenceOverallIsMinimum(t *testing.T) {
	c := DecomposedConfidence{EntityID: 0.9, Action: 0.95, Extraction: 0.7, Completeness: 0.85}
	if got := c.Overall(); got != 0.7 {
		t.Errorf("Overall = %v, want conjunctive minimum 0.7", got)
	}
	if got := c.Weakest(); got != "extraction_completeness" {
		t.Errorf("Weakest = %q", got)
	}
}

func TestDecomposedConfidenceClamp(t *testing.T) {
	c := DecomposedConfidence{EntityID: 1.7, Action: -0.3, Extraction: 0.5, Completeness: 0.5}
	c.Clamp()
	if c.EntityID != 1 || c.Action != 0 {
		t.Errorf("clamp failed: %+v", c)
	}
}

func TestEntityNamesDeduplicates(t *testing.T) {
	entities := []Entity{
		{Type: EntityPerson, Value: "Dana"},
		{Type: EntityOrganization, Value: "Acme Corp"},
		{Type: EntityTopic, Value: "Dana"},
	}
	got := EntityNames(entities)
	want := []string{"Dana", "Acme Corp"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EntityNames mismatch:\n%s", diff)
	}
}

func TestEventActionIsSimple(t *testing.T) {
	simple := map[EventAction]bool{
		ActionArchive: true,
		ActionNoOp:    true,
		ActionFlag:    false,
		ActionQueue:   false,
		ActionDelete:  false,
	}
	for action, want := range simple {
		if got := action.IsSimple(); got != want {
			t.Errorf("%s.IsSimple() = %v", action, got)
		}
	}
}

func TestContextBundleMergeDeduplicatesByID(t *testing.T) {
	a := &ContextBundle{
		Notes: []RelatedNote{{ID: "n1", Title: "Acme"}},
		Tasks: []RelatedTask{{ID: "t1", Title: "review"}},
	}
	b := &ContextBundle{
		Notes:     []RelatedNote{{ID: "n1", Title: "Acme"}, {ID: "n2", Title: "Beacon"}},
		Conflicts: []ContextConflict{{Kind: "schedule_overlap"}},
	}

	a.Merge(b)
	if len(a.Notes) != 2 {
		t.Errorf("notes = %+v", a.Notes)
	}
	if len(a.Tasks) != 1 {
		t.Errorf("tasks = %+v", a.Tasks)
	}
	if !a.HasConflict() {
		t.Error("conflicts not carried over")
	}

	a.Merge(nil)
	if len(a.Notes) != 2 {
		t.Error("nil merge changed the bundle")
	}
}

func TestExtractionTypeClosedSet(t *testing.T) {
	for _, k := range KnownExtractionTypes {
		if !k.IsValid() {
			t.Errorf("%s not valid", k)
		}
	}
	if ExtractionType("vibe").IsValid() {
		t.Error("unknown type accepted")
	}
	if len(KnownExtractionTypes) != 12 {
		t.Errorf("closed set has %d kinds", len(KnownExtractionTypes))
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.001}
	u.Add(Usage{PromptTokens: 20, CompletionTokens: 10, CostUSD: 0.002})
	if u.TotalTokens() != 45 {
		t.Errorf("total tokens = %d", u.TotalTokens())
	}
	if diff := u.CostUSD - 0.003; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("cost = %v", u.CostUSD)
	}
}
