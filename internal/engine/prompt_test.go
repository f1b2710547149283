package engine

import (
	"strings"
	"testing"
	"time"

	"noema/internal/extract"
	"noema/internal/types"
)

func promptFixture() promptInput {
	return promptInput{
		Event: &types.PerceivedEvent{
			Source:    types.SourceEmail,
			Sender:    "dana@client.com",
			Subject:   "Kickoff moved",
			Body:      "New time Thursday 10:00. Acme Corp folks will join.",
			Timestamp: time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC),
		},
		Blind: extract.Result{
			InfoType:       "meeting",
			InfoConfidence: 0.7,
			Entities: []types.Entity{
				{Type: types.EntityOrganization, Value: "Acme Corp", Confidence: 0.75},
			},
		},
		Bundle: &types.ContextBundle{
			Notes: []types.RelatedNote{{ID: "n1", Title: "Acme Corp", Excerpt: "Key vendor since 2024."}},
		},
		History: []types.PassResult{{
			PassNumber: 1,
			Type:       types.PassBlindExtraction,
			Model:      types.TierBaseline,
			Action:     types.ActionQueue,
			Confidence: types.DecomposedConfidence{EntityID: 0.8, Action: 0.7, Extraction: 0.7, Completeness: 0.75},
			Reasoning:  "probably a reschedule",
		}},
	}
}

func TestRenderUserPromptDeterministic(t *testing.T) {
	for _, pt := range []types.PassType{types.PassBlindExtraction, types.PassContextualRefinement, types.PassDeepReasoning} {
		in := promptFixture()
		in.PassType = pt
		a := renderUserPrompt(in)
		b := renderUserPrompt(in)
		if a != b {
			t.Errorf("%s prompt not deterministic", pt)
		}
	}
}

func TestRenderBlindPromptOmitsContext(t *testing.T) {
	in := promptFixture()
	in.PassType = types.PassBlindExtraction
	prompt := renderUserPrompt(in)

	if !strings.Contains(prompt, "Kickoff moved") {
		t.Error("event subject missing")
	}
	if !strings.Contains(prompt, "Acme Corp") {
		t.Error("extraction hints missing")
	}
	// The blind pass must not see the knowledge store.
	if strings.Contains(prompt, "Key vendor since 2024") {
		t.Error("blind prompt leaked retrieved context")
	}
	if strings.Contains(prompt, "Previous analysis") {
		t.Error("blind prompt leaked pass history")
	}
}

func TestRenderRefinementPromptIncludesContextAndLastPass(t *testing.T) {
	in := promptFixture()
	in.PassType = types.PassContextualRefinement
	prompt := renderUserPrompt(in)

	if !strings.Contains(prompt, "Key vendor since 2024") {
		t.Error("retrieved context missing")
	}
	if !strings.Contains(prompt, "Previous analysis (pass 1, baseline tier)") {
		t.Error("previous pass header missing")
	}
	if !strings.Contains(prompt, "probably a reschedule") {
		t.Error("previous reasoning missing")
	}
}

func TestRenderDeepPromptIncludesFullHistoryAndIssues(t *testing.T) {
	in := promptFixture()
	in.History = append(in.History, types.PassResult{
		PassNumber:    2,
		Model:         types.TierBaseline,
		Failed:        true,
		FailureReason: "malformed LLM response",
	}, types.PassResult{
		PassNumber:  3,
		Type:        types.PassContextualRefinement,
		Model:       types.TierBaseline,
		Action:      types.ActionFlag,
		Confidence:  types.DecomposedConfidence{EntityID: 0.9, Action: 0.6, Extraction: 0.8, Completeness: 0.8},
		ChangesMade: []string{"changed action to flag"},
	})
	in.PassType = types.PassDeepReasoning
	prompt := renderUserPrompt(in)

	if !strings.Contains(prompt, "Full pass history") {
		t.Error("history section missing")
	}
	if !strings.Contains(prompt, "FAILED: malformed LLM response") {
		t.Error("failed pass not surfaced")
	}
	if !strings.Contains(prompt, "action_correctness") {
		t.Error("weakest dimension not named")
	}
	if !strings.Contains(prompt, "Passes disagreed on the recommended action") {
		t.Error("action disagreement not surfaced")
	}
}

func TestSystemPromptsCarrySchema(t *testing.T) {
	for _, pt := range []types.PassType{types.PassBlindExtraction, types.PassContextualRefinement, types.PassDeepReasoning} {
		sp := systemPromptFor(pt)
		if !strings.Contains(sp, `"changes_made"`) || !strings.Contains(sp, `"confidence"`) {
			t.Errorf("%s system prompt missing response schema", pt)
		}
	}
}
