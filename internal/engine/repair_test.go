package engine

import (
	"errors"
	"testing"

	"noema/internal/types"
)

const validResponse = `{
  "extractions": [
    {"description": "Invoice 4821 for $12,400", "type": "amount", "importance": "high", "note_title": "Acme Corp", "note_action": "enrich", "amount": 12400}
  ],
  "action": "flag",
  "confidence": {"entity_identification": 0.9, "action_correctness": 0.85, "extraction_completeness": 0.8, "overall_completeness": 0.85},
  "new_entities": ["Acme Corp"],
  "changes_made": [],
  "reasoning": "Invoice from a known vendor.",
  "summary": "Invoice to review."
}`

func TestParsePassPayloadDirect(t *testing.T) {
	payload, err := parsePassPayload(validResponse)
	if err != nil {
		t.Fatalf("direct parse failed: %v", err)
	}
	if len(payload.Extractions) != 1 {
		t.Fatalf("extractions = %d, want 1", len(payload.Extractions))
	}
	if payload.Extractions[0].Amount != 12400 {
		t.Errorf("amount = %v", payload.Extractions[0].Amount)
	}
	if payload.Confidence.Overall() != 0.8 {
		t.Errorf("overall = %v, want 0.8 (minimum dimension)", payload.Confidence.Overall())
	}
}

func TestParsePassPayloadWithProseAndFences(t *testing.T) {
	wrapped := "Here is the analysis you asked for:\n```json\n" + validResponse + "\n```\nLet me know if you need anything else."
	payload, err := parsePassPayload(wrapped)
	if err != nil {
		t.Fatalf("fenced parse failed: %v", err)
	}
	if payload.Action != "flag" {
		t.Errorf("action = %q", payload.Action)
	}
}

func TestParsePassPayloadTrailingCommas(t *testing.T) {
	raw := `{"action": "archive", "changes_made": ["a", "b",], "confidence": {"entity_identification": 0.9, "action_correctness": 0.9, "extraction_completeness": 0.9, "overall_completeness": 0.9,},}`
	payload, err := parsePassPayload(raw)
	if err != nil {
		t.Fatalf("trailing comma repair failed: %v", err)
	}
	if len(payload.ChangesMade) != 2 {
		t.Errorf("changes = %v", payload.ChangesMade)
	}
}

func TestParsePassPayloadTruncated(t *testing.T) {
	// Token budget ran out mid-array, after the confidence block.
	raw := `{"action": "queue", "reasoning": "half a thought", "confidence": {"entity_identification": 0.7, "action_correctness": 0.7, "extraction_completeness": 0.6, "overall_completeness": 0.7}, "extractions": [{"description": "call back Dana", "type": "request", "importance": "med`
	payload, err := parsePassPayload(raw)
	if err != nil {
		t.Fatalf("truncation repair failed: %v", err)
	}
	if payload.Action != "queue" {
		t.Errorf("action = %q", payload.Action)
	}
	if len(payload.Extractions) != 1 {
		t.Fatalf("extractions = %d, want the truncated one recovered", len(payload.Extractions))
	}
}

func TestParsePassPayloadTruncationAteConfidence(t *testing.T) {
	// Cut off before the confidence block, repair closes this into valid
	// JSON with every confidence dimension zero. That is not a result, it
	// is a failure: accepting it would let a later pass converge via the
	// no-changes rule at confidence 0.0.
	raws := []string{
		`{"action": "queue", "extractions": [{`,
		`{"action": "archive", "reasoning": "cut off right about he`,
		`{"action": "flag", "confidence": {"entity_identification": 0, "action_correctness": 0, "extraction_completeness": 0, "overall_completeness": 0}, "reasoning": "x"}`,
	}
	for _, raw := range raws {
		if _, err := parsePassPayload(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("parsePassPayload(%q) err = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestParsePassPayloadHopeless(t *testing.T) {
	for _, raw := range []string{"", "I could not analyze this event.", "{{{{["} {
		if _, err := parsePassPayload(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("parsePassPayload(%q) err = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestNormalizePayloadCoercion(t *testing.T) {
	p := &passPayload{
		Extractions: []types.Extraction{
			{Description: "x", Type: "hallucinated_kind", Importance: "critical", NoteAction: "merge"},
		},
		Confidence: types.DecomposedConfidence{EntityID: 1.4, Action: -0.2, Extraction: 0.5, Completeness: 0.5},
	}
	normalizePayload(p)

	if p.Extractions[0].Type != types.ExtractFact {
		t.Errorf("unknown type coerced to %q, want fact", p.Extractions[0].Type)
	}
	if p.Extractions[0].Importance != types.ImportanceMedium {
		t.Errorf("importance = %q", p.Extractions[0].Importance)
	}
	if p.Extractions[0].NoteAction != types.NoteCreate {
		t.Errorf("note action = %q", p.Extractions[0].NoteAction)
	}
	if p.Confidence.EntityID != 1 || p.Confidence.Action != 0 {
		t.Errorf("confidence not clamped: %+v", p.Confidence)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want types.EventAction
	}{
		{"archive", types.ActionArchive},
		{" Flag ", types.ActionFlag},
		{"no-op", types.ActionNoOp},
		{"noop", types.ActionNoOp},
		{"delete", types.ActionDelete},
		{"escalate_to_human", types.ActionFlag},
		{"", types.ActionFlag},
	}
	for _, tt := range tests {
		if got := parseAction(tt.in); got != tt.want {
			t.Errorf("parseAction(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
