package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"noema/internal/extract"
	"noema/internal/types"
)

// =============================================================================
// PROMPTS
// =============================================================================
//
// Prompt construction is deterministic: the same event, context bundle,
// and pass history always render the same string. All variability in a
// pass comes from the model, never from the prompt.

const responseSchema = `Respond with a single JSON object, no markdown fences, exactly this shape:
{
  "extractions": [
    {
      "description": "one piece of information worth keeping",
      "type": "decision|engagement|fact|deadline|relation|amount|reference|request|quote|objective|skill|preference",
      "importance": "high|medium|low",
      "note_title": "which note this belongs to",
      "note_action": "enrich|create",
      "create_task": false,
      "create_event": false,
      "date": "YYYY-MM-DD or empty",
      "time": "HH:MM or empty",
      "amount": 0
    }
  ],
  "action": "archive|flag|queue|delete|no-op",
  "confidence": {
    "entity_identification": 0.0,
    "action_correctness": 0.0,
    "extraction_completeness": 0.0,
    "overall_completeness": 0.0
  },
  "new_entities": ["entity names discovered this pass that earlier passes missed"],
  "changes_made": ["what you changed versus the previous pass; empty if nothing"],
  "reasoning": "one short paragraph",
  "summary": "one sentence a human reads first",
  "links": [{"from_title": "", "to_title": "", "relation": ""}]
}`

const blindSystemPrompt = `You are the extraction stage of a personal cognitive assistant.
You see one incoming event (email, chat message, calendar item, or file) with NO access to the user's existing notes. Extract every piece of information worth remembering and recommend a disposition for the event.

Confidence scores each dimension honestly and independently. When you cannot verify an entity against anything, say so with a lower entity_identification score. Do not inflate.

` + responseSchema

const refineSystemPrompt = `You are the refinement stage of a personal cognitive assistant.
You see an incoming event, the previous analysis pass, and related context retrieved from the user's knowledge store (notes, calendar, tasks, prior messages). Reconcile the previous analysis against that context: correct entities, merge duplicate extractions into existing notes (note_action "enrich"), surface information the blind pass missed, and re-score confidence.

List every correction in changes_made. If the previous analysis holds up completely, return it unchanged with an empty changes_made and raise confidence only as far as the context justifies.

` + responseSchema

const deepSystemPrompt = `You are the final reasoning stage of a personal cognitive assistant.
Earlier, cheaper passes failed to converge on this event. You see the full pass history and the retrieved context. Identify exactly why confidence stayed low or conclusions kept shifting, resolve the disagreement if the evidence allows it, and produce the definitive analysis.

If the evidence genuinely cannot support a confident conclusion, keep confidence low and explain the ambiguity in reasoning; a human will be asked instead. Never manufacture certainty.

` + responseSchema

// systemPromptFor maps a pass type to its system prompt.
func systemPromptFor(pt types.PassType) string {
	switch pt {
	case types.PassBlindExtraction:
		return blindSystemPrompt
	case types.PassContextualRefinement:
		return refineSystemPrompt
	default:
		return deepSystemPrompt
	}
}

// promptInput gathers everything a user prompt may render.
type promptInput struct {
	Event    *types.PerceivedEvent
	Blind    extract.Result
	Bundle   *types.ContextBundle
	History  []types.PassResult
	PassType types.PassType
}

// renderUserPrompt builds the user message for one pass.
func renderUserPrompt(in promptInput) string {
	var b strings.Builder

	writeEvent(&b, in.Event)
	writeBlind(&b, in.Blind)

	switch in.PassType {
	case types.PassBlindExtraction:
		// Event and regex hints only; no store context on purpose.

	case types.PassContextualRefinement:
		writeBundle(&b, in.Bundle)
		if last := lastSucceeded(in.History); last != nil {
			b.WriteString("\n## Previous analysis (pass ")
			fmt.Fprintf(&b, "%d, %s tier)\n", last.PassNumber, last.Model)
			writePassJSON(&b, last)
		}

	case types.PassDeepReasoning:
		writeBundle(&b, in.Bundle)
		b.WriteString("\n## Full pass history\n")
		for i := range in.History {
			p := &in.History[i]
			if p.Failed {
				fmt.Fprintf(&b, "\nPass %d (%s tier) FAILED: %s\n", p.PassNumber, p.Model, p.FailureReason)
				continue
			}
			fmt.Fprintf(&b, "\nPass %d (%s, %s tier, overall confidence %.2f):\n",
				p.PassNumber, p.Type, p.Model, p.Confidence.Overall())
			writePassJSON(&b, p)
		}
		writeUnresolved(&b, in.History)
	}

	return b.String()
}

func writeEvent(b *strings.Builder, ev *types.PerceivedEvent) {
	b.WriteString("## Incoming event\n")
	fmt.Fprintf(b, "Source: %s\nFrom: %s\nSubject: %s\nReceived: %s\n\n%s\n",
		ev.Source, ev.Sender, ev.Subject, ev.Timestamp.Format("2006-01-02 15:04"), ev.Body)
}

func writeBlind(b *strings.Builder, r extract.Result) {
	if len(r.Entities) == 0 && r.InfoType == "" {
		return
	}
	b.WriteString("\n## Pattern-extraction hints (low confidence, verify before trusting)\n")
	if r.InfoType != "" {
		fmt.Fprintf(b, "Preliminary classification: %s (%.2f)\n", r.InfoType, r.InfoConfidence)
	}
	for _, e := range r.Entities {
		fmt.Fprintf(b, "- %s: %s\n", e.Type, e.Value)
	}
}

func writeBundle(b *strings.Builder, bundle *types.ContextBundle) {
	if bundle == nil || bundle.IsEmpty() {
		b.WriteString("\n## Retrieved context\n(nothing related found in the knowledge store)\n")
		return
	}
	b.WriteString("\n## Retrieved context\n")
	for _, n := range bundle.Notes {
		fmt.Fprintf(b, "Note %q: %s\n", n.Title, n.Excerpt)
	}
	for _, c := range bundle.Calendar {
		fmt.Fprintf(b, "Calendar %q: %s to %s", c.Title, c.Start.Format("2006-01-02 15:04"), c.End.Format("15:04"))
		if c.Location != "" {
			fmt.Fprintf(b, " at %s", c.Location)
		}
		b.WriteString("\n")
	}
	for _, t := range bundle.Tasks {
		fmt.Fprintf(b, "Open task %q", t.Title)
		if t.Due != nil {
			fmt.Fprintf(b, " due %s", t.Due.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	for _, m := range bundle.Messages {
		fmt.Fprintf(b, "Prior message from %s, %q: %s\n", m.Sender, m.Subject, m.Excerpt)
	}
	for _, c := range bundle.Conflicts {
		fmt.Fprintf(b, "CONFLICT (%s): %s\n", c.Kind, c.Description)
	}
}

func writePassJSON(b *strings.Builder, p *types.PassResult) {
	payload := passPayload{
		Extractions: p.Extractions,
		Action:      string(p.Action),
		Confidence:  p.Confidence,
		NewEntities: p.NewEntities,
		ChangesMade: p.ChangesMade,
		Reasoning:   p.Reasoning,
	}
	enc, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	b.Write(enc)
	b.WriteString("\n")
}

// writeUnresolved names the concrete obstacles for the deep-reasoning
// pass: the weakest confidence dimension and conclusions that flipped
// between passes.
func writeUnresolved(b *strings.Builder, history []types.PassResult) {
	last := lastSucceeded(history)
	if last == nil {
		return
	}
	b.WriteString("\n## Unresolved issues\n")
	fmt.Fprintf(b, "- Weakest dimension so far: %s (%.2f overall)\n",
		last.Confidence.Weakest(), last.Confidence.Overall())
	actions := map[types.EventAction]bool{}
	for _, p := range history {
		if !p.Failed {
			actions[p.Action] = true
		}
	}
	if len(actions) > 1 {
		b.WriteString("- Passes disagreed on the recommended action; settle it.\n")
	}
	for _, p := range history {
		if !p.Failed && len(p.ChangesMade) > 0 {
			fmt.Fprintf(b, "- Pass %d changed: %s\n", p.PassNumber, strings.Join(p.ChangesMade, "; "))
		}
	}
}

// lastSucceeded returns the most recent non-failed pass, or nil.
func lastSucceeded(history []types.PassResult) *types.PassResult {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Failed {
			return &history[i]
		}
	}
	return nil
}
