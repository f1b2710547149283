package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"noema/internal/types"
)

// ErrMalformedResponse marks an LLM reply whose JSON survived none of
// the repair levels. The controller treats it as a failed, non-crashing
// pass: retry once at the same tier, then escalate.
var ErrMalformedResponse = errors.New("malformed LLM response")

// passPayload is the JSON schema every pass type must produce. Field
// names are identical across pass types so this one parser serves all.
type passPayload struct {
	Extractions []types.Extraction         `json:"extractions"`
	Action      string                     `json:"action"`
	Confidence  types.DecomposedConfidence `json:"confidence"`
	NewEntities []string                   `json:"new_entities"`
	ChangesMade []string                   `json:"changes_made"`
	Reasoning   string                     `json:"reasoning"`
	Summary     string                     `json:"summary"`
	Links       []types.NoteLink           `json:"links"`
}

// =============================================================================
// MULTI-LEVEL JSON REPAIR
// =============================================================================
//
// LLMs damage JSON in predictable ways: markdown fences, trailing
// commas, truncated arrays when the token budget runs out. Parsing
// escalates through three levels before giving up:
//   1. direct parse of the extracted JSON object
//   2. structural repair (fences, trailing commas, unclosed brackets)
//   3. regex cleanup of remaining noise, then repair again

// parsePassPayload runs the repair ladder over a raw LLM response.
func parsePassPayload(raw string) (*passPayload, error) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}

	// Level 1: direct parse.
	if payload, err := decodePayload(candidate); err == nil {
		return usable(payload)
	}

	// Level 2: structural repair.
	repaired := structuralRepair(candidate)
	if payload, err := decodePayload(repaired); err == nil {
		return usable(payload)
	}

	// Level 3: regex cleanup, then repair once more.
	cleaned := structuralRepair(regexCleanup(repaired))
	payload, err := decodePayload(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return usable(payload)
}

// usable rejects payloads that decode cleanly but carry no analysis.
// Closing a truncated response can produce valid JSON whose confidence
// block and content were cut off; accepting one would let the loop
// converge on an empty result at confidence zero. Such a pass fails
// instead, so the controller retries and escalates like any other
// failure.
func usable(p *passPayload) (*passPayload, error) {
	c := p.Confidence
	if c.EntityID == 0 && c.Action == 0 && c.Extraction == 0 && c.Completeness == 0 {
		return nil, fmt.Errorf("%w: confidence lost to truncation", ErrMalformedResponse)
	}
	return p, nil
}

func decodePayload(s string) (*passPayload, error) {
	var payload passPayload
	decoder := json.NewDecoder(strings.NewReader(s))
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// extractJSONObject returns the substring from the first '{' through
// the end of the response. Decoding stops at the matching close brace,
// so trailing prose is harmless.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	if start == -1 {
		return ""
	}
	return raw[start:]
}

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json)?|```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	controlCharPattern   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	lineCommentPattern   = regexp.MustCompile(`(?m)^\s*//.*$`)
)

// structuralRepair fixes the common mechanical mistakes: markdown
// fences, trailing commas, and truncation (unclosed strings, arrays,
// objects cut off mid-generation).
func structuralRepair(s string) string {
	s = fencePattern.ReplaceAllString(s, "")
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	s = strings.TrimSpace(s)
	return closeTruncated(s)
}

// closeTruncated balances an object that was cut off mid-generation by
// closing any open string, then appending the missing closers in stack
// order.
func closeTruncated(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	// A truncated value may end on a dangling comma or colon.
	trimmed := strings.TrimRight(b.String(), ", \t\n:")
	b.Reset()
	b.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// regexCleanup strips noise the structural pass does not touch:
// control characters and accidental line comments.
func regexCleanup(s string) string {
	s = controlCharPattern.ReplaceAllString(s, "")
	s = lineCommentPattern.ReplaceAllString(s, "")
	return s
}

// =============================================================================
// PAYLOAD VALIDATION
// =============================================================================

// normalizePayload coerces a decoded payload into the closed vocabulary
// the rest of the pipeline assumes: unknown extraction types become
// facts, confidences are clamped into [0,1], and an unknown action
// degrades to flag (never silently archive something unparsed).
func normalizePayload(p *passPayload) {
	for i := range p.Extractions {
		if !p.Extractions[i].Type.IsValid() {
			p.Extractions[i].Type = types.ExtractFact
		}
		switch p.Extractions[i].Importance {
		case types.ImportanceHigh, types.ImportanceMedium, types.ImportanceLow:
		default:
			p.Extractions[i].Importance = types.ImportanceMedium
		}
		switch p.Extractions[i].NoteAction {
		case types.NoteEnrich, types.NoteCreate:
		default:
			p.Extractions[i].NoteAction = types.NoteCreate
		}
	}
	p.Confidence.Clamp()
}

// parseAction maps the payload's action string to an EventAction,
// degrading unknown values to flag.
func parseAction(s string) types.EventAction {
	switch types.EventAction(strings.ToLower(strings.TrimSpace(s))) {
	case types.ActionArchive:
		return types.ActionArchive
	case types.ActionFlag:
		return types.ActionFlag
	case types.ActionQueue:
		return types.ActionQueue
	case types.ActionDelete:
		return types.ActionDelete
	case types.ActionNoOp, "noop", "no_op":
		return types.ActionNoOp
	default:
		return types.ActionFlag
	}
}
