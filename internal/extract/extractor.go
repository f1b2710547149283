// Package extract performs blind entity extraction: a first read of the
// raw event text with no knowledge-store lookups. Running blind is
// deliberate, so extraction is never biased toward pre-existing
// (possibly wrong) notes. Confidence here lands in the 0.6-0.8 band by
// design; a low score is a signal to keep the convergence loop going,
// not an error.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"noema/internal/types"
)

// =============================================================================
// PATTERN CORPUS
// =============================================================================

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:\$|€|£|USD|EUR|GBP)\s?([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
	regexp.MustCompile(`(?i)([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s?(?:dollars|euros|pounds|USD|EUR|GBP)`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	regexp.MustCompile(`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?)\b`),
	regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|next (?:week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`),
	regexp.MustCompile(`(?i)\b((?:this|coming)\s+(?:week|monday|tuesday|wednesday|thursday|friday))\b`),
}

var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:due|deadline|by|no later than|before)\s+([A-Za-z0-9, :-]{3,40}?)(?:[.!?\n]|$)`),
	regexp.MustCompile(`(?i)\b(EOD|EOW|end of (?:day|week|month))\b`),
}

var personPatterns = []*regexp.Regexp{
	// Email addresses name a person or at least an origin.
	regexp.MustCompile(`\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`),
	// Salutations and attributions.
	regexp.MustCompile(`(?i)(?:^|\n)\s*(?:hi|hello|dear|thanks|regards|best|cheers),?\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`),
	regexp.MustCompile(`(?i)(?:from|with|cc|meeting with|call with)\s+([A-Z][a-z]+\s[A-Z][a-z]+)`),
}

var orgPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z][A-Za-z0-9&]+(?:\s[A-Z][A-Za-z0-9&]+)?\s(?:Corp|Inc|Ltd|LLC|GmbH|AG|Co)\.?)\b`),
}

var projectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:project|initiative|campaign)\s+["']?([A-Z][A-Za-z0-9 _-]{2,30}?)["']?(?:[.,!?\n]|$)`),
	regexp.MustCompile(`\[([A-Z][A-Za-z0-9 _-]{2,30})\]`),
}

// infoTypeHints maps keyword groups to a preliminary classification.
// First match by priority wins; scoring is cumulative within a group.
var infoTypeHints = []struct {
	infoType string
	words    []string
}{
	{"meeting", []string{"meeting", "invite", "calendar", "schedule", "call", "zoom", "standup"}},
	{"invoice", []string{"invoice", "payment", "billed", "receipt", "wire", "purchase order"}},
	{"request", []string{"please", "could you", "can you", "need you to", "action required", "asap"}},
	{"decision", []string{"decided", "approved", "sign-off", "go ahead", "we will", "agreed"}},
	{"newsletter", []string{"unsubscribe", "newsletter", "digest", "weekly roundup"}},
	{"notification", []string{"automated", "do not reply", "noreply", "alert", "reminder"}},
}

// =============================================================================
// EXTRACTOR
// =============================================================================

// Result is the output of one blind extraction.
type Result struct {
	Entities       []types.Entity
	InfoType       string
	InfoConfidence float64
}

// Extractor pulls candidate entities and a preliminary classification
// from raw text. Side-effect free.
type Extractor struct{}

// New returns a blind extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract runs pattern extraction over the event subject and body.
func (e *Extractor) Extract(event types.PerceivedEvent) Result {
	text := event.Subject + "\n" + event.Body

	var entities []types.Entity
	entities = appendMatches(entities, text, amountPatterns, types.EntityAmount, 0.75)
	entities = appendMatches(entities, text, datePatterns, types.EntityDate, 0.7)
	entities = appendMatches(entities, text, deadlinePatterns, types.EntityDeadline, 0.65)
	entities = appendMatches(entities, text, personPatterns, types.EntityPerson, 0.7)
	entities = appendMatches(entities, text, orgPatterns, types.EntityOrganization, 0.75)
	entities = appendMatches(entities, text, projectPatterns, types.EntityProject, 0.65)

	if event.Sender != "" {
		entities = append([]types.Entity{{
			Type:       types.EntityPerson,
			Value:      event.Sender,
			Confidence: 0.9,
		}}, entities...)
	}

	infoType, conf := classify(text)
	return Result{
		Entities:       dedupe(entities),
		InfoType:       infoType,
		InfoConfidence: conf,
	}
}

// AmountsIn returns the raw monetary amount strings found in text.
func AmountsIn(text string) []string {
	var out []string
	for _, p := range amountPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if len(m) >= 2 && m[1] != "" {
				out = append(out, m[1])
			}
		}
	}
	return out
}

// ParseAmount converts a matched amount string to a number, tolerating
// thousands separators. Returns 0 when unparseable.
func ParseAmount(s string) float64 {
	cleaned := strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

func appendMatches(entities []types.Entity, text string, patterns []*regexp.Regexp, et types.EntityType, conf float64) []types.Entity {
	for _, p := range patterns {
		for _, loc := range p.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			// Prefer the first capture group when present.
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			value := strings.TrimSpace(text[start:end])
			if value == "" {
				continue
			}
			entities = append(entities, types.Entity{
				Type:       et,
				Value:      value,
				Confidence: conf,
				StartIdx:   start,
				EndIdx:     end,
			})
		}
	}
	return entities
}

func classify(text string) (string, float64) {
	lower := strings.ToLower(text)

	bestType := "fyi"
	bestHits := 0
	for _, hint := range infoTypeHints {
		hits := 0
		for _, w := range hint.words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestType = hint.infoType
		}
	}

	// Blind classification is deliberately modest: one keyword hit is
	// weak evidence, several are decent.
	conf := 0.6 + 0.05*float64(bestHits)
	if conf > 0.8 {
		conf = 0.8
	}
	return bestType, conf
}

func dedupe(entities []types.Entity) []types.Entity {
	type key struct {
		t types.EntityType
		v string
	}
	seen := make(map[key]bool, len(entities))
	out := entities[:0]
	for _, e := range entities {
		k := key{e.Type, strings.ToLower(e.Value)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
