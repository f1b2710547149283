// Package types defines the shared data model for the noema analysis
// pipeline: perceived events, extracted entities, per-pass results, and
// the final aggregated analysis. These types double as the JSON wire
// schema for LLM structured output, so field names are stable across
// pass types and parsing code is shared.
package types

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PERCEIVED EVENTS
// =============================================================================

// SourceKind identifies where an event came from.
type SourceKind string

const (
	SourceEmail    SourceKind = "email"
	SourceChat     SourceKind = "chat"
	SourceCalendar SourceKind = "calendar"
	SourceFile     SourceKind = "file"
)

// PerceivedEvent is the normalized representation of an incoming item.
// It is produced by an external normalizer and consumed read-only by the
// convergence engine; never mutated after construction.
type PerceivedEvent struct {
	ID        string            `json:"id"`
	Source    SourceKind        `json:"source"`
	Sender    string            `json:"sender"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// =============================================================================
// ENTITIES
// =============================================================================

// EntityType classifies an extracted span.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntityDate         EntityType = "date"
	EntityAmount       EntityType = "amount"
	EntityLocation     EntityType = "location"
	EntityDeadline     EntityType = "deadline"
	EntityTopic        EntityType = "topic"
)

// Entity is a typed span extracted from event text. Entities accumulate
// across passes: later passes may discover ones the blind pass missed.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	StartIdx   int        `json:"start_idx,omitempty"`
	EndIdx     int        `json:"end_idx,omitempty"`
}

// EntityNames returns the distinct entity values, preserving order.
func EntityNames(entities []Entity) []string {
	seen := make(map[string]bool, len(entities))
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		if seen[e.Value] {
			continue
		}
		seen[e.Value] = true
		names = append(names, e.Value)
	}
	return names
}

// =============================================================================
// CONTEXT BUNDLE
// =============================================================================

// RelatedNote is a knowledge-store note relevant to the current event.
type RelatedNote struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Excerpt   string  `json:"excerpt"`
	Relevance float64 `json:"relevance"`
}

// RelatedCalendarEvent is a calendar entry near or referencing the event.
type RelatedCalendarEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

// RelatedTask is an open task touching the same entities.
type RelatedTask struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Due     *time.Time `json:"due,omitempty"`
	Project string     `json:"project,omitempty"`
}

// RelatedMessage is a prior message from the same thread or sender.
type RelatedMessage struct {
	ID      string    `json:"id"`
	Sender  string    `json:"sender"`
	Subject string    `json:"subject"`
	Excerpt string    `json:"excerpt"`
	SentAt  time.Time `json:"sent_at"`
}

// ContextConflict flags contradictory or overlapping knowledge found
// during context search (scheduling overlap, contradictory facts).
type ContextConflict struct {
	Kind        string `json:"kind"` // schedule_overlap | contradictory_fact
	Description string `json:"description"`
	SourceA     string `json:"source_a"`
	SourceB     string `json:"source_b"`
}

// ContextBundle is the bounded, ranked output of one context search.
// Rebuilt fresh on every search call; the knowledge store owns
// persistence, the engine never writes through it.
type ContextBundle struct {
	Notes     []RelatedNote          `json:"notes"`
	Calendar  []RelatedCalendarEvent `json:"calendar"`
	Tasks     []RelatedTask          `json:"tasks"`
	Messages  []RelatedMessage       `json:"messages"`
	Conflicts []ContextConflict      `json:"conflicts"`
}

// IsEmpty reports whether the bundle carries no context at all.
func (b *ContextBundle) IsEmpty() bool {
	return len(b.Notes) == 0 && len(b.Calendar) == 0 &&
		len(b.Tasks) == 0 && len(b.Messages) == 0
}

// HasConflict reports whether any conflict was detected.
func (b *ContextBundle) HasConflict() bool {
	return len(b.Conflicts) > 0
}

// Merge folds another bundle into this one, deduplicating by ID. Used
// when a pass discovers new entities and a follow-up search expands the
// context for the next pass.
func (b *ContextBundle) Merge(other *ContextBundle) {
	if other == nil {
		return
	}
	seenNotes := make(map[string]bool, len(b.Notes))
	for _, n := range b.Notes {
		seenNotes[n.ID] = true
	}
	for _, n := range other.Notes {
		if !seenNotes[n.ID] {
			b.Notes = append(b.Notes, n)
		}
	}
	seenCal := make(map[string]bool, len(b.Calendar))
	for _, c := range b.Calendar {
		seenCal[c.ID] = true
	}
	for _, c := range other.Calendar {
		if !seenCal[c.ID] {
			b.Calendar = append(b.Calendar, c)
		}
	}
	seenTasks := make(map[string]bool, len(b.Tasks))
	for _, t := range b.Tasks {
		seenTasks[t.ID] = true
	}
	for _, t := range other.Tasks {
		if !seenTasks[t.ID] {
			b.Tasks = append(b.Tasks, t)
		}
	}
	seenMsgs := make(map[string]bool, len(b.Messages))
	for _, m := range b.Messages {
		seenMsgs[m.ID] = true
	}
	for _, m := range other.Messages {
		if !seenMsgs[m.ID] {
			b.Messages = append(b.Messages, m)
		}
	}
	b.Conflicts = append(b.Conflicts, other.Conflicts...)
}

// =============================================================================
// EXTRACTIONS
// =============================================================================

// ExtractionType is the closed set of information kinds the engine can
// pull out of an event. The set is authoritative: LLM responses with
// unknown types are coerced to ExtractFact during parsing.
type ExtractionType string

const (
	ExtractDecision   ExtractionType = "decision"
	ExtractEngagement ExtractionType = "engagement"
	ExtractFact       ExtractionType = "fact"
	ExtractDeadline   ExtractionType = "deadline"
	ExtractRelation   ExtractionType = "relation"
	ExtractAmount     ExtractionType = "amount"
	ExtractReference  ExtractionType = "reference"
	ExtractRequest    ExtractionType = "request"
	ExtractQuote      ExtractionType = "quote"
	ExtractObjective  ExtractionType = "objective"
	ExtractSkill      ExtractionType = "skill"
	ExtractPreference ExtractionType = "preference"
)

// KnownExtractionTypes lists every valid extraction type.
var KnownExtractionTypes = []ExtractionType{
	ExtractDecision, ExtractEngagement, ExtractFact, ExtractDeadline,
	ExtractRelation, ExtractAmount, ExtractReference, ExtractRequest,
	ExtractQuote, ExtractObjective, ExtractSkill, ExtractPreference,
}

// IsValid reports whether t is a member of the closed set.
func (t ExtractionType) IsValid() bool {
	for _, k := range KnownExtractionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Importance grades how much an extraction matters.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// NoteAction says how an extraction should be applied to the store.
type NoteAction string

const (
	NoteEnrich NoteAction = "enrich"
	NoteCreate NoteAction = "create"
)

// Extraction is one piece of information pulled from an event. The
// engine only proposes extractions; external enrichment applies them.
type Extraction struct {
	Description  string         `json:"description"`
	Type         ExtractionType `json:"type"`
	Importance   Importance     `json:"importance"`
	NoteTitle    string         `json:"note_title"`
	NoteAction   NoteAction     `json:"note_action"`
	CreateTask   bool           `json:"create_task,omitempty"`
	CreateEvent  bool           `json:"create_event,omitempty"`
	Date         string         `json:"date,omitempty"`     // YYYY-MM-DD
	Time         string         `json:"time,omitempty"`     // HH:MM
	Timezone     string         `json:"timezone,omitempty"` // IANA name
	DurationMins int            `json:"duration_mins,omitempty"`
	Amount       float64        `json:"amount,omitempty"`
}

// =============================================================================
// CONFIDENCE
// =============================================================================

// DecomposedConfidence scores four independent dimensions. Decisions are
// gated on the weakest dimension, not an average: a pass that nailed the
// action but missed half the entities is not trustworthy.
type DecomposedConfidence struct {
	EntityID     float64 `json:"entity_identification"`
	Action       float64 `json:"action_correctness"`
	Extraction   float64 `json:"extraction_completeness"`
	Completeness float64 `json:"overall_completeness"`
}

// Overall returns the conjunctive (minimum) combination of dimensions.
func (c DecomposedConfidence) Overall() float64 {
	m := c.EntityID
	if c.Action < m {
		m = c.Action
	}
	if c.Extraction < m {
		m = c.Extraction
	}
	if c.Completeness < m {
		m = c.Completeness
	}
	return m
}

// Clamp forces all dimensions into [0,1].
func (c *DecomposedConfidence) Clamp() {
	clamp := func(v *float64) {
		if *v < 0 {
			*v = 0
		}
		if *v > 1 {
			*v = 1
		}
	}
	clamp(&c.EntityID)
	clamp(&c.Action)
	clamp(&c.Extraction)
	clamp(&c.Completeness)
}

// Weakest names the lowest-scoring dimension, used when composing a
// clarification question for manual review.
func (c DecomposedConfidence) Weakest() string {
	name, min := "entity_identification", c.EntityID
	if c.Action < min {
		name, min = "action_correctness", c.Action
	}
	if c.Extraction < min {
		name, min = "extraction_completeness", c.Extraction
	}
	if c.Completeness < min {
		name = "overall_completeness"
	}
	return name
}

// =============================================================================
// PASS RESULTS
// =============================================================================

// PassType identifies which prompt/strategy a pass used.
type PassType string

const (
	PassBlindExtraction      PassType = "blind-extraction"
	PassContextualRefinement PassType = "contextual-refinement"
	PassDeepReasoning        PassType = "deep-reasoning"
)

// Tier is a cost/capability class of LLM backend.
type Tier string

const (
	TierBaseline Tier = "baseline"
	TierMid      Tier = "mid"
	TierTop      Tier = "top"
)

// EventAction is the recommended disposition for an event.
type EventAction string

const (
	ActionArchive EventAction = "archive"
	ActionFlag    EventAction = "flag"
	ActionQueue   EventAction = "queue"
	ActionDelete  EventAction = "delete"
	ActionNoOp    EventAction = "no-op"
)

// IsSimple reports whether the action is low-stakes enough for the
// early-stop shortcut (archiving or doing nothing is cheap to get wrong).
func (a EventAction) IsSimple() bool {
	return a == ActionArchive || a == ActionNoOp
}

// Usage accounts tokens and estimated spend for one LLM call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Add accumulates another usage record.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
}

// TotalTokens returns prompt plus completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// PassResult is the atomic unit of the convergence loop: one LLM call
// plus its parsed structured output. Immutable once produced; the
// controller appends it to the ordered pass history.
type PassResult struct {
	PassNumber    int                  `json:"pass_number"` // 1-based
	Type          PassType             `json:"pass_type"`
	Model         Tier                 `json:"model_used"`
	Extractions   []Extraction         `json:"extractions"`
	Action        EventAction          `json:"action"`
	Confidence    DecomposedConfidence `json:"confidence"`
	NewEntities   []string             `json:"new_entities,omitempty"`
	ChangesMade   []string             `json:"changes_made,omitempty"`
	Reasoning     string               `json:"reasoning,omitempty"`
	Usage         Usage                `json:"usage"`
	Duration      time.Duration        `json:"duration_ns"`
	Failed        bool                 `json:"failed,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
}

// =============================================================================
// FINAL RESULT
// =============================================================================

// StopReason records why the convergence loop terminated.
type StopReason string

const (
	StopConfidenceThreshold StopReason = "confidence_threshold"
	StopNoChanges           StopReason = "no_changes"
	StopStableEntities      StopReason = "acceptable_with_stable_entities"
	StopSimpleAction        StopReason = "simple_action"
	StopMaxPasses           StopReason = "max_passes"
	StopDeadline            StopReason = "deadline_exceeded"
	StopSenderPattern       StopReason = "sender_pattern"
)

// NoteLink is a detected relation between two notes, proposed for the
// knowledge graph.
type NoteLink struct {
	FromTitle string `json:"from_title"`
	ToTitle   string `json:"to_title"`
	Relation  string `json:"relation"`
}

// EscalationStep records one tier-selection decision for observability.
type EscalationStep struct {
	PassNumber int    `json:"pass_number"`
	Tier       Tier   `json:"tier"`
	Reason     string `json:"reason"`
}

// AnalysisResult is the final aggregate for one event. Constructed once
// at loop termination; ownership transfers to the caller, which is
// responsible for persistence. Every PassResult is preserved verbatim
// for audit, even when superseded.
type AnalysisResult struct {
	AnalysisID         string               `json:"analysis_id"`
	EventID            string               `json:"event_id"`
	Extractions        []Extraction         `json:"extractions"`
	Links              []NoteLink           `json:"links,omitempty"`
	Action             EventAction          `json:"action"`
	Confidence         DecomposedConfidence `json:"confidence"`
	Rationale          string               `json:"rationale"`
	Summary            string               `json:"summary"`
	StopReason         StopReason           `json:"stop_reason"`
	NeedsClarification bool                 `json:"needs_clarification"`
	Clarification      string               `json:"clarification,omitempty"`
	PassHistory        []PassResult         `json:"pass_history"`
	Escalations        []EscalationStep     `json:"escalations,omitempty"`
	TotalUsage         Usage                `json:"total_usage"`
	TotalDuration      time.Duration        `json:"total_duration_ns"`
}
