package store

import (
	"context"
	"fmt"

	"noema/internal/types"
)

// =============================================================================
// SENDER PATTERNS (FAST PATH)
// =============================================================================
//
// The pattern store backs the pipeline's fast path: when a sender has a
// strong enough history, the pipeline may apply the learned action
// directly and skip the convergence engine. Skipping is the pipeline's
// decision; the engine itself never consults patterns.

// Pattern is a learned sender-to-action association.
type Pattern struct {
	Sender      string
	Action      types.EventAction
	Confidence  float64
	SuccessRate float64
	Occurrences int
}

// Strong reports whether the pattern clears the fast-path bar.
func (p Pattern) Strong() bool {
	return p.Confidence >= 0.95 && p.SuccessRate >= 0.90 && p.Occurrences >= 5
}

// GetApplicablePatterns returns the patterns recorded for a sender,
// strongest first.
func (s *LocalStore) GetApplicablePatterns(ctx context.Context, sender string) ([]Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sender, action, confidence, success_rate, occurrences
		FROM sender_patterns WHERE sender = ? ORDER BY confidence DESC`, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns for %q: %w", sender, err)
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		var p Pattern
		var action string
		if err := rows.Scan(&p.Sender, &action, &p.Confidence, &p.SuccessRate, &p.Occurrences); err != nil {
			return nil, err
		}
		p.Action = types.EventAction(action)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// RecordOutcome updates the pattern for a sender/action pair after an
// analysis was applied. success feeds the running success rate.
func (s *LocalStore) RecordOutcome(ctx context.Context, sender string, action types.EventAction, confidence float64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successVal := 0.0
	if success {
		successVal = 1.0
	}

	// Running averages updated in SQL so concurrent writers stay
	// consistent under the single-connection store.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sender_patterns (sender, action, confidence, success_rate, occurrences, updated_at)
		VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(sender, action) DO UPDATE SET
			occurrences = occurrences + 1,
			confidence = (confidence * occurrences + excluded.confidence) / (occurrences + 1),
			success_rate = (success_rate * occurrences + ?) / (occurrences + 1),
			updated_at = CURRENT_TIMESTAMP`,
		sender, string(action), confidence, successVal, successVal)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %q: %w", sender, err)
	}
	return nil
}
