package store

import (
	"context"
	"encoding/json"
	"fmt"

	"noema/internal/types"
)

// =============================================================================
// ANALYSIS AUDIT LOG
// =============================================================================

// SaveAnalysis persists a completed AnalysisResult, full pass history
// included, for audit. The engine never calls this; the pipeline does,
// after ownership of the result has transferred to it.
func (s *LocalStore) SaveAnalysis(ctx context.Context, result *types.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis %s: %w", result.AnalysisID, err)
	}

	needsClarification := 0
	if result.NeedsClarification {
		needsClarification = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analyses
			(analysis_id, event_id, action, confidence, stop_reason, needs_clarification, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.AnalysisID, result.EventID, string(result.Action),
		result.Confidence.Overall(), string(result.StopReason),
		needsClarification, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save analysis %s: %w", result.AnalysisID, err)
	}
	return nil
}

// GetAnalysis loads a persisted AnalysisResult by id.
func (s *LocalStore) GetAnalysis(ctx context.Context, analysisID string) (*types.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT result_json FROM analyses WHERE analysis_id = ?", analysisID).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", analysisID, err)
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis %s: %w", analysisID, err)
	}
	return &result, nil
}

// PendingClarifications lists analyses waiting for manual review.
func (s *LocalStore) PendingClarifications(ctx context.Context, limit int) ([]*types.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_json FROM analyses
		WHERE needs_clarification = 1 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list clarifications: %w", err)
	}
	defer rows.Close()

	var results []*types.AnalysisResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r types.AnalysisResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
