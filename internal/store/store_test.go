package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"noema/internal/types"
)

func testStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:", zap.NewNop())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewLocalStoreSchema(t *testing.T) {
	s := testStore(t)

	stats, err := s.Stats()
	require.NoError(t, err)
	for _, table := range []string{"notes", "calendar_events", "tasks", "messages", "sender_patterns", "analyses"} {
		assert.Contains(t, stats, table)
	}
}

func TestPutNoteUpsertsByTitle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id1, err := s.PutNote(ctx, "Acme Corp", "Key vendor since 2024.")
	require.NoError(t, err)
	id2, err := s.PutNote(ctx, "Acme Corp", "Key vendor since 2024. Renewal due in March.")
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "upsert must keep the original id")

	note, err := s.GetNoteByTitle(ctx, "Acme Corp")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Key vendor since 2024. Renewal due in March.", note.Body)
	assert.Equal(t, id1, note.ID, "returned id must match the stored row")

	missing, err := s.GetNoteByTitle(ctx, "No Such Note")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSearchNotesRanking(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.PutNote(ctx, "Acme Corp", "Vendor. Invoices arrive monthly.")
	require.NoError(t, err)
	_, err = s.PutNote(ctx, "Gardening", "Tomatoes need water.")
	require.NoError(t, err)
	_, err = s.PutNote(ctx, "Acme invoices", "Acme invoice archive and payment history.")
	require.NoError(t, err)

	results, err := s.SearchNotes(ctx, "Acme invoice payment", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// The note hitting all three keywords outranks the partial match.
	assert.Equal(t, "Acme invoices", results[0].Title)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)

	none, err := s.SearchNotes(ctx, "", 5)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSearchCalendarWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	soon := types.RelatedCalendarEvent{ID: "c1", Title: "Kickoff with Acme", Start: now.Add(24 * time.Hour), End: now.Add(25 * time.Hour)}
	farOff := types.RelatedCalendarEvent{ID: "c2", Title: "Acme renewal", Start: now.Add(60 * 24 * time.Hour), End: now.Add(60*24*time.Hour + time.Hour)}
	require.NoError(t, s.PutCalendarEvent(ctx, soon, []string{"dana@client.com"}))
	require.NoError(t, s.PutCalendarEvent(ctx, farOff, nil))

	results, err := s.SearchCalendar(ctx, "Acme", 14*24*time.Hour, 8)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
}

func TestSearchTasksSkipsNonMatching(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	due := time.Now().Add(72 * time.Hour)
	require.NoError(t, s.PutTask(ctx, types.RelatedTask{Title: "Review Acme contract", Project: "vendors", Due: &due}))
	require.NoError(t, s.PutTask(ctx, types.RelatedTask{Title: "Water tomatoes"}))

	results, err := s.SearchTasks(ctx, "Acme contract", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Review Acme contract", results[0].Title)
	assert.NotNil(t, results[0].Due, "due date lost")
}

func TestSearchMessagesBySenderOrKeyword(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutMessage(ctx, "m1", "dana@client.com", "kickoff", "see you Thursday", now.Add(-time.Hour)))
	require.NoError(t, s.PutMessage(ctx, "m2", "noreply@shop.example", "receipt", "your order shipped", now.Add(-2*time.Hour)))

	bySender, err := s.SearchMessages(ctx, "DANA@client.com", "", 4)
	require.NoError(t, err)
	require.Len(t, bySender, 1)
	assert.Equal(t, "m1", bySender[0].ID)

	byKeyword, err := s.SearchMessages(ctx, "", "order shipped", 4)
	require.NoError(t, err)
	require.Len(t, byKeyword, 1)
	assert.Equal(t, "m2", byKeyword[0].ID)
}

func TestPatternLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, s.RecordOutcome(ctx, "news@digest.example.com", types.ActionArchive, 0.97, true))
	}

	patterns, err := s.GetApplicablePatterns(ctx, "news@digest.example.com")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, 6, p.Occurrences)
	assert.True(t, p.Strong(), "pattern not strong after 6 consistent outcomes: %+v", p)

	// A failure drags the success rate down.
	require.NoError(t, s.RecordOutcome(ctx, "news@digest.example.com", types.ActionArchive, 0.97, false))
	patterns, err = s.GetApplicablePatterns(ctx, "news@digest.example.com")
	require.NoError(t, err)
	assert.Less(t, patterns[0].SuccessRate, 1.0, "success rate unaffected by failure")
}

func TestPatternBelowBarNotStrong(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordOutcome(ctx, "dana@client.com", types.ActionQueue, 0.96, true))
	}
	patterns, err := s.GetApplicablePatterns(ctx, "dana@client.com")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.False(t, patterns[0].Strong(), "3 occurrences must not qualify: %+v", patterns[0])
}

func TestAnalysisAuditRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	result := &types.AnalysisResult{
		AnalysisID: "a1",
		EventID:    "evt-1",
		Action:     types.ActionQueue,
		Confidence: types.DecomposedConfidence{EntityID: 0.9, Action: 0.9, Extraction: 0.9, Completeness: 0.9},
		StopReason: types.StopConfidenceThreshold,
		PassHistory: []types.PassResult{
			{PassNumber: 1, Type: types.PassBlindExtraction, Model: types.TierBaseline},
		},
	}
	require.NoError(t, s.SaveAnalysis(ctx, result))

	loaded, err := s.GetAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", loaded.EventID)
	assert.Len(t, loaded.PassHistory, 1)
}

func TestPendingClarifications(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	done := &types.AnalysisResult{AnalysisID: "a1", EventID: "e1", StopReason: types.StopConfidenceThreshold}
	stuck := &types.AnalysisResult{
		AnalysisID:         "a2",
		EventID:            "e2",
		StopReason:         types.StopMaxPasses,
		NeedsClarification: true,
		Clarification:      "Who is this about?",
	}
	require.NoError(t, s.SaveAnalysis(ctx, done))
	require.NoError(t, s.SaveAnalysis(ctx, stuck))

	pending, err := s.PendingClarifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].AnalysisID)
}
