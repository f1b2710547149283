package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"noema/internal/types"
)

// =============================================================================
// NOTES
// =============================================================================

// Note is a stored knowledge-base document.
type Note struct {
	ID        string
	Title     string
	Body      string
	UpdatedAt time.Time
}

// PutNote inserts or updates a note by title. The update branch keeps
// the row's original id, so the stored id is read back rather than
// assumed.
func (s *LocalStore) PutNote(ctx context.Context, title, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, title, body, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(title) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		uuid.NewString(), title, body).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to put note %q: %w", title, err)
	}
	return id, nil
}

// GetNoteByTitle fetches a single note, or nil when absent.
func (s *LocalStore) GetNoteByTitle(ctx context.Context, title string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n Note
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, body, updated_at FROM notes WHERE title = ?", title).
		Scan(&n.ID, &n.Title, &n.Body, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %q: %w", title, err)
	}
	return &n, nil
}

// SearchNotes ranks notes against the query by keyword overlap. Scoring
// is keyword-count based, which keeps a search call cheap enough to run
// once per pass.
func (s *LocalStore) SearchNotes(ctx context.Context, query string, topK int) ([]types.RelatedNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keywords := tokenize(query)
	if len(keywords) == 0 || topK <= 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(keywords))
	args := make([]interface{}, 0, len(keywords)*2)
	for _, kw := range keywords {
		conditions = append(conditions, "(LOWER(title) LIKE ? OR LOWER(body) LIKE ?)")
		like := "%" + kw + "%"
		args = append(args, like, like)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, body FROM notes WHERE "+strings.Join(conditions, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	var results []types.RelatedNote
	for rows.Next() {
		var id, title, body string
		if err := rows.Scan(&id, &title, &body); err != nil {
			return nil, err
		}
		score := keywordScore(title+" "+body, keywords)
		if score == 0 {
			continue
		}
		results = append(results, types.RelatedNote{
			ID:        id,
			Title:     title,
			Excerpt:   excerpt(body, 240),
			Relevance: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// =============================================================================
// CALENDAR / TASKS / MESSAGES
// =============================================================================

// PutCalendarEvent stores a calendar entry.
func (s *LocalStore) PutCalendarEvent(ctx context.Context, ev types.RelatedCalendarEvent, attendees []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calendar_events (id, title, start_at, end_at, location, attendees)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Start, ev.End, ev.Location, strings.Join(attendees, ","))
	if err != nil {
		return fmt.Errorf("failed to put calendar event: %w", err)
	}
	return nil
}

// SearchCalendar returns events matching the query terms or falling
// inside the window around now, most recent first.
func (s *LocalStore) SearchCalendar(ctx context.Context, query string, window time.Duration, topK int) ([]types.RelatedCalendarEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, start_at, end_at, location, attendees FROM calendar_events
		WHERE start_at BETWEEN ? AND ? ORDER BY start_at ASC`,
		now.Add(-window), now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to search calendar: %w", err)
	}
	defer rows.Close()

	keywords := tokenize(query)
	var results []types.RelatedCalendarEvent
	for rows.Next() {
		var ev types.RelatedCalendarEvent
		var attendees string
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Start, &ev.End, &ev.Location, &attendees); err != nil {
			return nil, err
		}
		if len(keywords) > 0 && keywordScore(ev.Title+" "+attendees, keywords) == 0 {
			continue
		}
		results = append(results, ev)
		if len(results) >= topK {
			break
		}
	}
	return results, rows.Err()
}

// PutTask stores a task.
func (s *LocalStore) PutTask(ctx context.Context, t types.RelatedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (id, title, project, due_at, done) VALUES (?, ?, ?, ?, 0)`,
		t.ID, t.Title, t.Project, t.Due)
	if err != nil {
		return fmt.Errorf("failed to put task: %w", err)
	}
	return nil
}

// SearchTasks returns open tasks matching the query terms.
func (s *LocalStore) SearchTasks(ctx context.Context, query string, topK int) ([]types.RelatedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, project, due_at FROM tasks WHERE done = 0 ORDER BY due_at IS NULL, due_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to search tasks: %w", err)
	}
	defer rows.Close()

	keywords := tokenize(query)
	var results []types.RelatedTask
	for rows.Next() {
		var t types.RelatedTask
		var due sql.NullTime
		if err := rows.Scan(&t.ID, &t.Title, &t.Project, &due); err != nil {
			return nil, err
		}
		if due.Valid {
			t.Due = &due.Time
		}
		if len(keywords) > 0 && keywordScore(t.Title+" "+t.Project, keywords) == 0 {
			continue
		}
		results = append(results, t)
		if len(results) >= topK {
			break
		}
	}
	return results, rows.Err()
}

// PutMessage stores a prior message for thread context.
func (s *LocalStore) PutMessage(ctx context.Context, id, sender, subject, body string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, sender, subject, body, sent_at) VALUES (?, ?, ?, ?, ?)`,
		id, sender, subject, body, sentAt)
	if err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}
	return nil
}

// SearchMessages returns the most recent messages from the given sender
// or matching the query.
func (s *LocalStore) SearchMessages(ctx context.Context, sender, query string, topK int) ([]types.RelatedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sender, subject, body, sent_at FROM messages ORDER BY sent_at DESC LIMIT 200")
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	keywords := tokenize(query)
	var results []types.RelatedMessage
	for rows.Next() {
		var m types.RelatedMessage
		var body string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Subject, &body, &m.SentAt); err != nil {
			return nil, err
		}
		fromSender := sender != "" && strings.EqualFold(m.Sender, sender)
		if !fromSender && (len(keywords) == 0 || keywordScore(m.Subject+" "+body, keywords) == 0) {
			continue
		}
		m.Excerpt = excerpt(body, 200)
		results = append(results, m)
		if len(results) >= topK {
			break
		}
	}
	return results, rows.Err()
}

// =============================================================================
// RANKING HELPERS
// =============================================================================

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "are": true, "you": true, "your": true,
	"have": true, "will": true, "not": true, "can": true,
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func keywordScore(text string, keywords []string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return float64(hits) / float64(len(keywords))
}

func excerpt(body string, max int) string {
	body = strings.TrimSpace(strings.ReplaceAll(body, "\n", " "))
	if len(body) <= max {
		return body
	}
	return body[:max] + "..."
}
