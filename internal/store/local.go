// Package store implements the local knowledge base on SQLite: notes,
// calendar events, tasks, prior messages, sender patterns, and the
// per-event analysis audit log. The convergence engine reads from it
// through the search service and never writes; only enrichment (applied
// by the pipeline after analysis) and the audit log mutate it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// LocalStore is the SQLite-backed knowledge base.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// NewLocalStore initializes the SQLite database at the given path.
// Pass ":memory:" for an ephemeral store.
func NewLocalStore(path string, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set synchronous=NORMAL", zap.Error(err))
	}

	s := &LocalStore{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("local store ready", zap.String("path", path))
	return s, nil
}

// initialize creates the schema.
func (s *LocalStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL UNIQUE,
			body TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notes_title ON notes(title);`,

		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			location TEXT DEFAULT '',
			attendees TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_calendar_start ON calendar_events(start_at);`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			project TEXT DEFAULT '',
			due_at DATETIME,
			done INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_at);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			subject TEXT DEFAULT '',
			body TEXT DEFAULT '',
			sent_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
		CREATE INDEX IF NOT EXISTS idx_messages_sent ON messages(sent_at);`,

		`CREATE TABLE IF NOT EXISTS sender_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence REAL NOT NULL,
			success_rate REAL NOT NULL DEFAULT 0,
			occurrences INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(sender, action)
		);
		CREATE INDEX IF NOT EXISTS idx_patterns_sender ON sender_patterns(sender);`,

		`CREATE TABLE IF NOT EXISTS analyses (
			analysis_id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence REAL NOT NULL,
			stop_reason TEXT NOT NULL,
			needs_clarification INTEGER NOT NULL DEFAULT 0,
			result_json TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_analyses_event ON analyses(event_id);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Stats returns row counts per table, mainly for tests and the CLI.
func (s *LocalStore) Stats() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, table := range []string{"notes", "calendar_events", "tasks", "messages", "sender_patterns", "analyses"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
