// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists each session as one row with a JSON state document

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			research_question TEXT NOT NULL,
			stage             TEXT NOT NULL,
			progress          INTEGER NOT NULL DEFAULT 0,
			language          TEXT NOT NULL DEFAULT 'en',
			state             TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			last_updated      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_last_updated
			ON sessions(last_updated DESC);

		CREATE INDEX IF NOT EXISTS idx_sessions_stage
			ON sessions(stage);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveSession saves or replaces the full session record. The replacement is
// atomic: a concurrent reader sees either the previous or the new state,
// never a partial write.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	state, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	query := `
		INSERT INTO sessions (session_id, research_question, stage, progress, language, state, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stage = excluded.stage,
			progress = excluded.progress,
			language = excluded.language,
			state = excluded.state,
			last_updated = excluded.last_updated
	`

	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.ResearchQuestion,
		session.Stage,
		session.Progress,
		session.Language,
		string(state),
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.LastUpdated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("saved session", "id", session.ID, "stage", session.Stage, "progress", session.Progress)
	return nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist. Fields missing from the
// stored JSON document default rather than fail so old records stay loadable.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE session_id = ?`, id,
	).Scan(&state)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(state), &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session state: %w", err)
	}
	session.ID = id
	session.migrate()

	return &session, nil
}

// DeleteSession removes a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// ListSessions returns lightweight summaries of all sessions ordered by
// most-recently-updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*SessionSummary, error) {
	query := `
		SELECT session_id, research_question, stage, progress, created_at, last_updated
		FROM sessions
		ORDER BY last_updated DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var createdAtStr, lastUpdatedStr string

		if err := rows.Scan(&sum.ID, &sum.ResearchQuestion, &sum.Stage, &sum.Progress, &createdAtStr, &lastUpdatedStr); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}

		sum.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sum.LastUpdated, err = time.Parse(time.RFC3339, lastUpdatedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_updated: %w", err)
		}

		summaries = append(summaries, &sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return summaries, nil
}

// DeleteSessionsOlderThan removes sessions whose last update is older than
// the given age. Returns the number of sessions removed.
func (s *SQLiteStore) DeleteSessionsOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_updated < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evicting old sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking eviction result: %w", err)
	}

	if rows > 0 {
		s.logger.Info("evicted old sessions", "count", rows, "older_than", age)
	}
	return int(rows), nil
}
