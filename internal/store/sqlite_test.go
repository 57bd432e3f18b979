// ABOUTME: Tests for SQLite session store implementation
// ABOUTME: Covers session round-trip, listing order, deletion, and age-based eviction

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSaveAndGetSession_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	session := NewSession("effects of caffeine on sleep", "en", 3)
	session.ClarifiedGoal = "caffeine and sleep quality"
	session.Brief = "a brief"
	session.Stage = StageResearching
	session.Progress = 55
	session.Tasks = []ResearchTask{
		{Question: "half-life of caffeine", Description: "pharmacokinetics"},
		{Question: "sleep architecture effects", Description: "REM and deep sleep"},
	}
	session.Summaries = []ResearchSummary{
		{
			Question:    "half-life of caffeine",
			Summary:     "roughly 5 hours",
			KeyExcerpts: []string{"plasma half-life of 5 hours"},
			Sources:     []string{"https://example.org/caffeine"},
		},
	}
	session.ProgressLog = []ProgressEvent{
		{ID: "evt-1", Kind: ProgressSearching, Message: "searching", Stage: StageResearching, Progress: 50, Timestamp: time.Now().UTC().Truncate(time.Second)},
	}
	session.LiveThoughts = "analyzing sources"
	session.DraftPreview = "partial draft"

	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if got.ResearchQuestion != session.ResearchQuestion {
		t.Errorf("research question mismatch: got %q", got.ResearchQuestion)
	}
	if got.ClarifiedGoal != session.ClarifiedGoal {
		t.Errorf("clarified goal mismatch: got %q", got.ClarifiedGoal)
	}
	if got.Stage != StageResearching || got.Progress != 55 {
		t.Errorf("stage/progress mismatch: got %s/%d", got.Stage, got.Progress)
	}
	if len(got.Tasks) != 2 || len(got.Summaries) != 1 {
		t.Errorf("tasks/summaries mismatch: got %d/%d", len(got.Tasks), len(got.Summaries))
	}
	if got.Summaries[0].Sources[0] != "https://example.org/caffeine" {
		t.Errorf("summary sources mismatch: got %v", got.Summaries[0].Sources)
	}
	if len(got.ProgressLog) != 1 || got.ProgressLog[0].Kind != ProgressSearching {
		t.Errorf("progress log mismatch: got %+v", got.ProgressLog)
	}
	if !got.ProgressLog[0].Timestamp.Equal(session.ProgressLog[0].Timestamp) {
		t.Errorf("progress timestamp did not round-trip: got %v want %v",
			got.ProgressLog[0].Timestamp, session.ProgressLog[0].Timestamp)
	}
	if !got.CreatedAt.Equal(session.CreatedAt.Truncate(time.Nanosecond)) && got.CreatedAt.Unix() != session.CreatedAt.Unix() {
		t.Errorf("created_at did not round-trip: got %v want %v", got.CreatedAt, session.CreatedAt)
	}
	if got.LiveThoughts != "analyzing sources" || got.DraftPreview != "partial draft" {
		t.Errorf("live fields mismatch: %q / %q", got.LiveThoughts, got.DraftPreview)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetSession(context.Background(), "no-such-session")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSession_ReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	session := NewSession("question", "en", 3)

	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	session.Stage = StageCompleted
	session.Progress = 100
	session.FinalReport = "the report"
	session.Touch()

	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Stage != StageCompleted || got.Progress != 100 || got.FinalReport != "the report" {
		t.Errorf("replacement not visible: %s/%d/%q", got.Stage, got.Progress, got.FinalReport)
	}
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	session := NewSession("question", "en", 3)
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := store.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := store.GetSession(ctx, session.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	if err := store.DeleteSession(context.Background(), "no-such-session"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessions_OrderedByRecency(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	// Insert three sessions with increasing last_updated
	var ids []string
	for i := 0; i < 3; i++ {
		session := NewSession(fmt.Sprintf("question %d", i), "en", 3)
		session.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		session.LastUpdated = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveSession(ctx, session); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
		ids = append(ids, session.ID)
	}

	summaries, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}

	if len(summaries) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(summaries))
	}

	// Most recently updated first
	if summaries[0].ID != ids[2] || summaries[2].ID != ids[0] {
		t.Errorf("sessions not ordered by recency: %v %v %v",
			summaries[0].ID, summaries[1].ID, summaries[2].ID)
	}
}

func TestListSessions_Empty(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	summaries, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected no sessions, got %d", len(summaries))
	}
}

func TestDeleteSessionsOlderThan(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	old := NewSession("old question", "en", 3)
	old.LastUpdated = time.Now().UTC().Add(-10 * 24 * time.Hour)
	if err := store.SaveSession(ctx, old); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	fresh := NewSession("fresh question", "en", 3)
	if err := store.SaveSession(ctx, fresh); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	removed, err := store.DeleteSessionsOlderThan(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteSessionsOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if _, err := store.GetSession(ctx, old.ID); err != ErrNotFound {
		t.Errorf("old session should be gone, got %v", err)
	}
	if _, err := store.GetSession(ctx, fresh.ID); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
}

func TestGetSession_MigratesMissingFields(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Simulate a record written by an older build: minimal JSON document.
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, research_question, stage, progress, language, state, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"legacy-1", "old question", "clarifying", 20, "en",
		`{"research_question":"old question","stage":"clarifying","progress":20,"unknown_field":true}`,
		now, now,
	)
	if err != nil {
		t.Fatalf("inserting legacy row: %v", err)
	}

	got, err := store.GetSession(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if got.ID != "legacy-1" {
		t.Errorf("session ID not restored from key: %q", got.ID)
	}
	if got.Language != "en" {
		t.Errorf("language should default to en, got %q", got.Language)
	}
	if got.MaxResearchers != DefaultMaxResearchers {
		t.Errorf("max researchers should default, got %d", got.MaxResearchers)
	}
}
