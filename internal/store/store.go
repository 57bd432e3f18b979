// ABOUTME: Store interface and data types for research session persistence
// ABOUTME: Defines Session, ResearchTask, ResearchSummary and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session does not exist
var ErrNotFound = errors.New("session not found")

// Stage names for the research workflow state machine.
const (
	StageInitializing     = "initializing"
	StageClarifying       = "clarifying"
	StageBriefComplete    = "brief_complete"
	StageResearchPlanned  = "research_planned"
	StageResearching      = "researching"
	StageResearchComplete = "research_complete"
	StageCompleted        = "completed"
	StageError            = "error"
)

// ProgressKind constants for progress event types
const (
	ProgressThinking     = "thinking"
	ProgressSearching    = "searching"
	ProgressAnalyzing    = "analyzing"
	ProgressWriting      = "writing"
	ProgressSynthesizing = "synthesizing"
	ProgressValidating   = "validating"
	ProgressFormatting   = "formatting"
)

// ResearchTask is one planner-generated sub-question with its scope description
type ResearchTask struct {
	Question    string `json:"question"`
	Description string `json:"description"`
}

// ResearchSummary is the synthesized result of one completed task
type ResearchSummary struct {
	Question    string   `json:"question"`
	Summary     string   `json:"summary"`
	KeyExcerpts []string `json:"key_excerpts,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// SearchResult is one ranked web search hit, kept on the session for live observers
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// ProgressEvent is an observational notification describing what the engine
// is currently doing. It never drives control flow.
type ProgressEvent struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	Details      string    `json:"details,omitempty"`
	CurrentItem  int       `json:"current_item,omitempty"`
	TotalItems   int       `json:"total_items,omitempty"`
	Preview      string    `json:"preview,omitempty"`
	SourcesFound int       `json:"sources_found,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Stage        string    `json:"stage"`
	Progress     int       `json:"progress"`
	Timestamp    time.Time `json:"timestamp"`
}

// Session is the unit of work and persistence for one research run.
//
// ClarifiedGoal, Brief and FinalReport are populated progressively and never
// cleared once set. LiveSearchResults, LiveThoughts and DraftPreview are
// ephemeral fields overwritten for real-time observers.
type Session struct {
	ID               string            `json:"session_id"`
	ResearchQuestion string            `json:"research_question"`
	ClarifiedGoal    string            `json:"clarified_goal,omitempty"`
	Brief            string            `json:"brief,omitempty"`
	FinalReport      string            `json:"final_report,omitempty"`
	Language         string            `json:"language"`
	Stage            string            `json:"stage"`
	Progress         int               `json:"progress"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	StorageWarning   string            `json:"storage_warning,omitempty"`
	MaxResearchers   int               `json:"max_researchers"`
	Tasks            []ResearchTask    `json:"tasks,omitempty"`
	Summaries        []ResearchSummary `json:"summaries,omitempty"`
	ProgressLog      []ProgressEvent   `json:"progress_log,omitempty"`

	LiveSearchResults []SearchResult `json:"live_search_results,omitempty"`
	LiveThoughts      string         `json:"live_thoughts,omitempty"`
	DraftPreview      string         `json:"draft_preview,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// SessionSummary is the lightweight listing view of a session
type SessionSummary struct {
	ID               string    `json:"session_id"`
	ResearchQuestion string    `json:"research_question"`
	Stage            string    `json:"stage"`
	Progress         int       `json:"progress"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Store defines the interface for session persistence.
// Implementations must tolerate concurrent SaveSession/GetSession calls for
// different session IDs; the caller guarantees single-writer access per ID.
type Store interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]*SessionSummary, error)
	DeleteSessionsOlderThan(ctx context.Context, age time.Duration) (int, error)

	// Close releases any resources held by the store
	Close() error
}
