// ABOUTME: Session constructors and mutation helpers
// ABOUTME: NewSession is the single place where session defaults are set

package store

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxResearchers caps how many tasks the planner may produce.
const DefaultMaxResearchers = 5

// NewSession creates a session in its initial state. All optional fields are
// empty, the stage is "initializing" and progress is zero.
func NewSession(question, language string, maxResearchers int) *Session {
	if maxResearchers <= 0 || maxResearchers > DefaultMaxResearchers {
		maxResearchers = DefaultMaxResearchers
	}
	now := time.Now().UTC()
	return &Session{
		ID:               uuid.New().String(),
		ResearchQuestion: question,
		Language:         language,
		Stage:            StageInitializing,
		Progress:         0,
		MaxResearchers:   maxResearchers,
		CreatedAt:        now,
		LastUpdated:      now,
	}
}

// Touch updates the last-updated timestamp.
func (s *Session) Touch() {
	s.LastUpdated = time.Now().UTC()
}

// Terminal reports whether the session has reached a terminal stage.
func (s *Session) Terminal() bool {
	return s.Stage == StageCompleted || s.Stage == StageError
}

// Clone returns a deep copy of the session. Stage functions receive clones so
// the engine's copy is never mutated from under a concurrent status reader.
func (s *Session) Clone() *Session {
	c := *s
	c.Tasks = append([]ResearchTask(nil), s.Tasks...)
	c.Summaries = make([]ResearchSummary, len(s.Summaries))
	for i, sum := range s.Summaries {
		c.Summaries[i] = sum
		c.Summaries[i].KeyExcerpts = append([]string(nil), sum.KeyExcerpts...)
		c.Summaries[i].Sources = append([]string(nil), sum.Sources...)
	}
	c.ProgressLog = append([]ProgressEvent(nil), s.ProgressLog...)
	c.LiveSearchResults = append([]SearchResult(nil), s.LiveSearchResults...)
	return &c
}

// Summary returns the lightweight listing view of the session.
func (s *Session) Summary() *SessionSummary {
	return &SessionSummary{
		ID:               s.ID,
		ResearchQuestion: s.ResearchQuestion,
		Stage:            s.Stage,
		Progress:         s.Progress,
		CreatedAt:        s.CreatedAt,
		LastUpdated:      s.LastUpdated,
	}
}

// migrate fills defaults for fields that older persisted records may lack.
// Called only at load time so per-field existence checks stay out of the
// rest of the codebase.
func (s *Session) migrate() {
	if s.Stage == "" {
		s.Stage = StageInitializing
	}
	if s.Language == "" {
		s.Language = "en"
	}
	if s.MaxResearchers <= 0 {
		s.MaxResearchers = DefaultMaxResearchers
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.LastUpdated
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = s.CreatedAt
	}
}
