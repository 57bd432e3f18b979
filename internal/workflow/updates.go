// ABOUTME: Typed per-stage update records applied to session state
// ABOUTME: Each update names exactly the fields its stage may set

package workflow

import "github.com/2389/research-gateway/internal/store"

// stageUpdate is the tagged union of stage outputs. The engine is the only
// code that applies updates; stage functions return them and never mutate
// the session they were handed.
type stageUpdate interface {
	apply(s *store.Session)
}

// clarifyUpdate is produced by the clarifying stage.
type clarifyUpdate struct {
	language      string
	clarifiedGoal string
}

func (u clarifyUpdate) apply(s *store.Session) {
	if s.Language == "" || s.Language == "auto" {
		s.Language = u.language
	}
	s.ClarifiedGoal = u.clarifiedGoal
	s.Stage = store.StageClarifying
	s.Progress = 20
}

// briefUpdate is produced by the brief-writing stage.
type briefUpdate struct {
	brief string
}

func (u briefUpdate) apply(s *store.Session) {
	s.Brief = u.brief
	s.Stage = store.StageBriefComplete
	s.Progress = 40
}

// planUpdate is produced by the planning stage.
type planUpdate struct {
	tasks []store.ResearchTask
}

func (u planUpdate) apply(s *store.Session) {
	s.Tasks = u.tasks
	s.Stage = store.StageResearchPlanned
	s.Progress = 50
}

// taskUpdate is produced by one iteration of the research loop.
type taskUpdate struct {
	summary       store.ResearchSummary
	searchResults []store.SearchResult
	thoughts      string
	draft         string
}

func (u taskUpdate) apply(s *store.Session) {
	s.Summaries = append(s.Summaries, u.summary)
	s.LiveSearchResults = u.searchResults
	s.LiveThoughts = u.thoughts
	s.DraftPreview = u.draft
	s.Stage = store.StageResearching
	// Advances linearly from 50 to 80 across tasks
	if len(s.Tasks) > 0 {
		s.Progress = 50 + 25*len(s.Summaries)/len(s.Tasks)
	}
}

// researchCompleteUpdate marks the end of the per-task loop.
type researchCompleteUpdate struct{}

func (researchCompleteUpdate) apply(s *store.Session) {
	s.Stage = store.StageResearchComplete
	s.Progress = 80
}

// synthesisUpdate is produced by the synthesis stage.
type synthesisUpdate struct {
	report string
}

func (u synthesisUpdate) apply(s *store.Session) {
	s.FinalReport = u.report
	s.Stage = store.StageResearchComplete
	s.Progress = 90
}

// completeUpdate marks the terminal success state.
type completeUpdate struct{}

func (completeUpdate) apply(s *store.Session) {
	s.Stage = store.StageCompleted
	s.Progress = 100
}

// errorUpdate marks the terminal error state. Already-committed fields
// (brief, tasks, summaries) are left untouched.
type errorUpdate struct {
	message string
}

func (u errorUpdate) apply(s *store.Session) {
	s.ErrorMessage = u.message
	s.Stage = store.StageError
	s.Progress = 0
}
