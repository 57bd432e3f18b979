// ABOUTME: Stage transition functions for the research workflow
// ABOUTME: Each consumes a session snapshot and produces a typed partial update

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/research-gateway/internal/language"
	"github.com/2389/research-gateway/internal/llm"
	"github.com/2389/research-gateway/internal/prompts"
	"github.com/2389/research-gateway/internal/store"
)

const (
	// topResultsForContext bounds how many search hits feed the researcher prompt.
	topResultsForContext = 5
	// maxContentPerResult bounds how much of each hit's content enters the prompt.
	maxContentPerResult = 1000
	// draftRepublishChars is how many streamed characters accumulate between
	// in-progress draft republications.
	draftRepublishChars = 100
	// previewTail bounds the draft preview attached to progress events.
	previewTail = 500
)

// clarify detects the session language if unset and asks the generation
// gateway whether the question is well-formed. Without an interactive user
// channel, a clarification request degrades to proceeding with the original
// question; the degrade is logged rather than silently swallowed.
func (e *Engine) clarify(ctx context.Context, snap *store.Session) (stageUpdate, error) {
	lang := snap.Language
	if !language.Supported(lang) {
		lang = language.Detect(snap.ResearchQuestion)
		e.logger.Info("detected language", "session_id", snap.ID, "language", lang)
	}

	e.emit(snap, &store.ProgressEvent{
		Kind:    store.ProgressThinking,
		Message: "Analyzing the research question",
		Details: "Understanding intent and setting research direction",
	})

	prompt, err := prompts.Render(prompts.Clarify, lang, prompts.Data{Question: snap.ResearchQuestion})
	if err != nil {
		return nil, err
	}

	response, err := e.generate(ctx, prompt, llm.StageClarification)
	if err != nil {
		return nil, fmt.Errorf("clarification: %w", err)
	}

	if !strings.Contains(response, prompts.ProceedMarker) {
		// The model wants clarification but there is no interactive channel.
		// Proceed with the original question and say so.
		e.logger.Warn("clarification requested but no user channel available, proceeding with original question",
			"session_id", snap.ID)
		e.emit(snap, &store.ProgressEvent{
			Kind:    store.ProgressThinking,
			Message: "Proceeding with the original question",
			Details: "Clarification was suggested but no interactive channel exists",
		})
	}

	return clarifyUpdate{language: lang, clarifiedGoal: snap.ResearchQuestion}, nil
}

// writeBrief generates a structured research brief from the clarified goal.
func (e *Engine) writeBrief(ctx context.Context, snap *store.Session) (stageUpdate, error) {
	e.emit(snap, &store.ProgressEvent{
		Kind:    store.ProgressWriting,
		Message: "Writing the research brief",
		Details: "Defining scope, methodology, and expected deliverables",
	})

	prompt, err := prompts.Render(prompts.Brief, snap.Language, prompts.Data{Goal: snap.ClarifiedGoal})
	if err != nil {
		return nil, err
	}

	brief, err := e.generate(ctx, prompt, llm.StageBrief)
	if err != nil {
		return nil, fmt.Errorf("research brief: %w", err)
	}

	return briefUpdate{brief: brief}, nil
}

// taskSpec mirrors the JSON shape the planner prompt requests.
type taskSpec struct {
	ResearchQuestion string `json:"research_question"`
	Description      string `json:"description"`
}

// plan asks the generation gateway to decompose the brief into independent
// task specs. Parse failures recover locally: the whole brief becomes a
// single task and the run continues.
func (e *Engine) plan(ctx context.Context, snap *store.Session) (stageUpdate, error) {
	e.emit(snap, &store.ProgressEvent{
		Kind:    store.ProgressThinking,
		Message: "Planning research tasks",
		Details: "Decomposing the brief into independent sub-questions",
	})

	prompt, err := prompts.Render(prompts.Plan, snap.Language, prompts.Data{
		Brief:    snap.Brief,
		MaxTasks: snap.MaxResearchers,
	})
	if err != nil {
		return nil, err
	}

	response, err := e.generate(ctx, prompt, llm.StagePlanner)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	tasks, err := parseTaskList(response, snap.MaxResearchers)
	if err != nil {
		e.logger.Warn("failed to parse planner response, falling back to a single task",
			"session_id", snap.ID, "error", err)
		tasks = []store.ResearchTask{{
			Question:    snap.ClarifiedGoal,
			Description: "Comprehensive research on the given topic",
		}}
	}

	e.emit(snap, &store.ProgressEvent{
		Kind:       store.ProgressThinking,
		Message:    fmt.Sprintf("Planned %d research tasks", len(tasks)),
		TotalItems: len(tasks),
	})

	return planUpdate{tasks: tasks}, nil
}

// parseTaskList extracts a JSON array of task specs from generated text.
// The model often wraps the array in prose, so it scans for the outermost
// brackets before unmarshaling.
func parseTaskList(response string, maxTasks int) ([]store.ResearchTask, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in planner response")
	}

	var specs []taskSpec
	if err := json.Unmarshal([]byte(response[start:end+1]), &specs); err != nil {
		return nil, fmt.Errorf("unmarshaling task list: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("planner produced an empty task list")
	}
	if len(specs) > maxTasks {
		specs = specs[:maxTasks]
	}

	tasks := make([]store.ResearchTask, 0, len(specs))
	for _, spec := range specs {
		if spec.ResearchQuestion == "" {
			return nil, fmt.Errorf("task spec missing research question")
		}
		tasks = append(tasks, store.ResearchTask{
			Question:    spec.ResearchQuestion,
			Description: spec.Description,
		})
	}
	return tasks, nil
}

// researchTask runs one iteration of the research loop: search the web for
// the next unworked task, build a bounded context from the top hits, then
// stream a synthesis of the findings, republishing the in-progress draft.
func (e *Engine) researchTask(ctx context.Context, snap *store.Session) (stageUpdate, error) {
	idx := len(snap.Summaries)
	if idx >= len(snap.Tasks) {
		return nil, fmt.Errorf("no unworked task remaining (%d tasks, %d summaries)", len(snap.Tasks), len(snap.Summaries))
	}
	task := snap.Tasks[idx]

	e.emit(snap, &store.ProgressEvent{
		Kind:        store.ProgressSearching,
		Message:     fmt.Sprintf("Searching the web: %s", truncate(task.Question, 50)),
		Details:     fmt.Sprintf("Task %d/%d", idx+1, len(snap.Tasks)),
		CurrentItem: idx + 1,
		TotalItems:  len(snap.Tasks),
	})

	results, err := e.searchWithRetry(ctx, task.Question)
	if err != nil {
		return nil, fmt.Errorf("searching for task %d: %w", idx+1, err)
	}

	top := results
	if len(top) > topResultsForContext {
		top = top[:topResultsForContext]
	}

	e.emit(snap, &store.ProgressEvent{
		Kind:         store.ProgressAnalyzing,
		Message:      fmt.Sprintf("Analyzing %d search results", len(results)),
		Details:      "Selecting credible sources and extracting information",
		SourcesFound: len(results),
	})

	searchContext := buildSearchContext(top)

	prompt, err := prompts.Render(prompts.Research, snap.Language, prompts.Data{
		Question:    task.Question,
		Description: fmt.Sprintf("%s\n\nAvailable Information:\n%s", task.Description, searchContext),
	})
	if err != nil {
		return nil, err
	}

	e.emit(snap, &store.ProgressEvent{
		Kind:    store.ProgressThinking,
		Message: "Synthesizing findings from collected sources",
		Preview: truncate(searchContext, 300),
	})

	draft, err := e.streamDraft(ctx, snap, prompt)
	if err != nil {
		return nil, fmt.Errorf("researching task %d: %w", idx+1, err)
	}

	sources := make([]string, 0, len(top))
	for _, r := range top {
		sources = append(sources, r.URL)
	}

	return taskUpdate{
		summary: store.ResearchSummary{
			Question:    task.Question,
			Summary:     draft,
			KeyExcerpts: []string{truncate(draft, previewTail)},
			Sources:     sources,
		},
		searchResults: top,
		thoughts:      fmt.Sprintf("Analyzing: %s (%d sources)", task.Question, len(results)),
		draft:         draft,
	}, nil
}

// streamDraft consumes a streaming generation, periodically republishing
// the accumulated draft so observers can watch the text grow. Cancellation
// is honored between chunks.
func (e *Engine) streamDraft(ctx context.Context, snap *store.Session, prompt string) (string, error) {
	stream, err := e.llm.StreamGenerate(ctx, prompt, llm.StageResearch)
	if err != nil {
		return "", err
	}

	var draft strings.Builder
	sinceRepublish := 0
	for chunk := range stream {
		if chunk.Err != nil {
			return draft.String(), chunk.Err
		}
		if err := ctx.Err(); err != nil {
			return draft.String(), err
		}

		draft.WriteString(chunk.Text)
		sinceRepublish += len(chunk.Text)
		if sinceRepublish >= draftRepublishChars {
			sinceRepublish = 0
			e.emit(snap, &store.ProgressEvent{
				Kind:    store.ProgressWriting,
				Message: "Writing research findings",
				Preview: tail(draft.String(), previewTail),
			})
		}
	}

	return draft.String(), nil
}

// synthesize concatenates all task summaries into one prompt and produces
// the final report in a single non-streaming call.
func (e *Engine) synthesize(ctx context.Context, snap *store.Session) (stageUpdate, error) {
	e.emit(snap, &store.ProgressEvent{
		Kind:        store.ProgressSynthesizing,
		Message:     fmt.Sprintf("Integrating %d research summaries", len(snap.Summaries)),
		Details:     "Extracting key insights into a coherent narrative",
		CurrentItem: len(snap.Summaries),
		TotalItems:  len(snap.Summaries),
	})

	var parts []string
	for _, sum := range snap.Summaries {
		parts = append(parts, fmt.Sprintf(
			"Research Question: %s\nSummary: %s\nSources: %s",
			sum.Question, sum.Summary, strings.Join(sum.Sources, ", ")))
	}

	prompt, err := prompts.Render(prompts.Synthesize, snap.Language, prompts.Data{
		Summaries: strings.Join(parts, "\n\n---\n\n"),
	})
	if err != nil {
		return nil, err
	}

	report, err := e.generate(ctx, prompt, llm.StageSynthesis)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	e.emit(snap, &store.ProgressEvent{
		Kind:        store.ProgressValidating,
		Message:     "Validating the synthesized report",
		Details:     "Checking coverage of all research tasks",
		CurrentItem: len(snap.Summaries),
		TotalItems:  len(snap.Summaries),
		Confidence:  0.9,
	})

	return synthesisUpdate{report: report}, nil
}

// finalize marks the terminal success state.
func (e *Engine) finalize(_ context.Context, snap *store.Session) (stageUpdate, error) {
	e.emit(snap, &store.ProgressEvent{
		Kind:       store.ProgressFormatting,
		Message:    "Finalizing the report",
		Details:    "Reviewing references, citations, and formatting",
		Confidence: 0.95,
	})
	return completeUpdate{}, nil
}

// buildSearchContext renders search hits into the bounded context block the
// researcher prompt consumes.
func buildSearchContext(results []store.SearchResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "Source: %s\nURL: %s\nContent: %s\n\n",
			r.Title, r.URL, truncate(r.Content, maxContentPerResult))
	}
	return b.String()
}

// truncate and tail cut on rune boundaries so Korean text never ends up as
// broken UTF-8 in event messages and previews.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
