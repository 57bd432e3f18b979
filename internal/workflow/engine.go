// ABOUTME: Engine drives a research session through its stage sequence
// ABOUTME: Handles checkpointing, retries, timeouts, and progress emission

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/research-gateway/internal/llm"
	"github.com/2389/research-gateway/internal/notify"
	"github.com/2389/research-gateway/internal/search"
	"github.com/2389/research-gateway/internal/store"
)

const (
	// checkpointStep is the progress granularity at which in-flight sessions
	// are persisted. Terminal states always persist regardless.
	checkpointStep = 10
	// gatewayRetries is how many additional attempts a failed gateway call
	// gets before the failure propagates.
	gatewayRetries = 2
	// defaultSearchResults applies when the engine is built without a
	// configured result cap.
	defaultSearchResults = 10
)

// retryBackoff spaces retry attempts. Variable so tests can shorten it.
var retryBackoff = 2 * time.Second

// Engine executes the research workflow for one session at a time. It owns
// no session state itself; everything durable lives in the store.Session it
// is handed, and every mutation flows through a stageUpdate.
type Engine struct {
	llm          llm.Client
	search       search.Client
	store        store.Store
	sink         notify.Sink
	logger       *slog.Logger
	stageTimeout time.Duration
	maxResults   int
	locker       sync.Locker
}

// New creates an engine. A nil sink is replaced with a no-op sink, a zero
// stageTimeout disables per-stage deadlines, and a non-positive maxResults
// falls back to the default search result cap.
func New(llmClient llm.Client, searchClient search.Client, st store.Store, sink notify.Sink, stageTimeout time.Duration, maxResults int) *Engine {
	if sink == nil {
		sink = notify.NopSink{}
	}
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	return &Engine{
		llm:          llmClient,
		search:       searchClient,
		store:        st,
		sink:         sink,
		logger:       slog.Default().With("component", "workflow"),
		stageTimeout: stageTimeout,
		maxResults:   maxResults,
		locker:       nopLocker{},
	}
}

// SetLocker installs a lock the engine holds around every session mutation,
// letting the caller read the session concurrently while a run is in flight.
// Must be set before Run.
func (e *Engine) SetLocker(l sync.Locker) {
	e.locker = l
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// stageFunc computes a stage transition from a session snapshot. It must not
// mutate the snapshot; all changes travel back through the returned update.
type stageFunc func(ctx context.Context, snap *store.Session) (stageUpdate, error)

// Run advances the session from its current stage to a terminal state.
// Resuming a checkpointed session is the same call: the stage recorded in
// the session decides where execution picks up. Any error, panic, or
// cancellation lands the session in the error terminal with its committed
// results intact.
func (e *Engine) Run(ctx context.Context, session *store.Session) {
	e.logger.Info("starting research run",
		"session_id", session.ID,
		"stage", session.Stage,
		"question", session.ResearchQuestion)

	err := e.run(ctx, session)
	if err == nil {
		e.logger.Info("research run completed", "session_id", session.ID)
		// Subscribers key off a terminal-stage event to close their streams
		e.emit(session, &store.ProgressEvent{
			Kind:       store.ProgressFormatting,
			Message:    "Research completed",
			Confidence: 1.0,
		})
		e.checkpoint(session, true)
		return
	}

	e.logger.Error("research run failed", "session_id", session.ID, "error", err)
	e.applyUpdate(session, errorUpdate{message: err.Error()})
	e.emit(session, &store.ProgressEvent{
		Kind:    store.ProgressThinking,
		Message: "Research failed",
		Details: err.Error(),
	})
	e.checkpoint(session, true)
}

func (e *Engine) run(ctx context.Context, session *store.Session) error {
	for !session.Terminal() {
		step, name, ok := e.nextStep(session)
		if !ok {
			return fmt.Errorf("no transition defined from stage %q", session.Stage)
		}

		update, err := e.runStage(ctx, name, session, step)
		if err != nil {
			return err
		}

		prev := session.Progress
		e.applyUpdate(session, update)
		e.checkpoint(session, crossedBoundary(prev, session.Progress) || session.Terminal())
	}
	return nil
}

// nextStep maps the session's current position to the stage function that
// advances it. The research loop re-enters researchTask until every planned
// task has a summary; the continuation predicate is re-evaluated here on
// each pass rather than captured once.
func (e *Engine) nextStep(session *store.Session) (stageFunc, string, bool) {
	switch session.Stage {
	case store.StageInitializing:
		return e.clarify, "clarify", true
	case store.StageClarifying:
		return e.writeBrief, "brief", true
	case store.StageBriefComplete:
		return e.plan, "plan", true
	case store.StageResearchPlanned, store.StageResearching:
		if len(session.Tasks) == 0 {
			return nil, "", false
		}
		if len(session.Summaries) < len(session.Tasks) {
			return e.researchTask, "research", true
		}
		return e.completeResearch, "research_complete", true
	case store.StageResearchComplete:
		if session.FinalReport == "" {
			return e.synthesize, "synthesis", true
		}
		return e.finalize, "finalize", true
	default:
		return nil, "", false
	}
}

func (e *Engine) completeResearch(_ context.Context, _ *store.Session) (stageUpdate, error) {
	return researchCompleteUpdate{}, nil
}

// runStage executes one stage function under the configured deadline with
// panic containment. Cancellation is checked before dispatch so a terminated
// session stops at the next stage boundary even if the stage itself ignores
// its context.
func (e *Engine) runStage(ctx context.Context, name string, session *store.Session, step stageFunc) (update stageUpdate, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run canceled before stage %s: %w", name, ctxErr)
	}

	stageCtx := ctx
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", name, r)
		}
	}()

	e.logger.Debug("running stage", "session_id", session.ID, "stage", name)
	return step(stageCtx, session)
}

// applyUpdate merges a stage update into the session. Along with emit and
// checkpoint, this is the only place session fields change during a run.
func (e *Engine) applyUpdate(session *store.Session, update stageUpdate) {
	e.locker.Lock()
	defer e.locker.Unlock()
	update.apply(session)
	session.Touch()
}

// checkpoint persists the session when asked to. Storage failure is not
// fatal: the run continues in memory with a warning recorded on the session
// so status reads can surface the degraded durability. A background context
// is used so terminal states still persist after the run is canceled.
func (e *Engine) checkpoint(session *store.Session, due bool) {
	if !due {
		return
	}
	if err := e.store.SaveSession(context.Background(), session); err != nil {
		e.logger.Error("checkpoint failed, continuing in memory",
			"session_id", session.ID, "error", err)
		e.locker.Lock()
		session.StorageWarning = fmt.Sprintf("checkpoint failed: %v", err)
		e.locker.Unlock()
		return
	}
	e.locker.Lock()
	session.StorageWarning = ""
	e.locker.Unlock()
}

// crossedBoundary reports whether progress moved into a new checkpoint step.
func crossedBoundary(prev, cur int) bool {
	return cur/checkpointStep != prev/checkpointStep
}

// emit stamps a progress event with identity and session position, appends
// it to the session log, and fans it out to subscribers.
func (e *Engine) emit(session *store.Session, event *store.ProgressEvent) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	e.locker.Lock()
	event.Stage = session.Stage
	event.Progress = session.Progress
	session.ProgressLog = append(session.ProgressLog, *event)
	e.locker.Unlock()

	e.sink.Notify(session.ID, event)
}

// generate wraps a non-streaming gateway call with bounded retries.
func (e *Engine) generate(ctx context.Context, prompt string, stage string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= gatewayRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("retrying generation", "stage", stage, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		response, err := e.llm.Generate(ctx, prompt, stage)
		if err == nil {
			return response, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", gatewayRetries+1, lastErr)
}

// searchWithRetry wraps a search call with the same retry policy. An empty
// result set is a valid outcome, not an error.
func (e *Engine) searchWithRetry(ctx context.Context, query string) ([]store.SearchResult, error) {
	var lastErr error
	for attempt := 0; attempt <= gatewayRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("retrying search", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		results, err := e.search.Search(ctx, query, e.maxResults)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("search failed after %d attempts: %w", gatewayRetries+1, lastErr)
}
