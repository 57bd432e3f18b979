// ABOUTME: Manager owns the session lifecycle: start, status, report, delete
// ABOUTME: Tracks in-flight runs in a registry backed by the durable store

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/research-gateway/internal/llm"
	"github.com/2389/research-gateway/internal/notify"
	"github.com/2389/research-gateway/internal/search"
	"github.com/2389/research-gateway/internal/store"
	"github.com/2389/research-gateway/internal/workflow"
)

const (
	// statusTailEvents bounds how many recent progress events a status
	// read returns.
	statusTailEvents = 10
	// statusDraftTail bounds how much of the in-progress draft a status
	// read returns.
	statusDraftTail = 1000
	// maxQuestionLength rejects obviously abusive submissions.
	maxQuestionLength = 2000
)

// ErrReportNotReady is returned by Report before the session completes.
var ErrReportNotReady = errors.New("report not ready")

// Options carries the tunables the manager hands to each workflow run.
type Options struct {
	StageTimeout time.Duration
	MaxResults   int
}

// Manager starts research runs and answers questions about them. Live runs
// are served from an in-memory registry; everything else falls back to the
// store. Each session has a single writer (its run goroutine); the manager
// only ever reads live sessions, under the run's lock.
type Manager struct {
	store  store.Store
	llm    llm.Client
	search search.Client
	sink   notify.Sink
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*activeRun
	wg   sync.WaitGroup
}

// activeRun pairs a live session with the controls for its run goroutine.
// The RWMutex write side is held by the workflow engine around mutations;
// status readers take the read side.
type activeRun struct {
	mu      sync.RWMutex
	session *store.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

func (r *activeRun) snapshot() *store.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session.Clone()
}

// NewManager creates a session manager. The sink receives progress events
// from every run; pass nil to discard them.
func NewManager(st store.Store, llmClient llm.Client, searchClient search.Client, sink notify.Sink, opts Options) *Manager {
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Manager{
		store:  st,
		llm:    llmClient,
		search: searchClient,
		sink:   sink,
		opts:   opts,
		logger: slog.Default().With("component", "session"),
		runs:   make(map[string]*activeRun),
	}
}

// StartResearch creates a session and launches its workflow run in the
// background. The returned snapshot reflects the session's initial state;
// progress is observed through Status or the notification sink.
func (m *Manager) StartResearch(ctx context.Context, question, language string, maxResearchers int) (*store.Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("research question is required")
	}
	if len(question) > maxQuestionLength {
		return nil, fmt.Errorf("research question exceeds %d characters", maxQuestionLength)
	}

	session := store.NewSession(question, language, maxResearchers)

	// The initial record makes the session visible to listings right away.
	// Storage trouble degrades to memory-only, same as a failed checkpoint.
	if err := m.store.SaveSession(ctx, session); err != nil {
		m.logger.Error("failed to persist new session, continuing in memory",
			"session_id", session.ID, "error", err)
		session.StorageWarning = fmt.Sprintf("initial save failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &activeRun{session: session, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[session.ID] = run
	m.mu.Unlock()

	engine := workflow.New(m.llm, m.search, m.store, m.sink, m.opts.StageTimeout, m.opts.MaxResults)
	engine.SetLocker(&run.mu)

	// Snapshot before the engine goroutine exists; from launch on, the live
	// session may only be read through run.snapshot().
	created := session.Clone()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(run.done)
		engine.Run(runCtx, session)
		cancel()
	}()

	m.logger.Info("research started", "session_id", created.ID, "language", created.Language)
	return created, nil
}

// Resume relaunches a checkpointed session from the stage recorded in the
// store. Terminal and already-running sessions are rejected.
func (m *Manager) Resume(ctx context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	if _, running := m.runs[id]; running {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s is already running", id)
	}
	m.mu.Unlock()

	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Terminal() {
		return nil, fmt.Errorf("session %s already reached stage %s", id, session.Stage)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &activeRun{session: session, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	engine := workflow.New(m.llm, m.search, m.store, m.sink, m.opts.StageTimeout, m.opts.MaxResults)
	engine.SetLocker(&run.mu)

	resumed := session.Clone()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(run.done)
		engine.Run(runCtx, session)
		cancel()
	}()

	m.logger.Info("research resumed", "session_id", id, "stage", resumed.Stage)
	return resumed, nil
}

// Status returns a snapshot of the session with its unbounded fields
// trimmed: only the last few progress events and the tail of the draft
// preview are included. Live sessions are read from the registry so status
// never waits on storage.
func (m *Manager) Status(ctx context.Context, id string) (*store.Session, error) {
	if run, ok := m.lookup(id); ok {
		return boundTails(run.snapshot()), nil
	}

	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return boundTails(session), nil
}

// Report returns the completed session carrying the final report and the
// per-task research summaries, failing with ErrReportNotReady until the
// session completes.
func (m *Manager) Report(ctx context.Context, id string) (*store.Session, error) {
	var session *store.Session
	if run, ok := m.lookup(id); ok {
		session = run.snapshot()
	} else {
		var err error
		session, err = m.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	if session.Stage == store.StageError {
		return nil, fmt.Errorf("%w: session failed: %s", ErrReportNotReady, session.ErrorMessage)
	}
	if session.Stage != store.StageCompleted || session.FinalReport == "" {
		return nil, fmt.Errorf("%w: session is at stage %s (%d%%)", ErrReportNotReady, session.Stage, session.Progress)
	}
	return session, nil
}

// Delete terminates the session if it is running and removes it from both
// the registry and the store. Deleting an unknown session returns
// store.ErrNotFound.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	run, running := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()

	if running {
		run.cancel()
		<-run.done
	}

	err := m.store.DeleteSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) && running {
		// The run existed only in memory (degraded storage); the
		// cancellation above was the real deletion.
		return nil
	}
	return err
}

// List returns summaries of all known sessions, newest activity first. Live
// registry state overrides the stored checkpoint so listings never lag a
// running session.
func (m *Manager) List(ctx context.Context) ([]*store.SessionSummary, error) {
	stored, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	live := make(map[string]*store.SessionSummary)
	m.mu.Lock()
	for id, run := range m.runs {
		run.mu.RLock()
		live[id] = run.session.Summary()
		run.mu.RUnlock()
	}
	m.mu.Unlock()

	out := make([]*store.SessionSummary, 0, len(stored)+len(live))
	for _, sum := range stored {
		if fresh, ok := live[sum.ID]; ok {
			out = append(out, fresh)
			delete(live, sum.ID)
			continue
		}
		out = append(out, sum)
	}
	// Memory-only sessions the store never saw
	for _, sum := range live {
		out = append(out, sum)
	}
	return out, nil
}

// Cleanup removes sessions idle for longer than the retention window: the
// stored records in one pass, plus any finished runs still cached in the
// registry. Running sessions are never evicted.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := m.store.DeleteSessionsOlderThan(ctx, retention)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-retention)
	m.mu.Lock()
	for id, run := range m.runs {
		run.mu.RLock()
		stale := run.session.Terminal() && run.session.LastUpdated.Before(cutoff)
		run.mu.RUnlock()
		if stale {
			delete(m.runs, id)
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info("cleaned up expired sessions", "count", removed)
	}
	return removed, nil
}

// RunCleanupLoop blocks, running Cleanup on the given interval until the
// context is canceled. Intended to be launched as a goroutine at startup.
func (m *Manager) RunCleanupLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx, retention); err != nil {
				m.logger.Error("session cleanup failed", "error", err)
			}
		}
	}
}

// Close cancels every in-flight run and waits for the goroutines to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, run := range m.runs {
		run.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) lookup(id string) (*activeRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	return run, ok
}

// boundTails trims the session's unbounded fields in place on a snapshot
// the caller owns.
func boundTails(s *store.Session) *store.Session {
	if len(s.ProgressLog) > statusTailEvents {
		s.ProgressLog = s.ProgressLog[len(s.ProgressLog)-statusTailEvents:]
	}
	if len(s.DraftPreview) > statusDraftTail {
		s.DraftPreview = s.DraftPreview[len(s.DraftPreview)-statusDraftTail:]
	}
	return s
}
