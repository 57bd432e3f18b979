// ABOUTME: Tests for the session manager over fake gateways and an in-memory store
// ABOUTME: Covers lifecycle, bounded status reads, report gating, and cleanup

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/research-gateway/internal/llm"
	"github.com/2389/research-gateway/internal/store"
)

// fakeLLM answers every stage instantly with canned text. If block is set,
// Generate parks until the context is canceled.
type fakeLLM struct {
	block bool
}

func (f *fakeLLM) Generate(ctx context.Context, _, stage string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	switch stage {
	case llm.StageClarification:
		return "PROCEED_TO_RESEARCH", nil
	case llm.StagePlanner:
		return `[{"research_question": "q1", "description": "d1"}]`, nil
	case llm.StageSynthesis:
		return "# Report", nil
	default:
		return "text", nil
	}
}

func (f *fakeLLM) StreamGenerate(ctx context.Context, _, _ string) (<-chan llm.Chunk, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: "finding"}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) HealthCheck(context.Context) bool { return true }

type fakeSearch struct{}

func (fakeSearch) Search(context.Context, string, int) ([]store.SearchResult, error) {
	return []store.SearchResult{{Title: "t", URL: "https://example.com", Content: "c"}}, nil
}

func (fakeSearch) HealthCheck(context.Context) bool { return true }

// memStore is a minimal in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*store.Session)}
}

func (m *memStore) SaveSession(_ context.Context, s *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStore) ListSessions(context.Context) ([]*store.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.SessionSummary
	for _, s := range m.sessions {
		out = append(out, s.Summary())
	}
	return out, nil
}

func (m *memStore) DeleteSessionsOlderThan(_ context.Context, age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-age)
	n := 0
	for id, s := range m.sessions {
		if s.LastUpdated.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

func newTestManager(t *testing.T, client *fakeLLM) (*Manager, *memStore) {
	t.Helper()
	st := newMemStore()
	mgr := NewManager(st, client, fakeSearch{}, nil, Options{MaxResults: 5})
	t.Cleanup(mgr.Close)
	return mgr, st
}

func waitForStage(t *testing.T, mgr *Manager, id, stage string) *store.Session {
	t.Helper()
	var snap *store.Session
	require.Eventually(t, func() bool {
		s, err := mgr.Status(context.Background(), id)
		if err != nil {
			return false
		}
		snap = s
		return s.Stage == stage
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestStartResearchValidation(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeLLM{})

	_, err := mgr.StartResearch(context.Background(), "   ", "en", 3)
	assert.Error(t, err)

	_, err = mgr.StartResearch(context.Background(), strings.Repeat("x", 2001), "en", 3)
	assert.Error(t, err)
}

func TestStartResearchReturnsIsolatedSnapshot(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeLLM{})

	// The engine begins mutating the live session the moment its goroutine
	// starts; the value handed back to the caller must be detached from it.
	// Run under -race this also proves the return path holds no unlocked
	// read of the live session.
	for i := 0; i < 200; i++ {
		created, err := mgr.StartResearch(context.Background(), "why is the sky blue?", "en", 2)
		require.NoError(t, err)
		created.ProgressLog = append(created.ProgressLog, store.ProgressEvent{ID: "caller-owned"})
		created.StorageWarning = "caller-owned"
	}
}

func TestResumeReturnsIsolatedSnapshot(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{})

	for i := 0; i < 50; i++ {
		s := store.NewSession(fmt.Sprintf("question %d", i), "en", 2)
		s.Stage = store.StageClarifying
		s.Progress = 20
		require.NoError(t, st.SaveSession(context.Background(), s))

		resumed, err := mgr.Resume(context.Background(), s.ID)
		require.NoError(t, err)
		resumed.StorageWarning = "caller-owned"
	}
}

func TestStartResearchRunsToCompletion(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{})

	created, err := mgr.StartResearch(context.Background(), "why is the sky blue?", "en", 3)
	require.NoError(t, err)
	assert.Equal(t, store.StageInitializing, created.Stage)

	final := waitForStage(t, mgr, created.ID, store.StageCompleted)
	assert.Equal(t, 100, final.Progress)

	completed, err := mgr.Report(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Report", completed.FinalReport)
	require.NotEmpty(t, completed.Summaries)

	// The terminal checkpoint reached the store
	saved, err := st.GetSession(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StageCompleted, saved.Stage)
}

func TestStatusBoundsTails(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{})

	session := store.NewSession("q", "en", 3)
	for i := 0; i < 25; i++ {
		session.ProgressLog = append(session.ProgressLog, store.ProgressEvent{
			ID:      fmt.Sprintf("evt-%d", i),
			Message: fmt.Sprintf("event %d", i),
		})
	}
	session.DraftPreview = strings.Repeat("d", 3000)
	require.NoError(t, st.SaveSession(context.Background(), session))

	snap, err := mgr.Status(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, snap.ProgressLog, 10)
	assert.Equal(t, "evt-15", snap.ProgressLog[0].ID)
	assert.Equal(t, "evt-24", snap.ProgressLog[9].ID)
	assert.Len(t, snap.DraftPreview, 1000)
}

func TestStatusUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeLLM{})

	_, err := mgr.Status(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReportNotReadyWhileRunning(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeLLM{block: true})

	created, err := mgr.StartResearch(context.Background(), "q", "en", 3)
	require.NoError(t, err)

	_, err = mgr.Report(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrReportNotReady)
}

func TestReportNotReadyAfterFailure(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{})

	session := store.NewSession("q", "en", 3)
	session.Stage = store.StageError
	session.ErrorMessage = "model unavailable"
	require.NoError(t, st.SaveSession(context.Background(), session))

	_, err := mgr.Report(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrReportNotReady)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestDeleteTerminatesRunningSession(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{block: true})

	created, err := mgr.StartResearch(context.Background(), "q", "en", 3)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(context.Background(), created.ID))

	_, err = mgr.Status(context.Background(), created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetSession(context.Background(), created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeLLM{})
	assert.ErrorIs(t, mgr.Delete(context.Background(), "no-such-id"), store.ErrNotFound)
}

func TestListOverlaysLiveState(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{block: true})

	// One finished session only in the store
	old := store.NewSession("old question", "en", 3)
	old.Stage = store.StageCompleted
	old.Progress = 100
	require.NoError(t, st.SaveSession(context.Background(), old))

	// One running session in the registry
	created, err := mgr.StartResearch(context.Background(), "new question", "en", 3)
	require.NoError(t, err)

	list, err := mgr.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	byID := make(map[string]*store.SessionSummary)
	for _, sum := range list {
		byID[sum.ID] = sum
	}
	assert.Equal(t, store.StageCompleted, byID[old.ID].Stage)
	assert.Contains(t, []string{store.StageInitializing, store.StageClarifying}, byID[created.ID].Stage)
}

func TestResumeRejectsTerminalAndRunning(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{block: true})

	done := store.NewSession("q", "en", 3)
	done.Stage = store.StageCompleted
	require.NoError(t, st.SaveSession(context.Background(), done))

	_, err := mgr.Resume(context.Background(), done.ID)
	assert.Error(t, err)

	created, err := mgr.StartResearch(context.Background(), "q", "en", 3)
	require.NoError(t, err)
	_, err = mgr.Resume(context.Background(), created.ID)
	assert.Error(t, err)
}

func TestCleanupRemovesExpiredSessions(t *testing.T) {
	mgr, st := newTestManager(t, &fakeLLM{})

	stale := store.NewSession("stale", "en", 3)
	stale.Stage = store.StageCompleted
	stale.LastUpdated = time.Now().UTC().Add(-10 * 24 * time.Hour)
	require.NoError(t, st.SaveSession(context.Background(), stale))

	fresh := store.NewSession("fresh", "en", 3)
	require.NoError(t, st.SaveSession(context.Background(), fresh))

	removed, err := mgr.Cleanup(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = st.GetSession(context.Background(), stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSession(context.Background(), fresh.ID)
	assert.NoError(t, err)
}
