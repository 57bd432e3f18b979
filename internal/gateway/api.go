// ABOUTME: HTTP API handlers for the research session lifecycle
// ABOUTME: Start, list, status, resume, delete, and report retrieval

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/research-gateway/internal/session"
	"github.com/2389/research-gateway/internal/store"
)

// StartResearchRequest is the JSON request body for POST /api/v1/research/start.
type StartResearchRequest struct {
	Question       string `json:"question"`
	Language       string `json:"language,omitempty"`
	MaxResearchers int    `json:"max_researchers,omitempty"`
}

// StartResearchResponse is the JSON response for POST /api/v1/research/start.
type StartResearchResponse struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSessionsResponse is the JSON response for GET /api/v1/research.
type ListSessionsResponse struct {
	Sessions []*store.SessionSummary `json:"sessions"`
}

// ReportResponse is the JSON response for GET /api/v1/research/{id}/report.
type ReportResponse struct {
	SessionID string        `json:"session_id"`
	Report    string        `json:"report"`
	Sources   []TaskSources `json:"sources"`
}

// TaskSources lists the source URLs backing one research task.
type TaskSources struct {
	Question string   `json:"question"`
	Sources  []string `json:"sources"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	LLM       bool      `json:"llm"`
	Search    bool      `json:"search"`
	Timestamp time.Time `json:"timestamp"`
}

// handleStartResearch handles POST /api/v1/research/start. The run proceeds
// in the background; the response only confirms creation.
func (g *Gateway) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseStartRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := g.manager.StartResearch(r.Context(), req.Question, req.Language, req.MaxResearchers)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	g.sendJSON(w, http.StatusAccepted, StartResearchResponse{
		SessionID: s.ID,
		Stage:     s.Stage,
		Progress:  s.Progress,
		Language:  s.Language,
		CreatedAt: s.CreatedAt,
	})
}

// parseStartRequest parses and validates a StartResearchRequest.
func parseStartRequest(r io.Reader) (*StartResearchRequest, error) {
	var req StartResearchRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Question == "" {
		return nil, errors.New("question is required")
	}
	return &req, nil
}

// handleListSessions handles GET /api/v1/research.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := g.manager.List(r.Context())
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sessions == nil {
		sessions = []*store.SessionSummary{}
	}
	g.sendJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions})
}

// handleStatus handles GET /api/v1/research/{id}. The returned session has
// its progress log and draft preview trimmed to recent tails.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := g.manager.Status(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to read session status", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, s)
}

// handleResume handles POST /api/v1/research/{id}/resume, relaunching a
// checkpointed session.
func (g *Gateway) handleResume(w http.ResponseWriter, r *http.Request) {
	s, err := g.manager.Resume(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	g.sendJSON(w, http.StatusAccepted, StartResearchResponse{
		SessionID: s.ID,
		Stage:     s.Stage,
		Progress:  s.Progress,
		Language:  s.Language,
		CreatedAt: s.CreatedAt,
	})
}

// handleDeleteSession handles DELETE /api/v1/research/{id}, terminating the
// run if it is still in flight.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := g.manager.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

// handleReport handles GET /api/v1/research/{id}/report. The default is the
// markdown report wrapped in JSON; ?format=html renders it to HTML and
// ?format=markdown returns the raw text.
func (g *Gateway) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	completed, err := g.manager.Report(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if errors.Is(err, session.ErrReportNotReady) {
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to read report", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	report := completed.FinalReport

	switch r.URL.Query().Get("format") {
	case "", "json":
		sources := make([]TaskSources, 0, len(completed.Summaries))
		for _, sum := range completed.Summaries {
			sources = append(sources, TaskSources{Question: sum.Question, Sources: sum.Sources})
		}
		g.sendJSON(w, http.StatusOK, ReportResponse{SessionID: id, Report: report, Sources: sources})
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, report)
	case "html":
		var buf bytes.Buffer
		if err := g.markdown.Convert([]byte(report), &buf); err != nil {
			g.logger.Error("failed to render report", "session_id", id, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to render report")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Research Report</title></head>\n<body>\n%s</body>\n</html>\n", buf.String())
	default:
		g.sendJSONError(w, http.StatusBadRequest, "format must be json, markdown, or html")
	}
}

// sendJSON writes a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
