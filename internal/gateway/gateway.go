// ABOUTME: HTTP gateway wiring: server lifecycle, routes, and health checks
// ABOUTME: Composes the session manager, broadcaster, and external gateways

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/research-gateway/internal/config"
	"github.com/2389/research-gateway/internal/llm"
	"github.com/2389/research-gateway/internal/notify"
	"github.com/2389/research-gateway/internal/search"
	"github.com/2389/research-gateway/internal/session"
)

// Gateway is the HTTP surface of the research service.
type Gateway struct {
	config      *config.Config
	manager     *session.Manager
	broadcaster *notify.Broadcaster
	llm         llm.Client
	search      search.Client
	logger      *slog.Logger
	httpServer  *http.Server
	markdown    goldmark.Markdown
}

// New creates a Gateway serving the given manager and broadcaster.
func New(cfg *config.Config, manager *session.Manager, broadcaster *notify.Broadcaster, llmClient llm.Client, searchClient search.Client) *Gateway {
	g := &Gateway{
		config:      cfg,
		manager:     manager,
		broadcaster: broadcaster,
		llm:         llmClient,
		search:      searchClient,
		logger:      slog.Default().With("component", "gateway"),
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}

	mux := http.NewServeMux()

	// Health endpoint carries gateway reachability, so no auth and no CORS
	// restrictions apply.
	mux.HandleFunc("GET /api/v1/health", g.handleHealth)

	mux.HandleFunc("POST /api/v1/research/start", g.handleStartResearch)
	mux.HandleFunc("GET /api/v1/research", g.handleListSessions)
	mux.HandleFunc("GET /api/v1/research/{id}", g.handleStatus)
	mux.HandleFunc("DELETE /api/v1/research/{id}", g.handleDeleteSession)
	mux.HandleFunc("POST /api/v1/research/{id}/resume", g.handleResume)
	mux.HandleFunc("GET /api/v1/research/{id}/report", g.handleReport)
	mux.HandleFunc("GET /api/v1/research/{id}/events", g.handleEvents)
	mux.HandleFunc("GET /ws/{id}", g.handleWebSocket)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// Handler exposes the routed handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Start runs the HTTP server until it is shut down. It blocks.
func (g *Gateway) Start() error {
	g.logger.Info("starting HTTP server", "addr", g.httpServer.Addr)
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("shutting down HTTP server")
	return g.httpServer.Shutdown(ctx)
}

// corsMiddleware applies the configured allowed origins. An empty list
// leaves CORS headers off entirely.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	origins := g.config.Server.CORSOrigins
	if len(origins) == 0 {
		return next
	}

	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports the gateway's own liveness plus the reachability of
// its external collaborators. Degraded collaborators do not fail the check;
// they are reported so operators can see them.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "ok",
		LLM:       g.llm.HealthCheck(ctx),
		Search:    g.search.HealthCheck(ctx),
		Timestamp: time.Now().UTC(),
	}
	if !resp.LLM || !resp.Search {
		resp.Status = "degraded"
	}
	g.sendJSON(w, http.StatusOK, resp)
}
