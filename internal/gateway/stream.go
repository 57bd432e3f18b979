// ABOUTME: Real-time progress streaming over SSE and WebSocket
// ABOUTME: Both channels send a status snapshot first, then live events

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/research-gateway/internal/store"
)

// streamMessage is the envelope both streaming channels use. A snapshot
// carries the bounded session view; an event carries one progress event.
type streamMessage struct {
	Type    string               `json:"type"`
	Session *store.Session       `json:"session,omitempty"`
	Event   *store.ProgressEvent `json:"event,omitempty"`
}

// handleEvents handles GET /api/v1/research/{id}/events as an SSE stream.
// The subscription is taken before the snapshot read so no event can fall
// between them.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.broadcaster.Subscribe(r.Context(), id)
	defer g.broadcaster.Unsubscribe(id, subID)

	snapshot, err := g.manager.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to read session for stream", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	g.writeSSEEvent(w, "snapshot", streamMessage{Type: "snapshot", Session: snapshot})
	flusher.Flush()

	if snapshot.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			g.writeSSEEvent(w, "progress", streamMessage{Type: "event", Event: event})
			flusher.Flush()
			if terminalEvent(event) {
				return
			}
		}
	}
}

// handleWebSocket handles GET /ws/{id}, mirroring the SSE stream over a
// WebSocket connection.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.CORSOrigins,
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "session_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	events, subID := g.broadcaster.Subscribe(ctx, id)
	defer g.broadcaster.Unsubscribe(id, subID)

	snapshot, err := g.manager.Status(ctx, id)
	if err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, store.ErrNotFound) {
			status = websocket.StatusPolicyViolation
		}
		_ = conn.Close(status, "session not found")
		return
	}

	if err := wsjson.Write(ctx, conn, streamMessage{Type: "snapshot", Session: snapshot}); err != nil {
		return
	}
	if snapshot.Terminal() {
		_ = conn.Close(websocket.StatusNormalClosure, "session finished")
		return
	}

	// Drain reads so control frames are processed and client departure is
	// noticed.
	readCtx := conn.CloseRead(ctx)

	for {
		select {
		case <-readCtx.Done():
			return
		case event, open := <-events:
			if !open {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, streamMessage{Type: "event", Event: event}); err != nil {
				return
			}
			if terminalEvent(event) {
				_ = conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

// terminalEvent reports whether the event announces a terminal stage.
func terminalEvent(event *store.ProgressEvent) bool {
	return event.Stage == store.StageCompleted || event.Stage == store.StageError
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
