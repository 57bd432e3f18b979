// Package gateway exposes the research service over HTTP: session lifecycle
// endpoints under /api/v1/research, report retrieval with optional HTML
// rendering, a health check covering the external collaborators, and
// real-time progress streaming over both SSE and WebSocket.
package gateway
