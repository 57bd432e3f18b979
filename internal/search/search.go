// ABOUTME: Search Gateway contract for web research
// ABOUTME: Defines the Client interface and result type returned by search backends

package search

import (
	"context"

	"github.com/2389/research-gateway/internal/store"
)

// Result is one ranked search hit. Aliased into the store package so the
// session's live results persist without conversion.
type Result = store.SearchResult

// Client is the narrow contract the workflow engine needs from a web search
// backend. Zero results is a valid response, not an error.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	HealthCheck(ctx context.Context) bool
}
