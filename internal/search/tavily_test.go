// ABOUTME: Tests for the Tavily search client
// ABOUTME: Uses httptest servers to cover result parsing, errors, and health checks

package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTavilyClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)

		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-key", req.APIKey)
		assert.Equal(t, "caffeine sleep", req.Query)
		assert.Equal(t, 3, req.MaxResults)

		json.NewEncoder(w).Encode(tavilyResponse{
			Answer: "caffeine delays sleep onset",
			Results: []tavilyResult{
				{Title: "Study A", URL: "https://a.example", Content: "findings", Score: 0.9},
				{Title: "Study B", URL: "https://b.example", Content: "more findings", Score: 0.7},
			},
		})
	}))
	defer server.Close()

	client := NewTavilyClient(server.URL, "test-key")
	results, err := client.Search(context.Background(), "caffeine sleep", 3)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "AI Summary", results[0].Title)
	assert.Equal(t, "tavily://ai-answer", results[0].URL)
	assert.Equal(t, "Study A", results[1].Title)
	assert.Equal(t, 0.7, results[2].Score)
}

func TestTavilyClient_Search_NoAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tavilyResponse{
			Results: []tavilyResult{{Title: "Only", URL: "https://o.example"}},
		})
	}))
	defer server.Close()

	client := NewTavilyClient(server.URL, "test-key")
	results, err := client.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Only", results[0].Title)
}

func TestTavilyClient_Search_ZeroResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tavilyResponse{})
	}))
	defer server.Close()

	client := NewTavilyClient(server.URL, "test-key")
	results, err := client.Search(context.Background(), "obscure query", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTavilyClient_Search_MissingAPIKeyDegradesToNoResults(t *testing.T) {
	// No key means no search; the research loop runs on model knowledge
	// alone rather than failing the whole session.
	client := NewTavilyClient("http://localhost:1", "")
	results, err := client.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTavilyClient_Search_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewTavilyClient(server.URL, "test-key")
	_, err := client.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTavilyClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.True(t, NewTavilyClient(server.URL, "test-key").HealthCheck(context.Background()))
	assert.False(t, NewTavilyClient(server.URL, "").HealthCheck(context.Background()))
	assert.False(t, NewTavilyClient("http://127.0.0.1:1", "test-key").HealthCheck(context.Background()))
}
