// ABOUTME: Tavily implementation of the search Client interface
// ABOUTME: Calls the Tavily REST API and normalizes results into ranked hits

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TavilyClient implements Client against the Tavily search API.
type TavilyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTavilyClient creates a search client for the given API endpoint.
// An empty apiKey is allowed; searches then return no results and the
// research loop proceeds on model knowledge alone.
func NewTavilyClient(baseURL, apiKey string) *TavilyClient {
	return &TavilyClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default().With("component", "search"),
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
}

// Search performs a web search and returns ranked results. When the API
// includes an AI-generated answer it is prepended as a pseudo-result so
// downstream context building treats it like any other source.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if c.apiKey == "" {
		c.logger.Warn("search skipped, no API key configured", "query", query)
		return nil, nil
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   "advanced",
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, snippet)
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results)+1)
	if parsed.Answer != "" {
		results = append(results, Result{
			Title:   "AI Summary",
			URL:     "tavily://ai-answer",
			Content: parsed.Answer,
			Score:   1.0,
		})
	}
	for _, r := range parsed.Results {
		results = append(results, Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}

	c.logger.Info("search completed", "query", query, "results", len(results))
	return results, nil
}

// HealthCheck reports whether the search backend looks reachable. A
// configured key plus a reachable endpoint counts as healthy; the probe
// avoids burning API quota on a real query.
func (c *TavilyClient) HealthCheck(ctx context.Context) bool {
	if c.apiKey == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
