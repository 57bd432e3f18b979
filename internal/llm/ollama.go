// ABOUTME: Ollama implementation of the generation Client interface
// ABOUTME: Uses the /api/generate endpoint with NDJSON streaming

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// streamChunkBuffer is the channel buffer for streaming chunks, sized so a
// slow consumer doesn't immediately stall the HTTP read loop.
const streamChunkBuffer = 32

// OllamaClient implements Client against a local or remote Ollama server.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a generation client for an Ollama server.
func NewOllamaClient(opts Options) *OllamaClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "llm", "provider", "ollama"),
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate produces a complete response for the prompt.
func (c *OllamaClient) Generate(ctx context.Context, prompt, stage string) (string, error) {
	resp, err := c.post(ctx, prompt, stage, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}

	c.logger.Debug("generation complete", "stage", stage, "chars", len(parsed.Response))
	return parsed.Response, nil
}

// StreamGenerate produces the response incrementally. Ollama streams one
// JSON object per line; the final object carries done=true.
func (c *OllamaClient) StreamGenerate(ctx context.Context, prompt, stage string) (<-chan Chunk, error) {
	resp, err := c.post(ctx, prompt, stage, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, streamChunkBuffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var parsed ollamaResponse
			if err := json.Unmarshal(line, &parsed); err != nil {
				ch <- Chunk{Err: fmt.Errorf("decoding stream line: %w", err)}
				return
			}
			if parsed.Error != "" {
				ch <- Chunk{Err: fmt.Errorf("ollama error: %s", parsed.Error)}
				return
			}

			if parsed.Response != "" {
				select {
				case ch <- Chunk{Text: parsed.Response}:
				case <-ctx.Done():
					ch <- Chunk{Err: ctx.Err()}
					return
				}
			}
			if parsed.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- Chunk{Err: fmt.Errorf("reading stream: %w", err)}
		}
	}()

	return ch, nil
}

// HealthCheck reports whether the Ollama server is reachable.
func (c *OllamaClient) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *OllamaClient) post(ctx context.Context, prompt, stage string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  stream,
		Options: ollamaOptions{Temperature: temperatureFor(stage)},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, snippet)
	}
	return resp, nil
}
