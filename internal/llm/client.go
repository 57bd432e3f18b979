// ABOUTME: Generation Gateway contract and provider factory
// ABOUTME: Defines the Client interface, stage labels, and per-stage sampling temperatures

package llm

import (
	"context"
	"fmt"
	"time"
)

// Stage labels passed with every generation call. The client picks sampling
// parameters per stage; the orchestrator never sees provider knobs.
const (
	StageClarification = "clarification"
	StageBrief         = "brief"
	StagePlanner       = "planner"
	StageResearch      = "research"
	StageSynthesis     = "synthesis"
)

// stageTemperature maps workflow stages to sampling temperatures. Synthesis
// runs cooler to keep the report grounded in the summaries.
var stageTemperature = map[string]float64{
	StageClarification: 0.3,
	StageBrief:         0.3,
	StagePlanner:       0.3,
	StageResearch:      0.3,
	StageSynthesis:     0.2,
}

func temperatureFor(stage string) float64 {
	if t, ok := stageTemperature[stage]; ok {
		return t
	}
	return 0.3
}

// Chunk is one incremental fragment of a streaming generation. Err is set on
// the final chunk when the stream terminated abnormally; the channel is
// closed after the last chunk either way.
type Chunk struct {
	Text string
	Err  error
}

// Client is the narrow contract the workflow engine needs from a language
// model backend.
type Client interface {
	// Generate produces a complete response for the prompt.
	Generate(ctx context.Context, prompt, stage string) (string, error)

	// StreamGenerate produces the response incrementally. The returned
	// channel is closed when generation finishes or fails.
	StreamGenerate(ctx context.Context, prompt, stage string) (<-chan Chunk, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) bool
}

// Options configures a provider client.
type Options struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// New creates a Client for the named provider ("ollama" or "openai").
func New(provider string, opts Options) (Client, error) {
	switch provider {
	case "ollama":
		return NewOllamaClient(opts), nil
	case "openai":
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
