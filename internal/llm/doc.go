// Package llm provides clients for the text generation backends the
// workflow engine talks to. Two providers are supported: a local Ollama
// server and any OpenAI-compatible chat completions API. Sampling
// temperature is chosen per workflow stage, not by the caller.
package llm
