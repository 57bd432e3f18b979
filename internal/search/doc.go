// Package search provides the web search gateway used by the research loop.
// The Tavily client prepends the API's AI-generated answer as a synthetic
// top-ranked result so downstream consumers treat it like any other source.
package search
