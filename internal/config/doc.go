// Package config handles configuration loading for research-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	search:
//	  api_key: "${TAVILY_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration fields accept Go duration strings ("30s", "5m", "168h"):
//
//	sessions:
//	  retention: "168h"
//	  stage_timeout: "5m"
package config
