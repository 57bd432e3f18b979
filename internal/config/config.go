// ABOUTME: Configuration loading and parsing for research-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete research-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig holds generation backend configuration
type LLMConfig struct {
	Provider string `yaml:"provider"` // "ollama" or "openai"
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// SearchConfig holds web search backend configuration
type SearchConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxResults int    `yaml:"max_results"`
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	Retention       time.Duration `yaml:"-"`
	StageTimeout    time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetentionRaw       string `yaml:"retention"`
	StageTimeoutRaw    string `yaml:"stage_timeout"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves fields unset.
const (
	DefaultHTTPAddr        = "localhost:8000"
	DefaultProvider        = "ollama"
	DefaultOllamaBaseURL   = "http://localhost:11434"
	DefaultModel           = "gemma3:4b"
	DefaultSearchBaseURL   = "https://api.tavily.com"
	DefaultMaxResults      = 10
	DefaultLLMTimeout      = 5 * time.Minute
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with their default values.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	if c.LLM.BaseURL == "" && c.LLM.Provider == "ollama" {
		c.LLM.BaseURL = DefaultOllamaBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.Search.BaseURL == "" {
		c.Search.BaseURL = DefaultSearchBaseURL
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = DefaultMaxResults
	}
	if c.Sessions.Retention == 0 {
		c.Sessions.Retention = DefaultRetention
	}
	if c.Sessions.CleanupInterval == 0 {
		c.Sessions.CleanupInterval = DefaultCleanupInterval
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("llm.base_url is required for the openai provider")
		}
	default:
		return fmt.Errorf("llm.provider must be ollama or openai, got %q", c.LLM.Provider)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.LLM.TimeoutRaw != "" {
		cfg.LLM.Timeout, err = time.ParseDuration(cfg.LLM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing llm.timeout %q: %w", cfg.LLM.TimeoutRaw, err)
		}
	}

	if cfg.Sessions.RetentionRaw != "" {
		cfg.Sessions.Retention, err = time.ParseDuration(cfg.Sessions.RetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.retention %q: %w", cfg.Sessions.RetentionRaw, err)
		}
	}

	if cfg.Sessions.StageTimeoutRaw != "" {
		cfg.Sessions.StageTimeout, err = time.ParseDuration(cfg.Sessions.StageTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.stage_timeout %q: %w", cfg.Sessions.StageTimeoutRaw, err)
		}
	}

	if cfg.Sessions.CleanupIntervalRaw != "" {
		cfg.Sessions.CleanupInterval, err = time.ParseDuration(cfg.Sessions.CleanupIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.cleanup_interval %q: %w", cfg.Sessions.CleanupIntervalRaw, err)
		}
	}

	return nil
}
