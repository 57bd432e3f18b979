// ABOUTME: Entry point for the research-gateway server
// ABOUTME: Subcommands: serve, init, health, sessions

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/research-gateway/internal/config"
	"github.com/2389/research-gateway/internal/gateway"
	"github.com/2389/research-gateway/internal/llm"
	"github.com/2389/research-gateway/internal/notify"
	"github.com/2389/research-gateway/internal/search"
	"github.com/2389/research-gateway/internal/session"
	"github.com/2389/research-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                       _
  _ __ ___  ___  ___  __ _ _ __ ___| |__
 | '__/ _ \/ __|/ _ \/ _' | '__/ __| '_ \
 | | |  __/\__ \  __/ (_| | | | (__| | | |
 |_|  \___||___/\___|\__,_|_|  \___|_| |_|  gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: RESEARCH_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/research-gateway/gateway.yaml > ~/.config/research-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RESEARCH_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "research-gateway", "gateway.yaml")
}

// getDataPath returns the path to the research-gateway data directory.
// Priority: XDG_DATA_HOME/research-gateway > ~/.local/share/research-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "research-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: research-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the research gateway server")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  health     Check gateway health")
		fmt.Println("  sessions   List research sessions")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "sessions":
		err = runSessions(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger. Components pick it up through slog.Default.
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("LLM:       %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Search.APIKey == "" {
		yellow := color.New(color.FgYellow)
		yellow.Print("    ▶ ")
		fmt.Println("Search:    no API key configured, web search disabled")
	}
	fmt.Println()

	logger.Info("starting research-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"llm_provider", cfg.LLM.Provider,
	)

	// Session storage
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer sqlStore.Close()

	// External gateways
	llmClient, err := llm.New(cfg.LLM.Provider, llm.Options{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}
	searchClient := search.NewTavilyClient(cfg.Search.BaseURL, cfg.Search.APIKey)

	// Progress fan-out and session lifecycle
	broadcaster := notify.NewBroadcaster(logger.With("component", "broadcaster"))
	defer broadcaster.Close()

	manager := session.NewManager(sqlStore, llmClient, searchClient, broadcaster, session.Options{
		StageTimeout: cfg.Sessions.StageTimeout,
		MaxResults:   cfg.Search.MaxResults,
	})
	defer manager.Close()

	go manager.RunCleanupLoop(ctx, cfg.Sessions.CleanupInterval, cfg.Sessions.Retention)

	gw := gateway.New(cfg, manager, broadcaster, llmClient, searchClient)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/v1/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("%s (llm: %v, search: %v)\n", health.Status, health.LLM, health.Search)
	return nil
}

func runSessions(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/v1/research", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sessions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list gateway.ListSessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(list.Sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, s := range list.Sessions {
		fmt.Printf("%s  %-18s %3d%%  %s\n", s.ID, s.Stage, s.Progress, truncateQuestion(s.ResearchQuestion))
		gray.Printf("  created %s, updated %s\n",
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.LastUpdated.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func truncateQuestion(q string) string {
	if len(q) <= 60 {
		return q
	}
	return q[:60] + "..."
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("research-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "research.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// LLM gateway
	fmt.Println("\n--- LLM Configuration ---")
	provider := prompt(reader, "Provider (ollama/openai)", config.DefaultProvider)
	var llmBaseURL, llmAPIKey string
	if provider == "openai" {
		llmBaseURL = prompt(reader, "API base URL", "https://api.openai.com")
		llmAPIKey = prompt(reader, "API key (or ${OPENAI_API_KEY})", "${OPENAI_API_KEY}")
	} else {
		llmBaseURL = prompt(reader, "Ollama base URL", config.DefaultOllamaBaseURL)
	}
	model := prompt(reader, "Model", config.DefaultModel)

	// Search gateway
	fmt.Println("\n--- Search Configuration ---")
	searchKey := prompt(reader, "Tavily API key (or ${TAVILY_API_KEY}, empty to disable)", "${TAVILY_API_KEY}")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# research-gateway configuration\n")
	cfg.WriteString("# Generated by research-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("  cors_origins: [\"*\"]\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("llm:\n")
	cfg.WriteString(fmt.Sprintf("  provider: %q\n", provider))
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", llmBaseURL))
	if llmAPIKey != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: %q\n", llmAPIKey))
	}
	cfg.WriteString(fmt.Sprintf("  model: %q\n", model))
	cfg.WriteString("  timeout: \"5m\"\n\n")

	cfg.WriteString("search:\n")
	cfg.WriteString(fmt.Sprintf("  api_key: %q\n\n", searchKey))

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  retention: \"168h\"\n")
	cfg.WriteString("  cleanup_interval: \"1h\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Create directories
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\n✓ Config written to %s\n", outputFile)
	fmt.Println("\nStart the server with: research-gateway serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	answer, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultValue
	}
	return answer
}
