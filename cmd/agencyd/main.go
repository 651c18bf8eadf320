// ABOUTME: Entry point for the agencyd multi-seat agency runtime
// ABOUTME: Subcommands for serving, config init, token minting, and driving agencies from plan files

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"

	"github.com/2389/agency-runtime/internal/agency"
	"github.com/2389/agency-runtime/internal/auth"
	"github.com/2389/agency-runtime/internal/config"
	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/seat"
	"github.com/2389/agency-runtime/internal/server"
	"github.com/2389/agency-runtime/internal/store"
	"github.com/2389/agency-runtime/internal/stream"
	"github.com/2389/agency-runtime/internal/workflow"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __ _  __ _  ___ _ __   ___ _   _  __| |
 / _' |/ _' |/ _ \ '_ \ / __| | | |/ _' |
| (_| | (_| |  __/ | | | (__| |_| | (_| |
 \__,_|\__, |\___|_| |_|\___|\__, |\__,_|
       |___/                 |___/
`

// getConfigPath returns the path to the agencyd config file.
// Priority: AGENCYD_CONFIG env var > XDG_CONFIG_HOME/agencyd/config.yaml > ~/.config/agencyd/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENCYD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agencyd", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agencyd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the agency runtime server")
		fmt.Println("  init                  Write a default config file")
		fmt.Println("  health                Check server health")
		fmt.Println("  token --sub SUBJECT   Mint an API bearer token")
		fmt.Println("  start --plan FILE     Start an agency from a TOML plan file")
		fmt.Println("  watch AGENCY_ID       Stream an agency's progress events")
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
	case "token":
		err = runToken(os.Args[2:])
	case "start":
		err = runStart(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if *cfg.Cache.Persistence.Enabled {
		fmt.Printf("Database: %s\n", cfg.Database.Path)
	} else {
		fmt.Printf("Database: (memory only)\n")
	}
	green.Print("    ▶ ")
	if cfg.Auth.JWTSecret != "" {
		fmt.Printf("Auth:     enabled\n")
	} else {
		fmt.Printf("Auth:     disabled\n")
	}
	fmt.Println()

	logger.Info("starting agencyd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}
	return rt.Run(ctx)
}

// runtime bundles the assembled subsystems and owns orderly shutdown.
type runtime struct {
	cfg         *config.Config
	store       store.Store
	cache       *conversation.SessionCache
	coordinator *agency.Coordinator
	server      *server.Server
	logger      *slog.Logger
}

// buildRuntime wires the subsystems together: store, session cache, seat
// executor, coordinator, and HTTP server. No globals; everything is owned by
// the returned runtime.
func buildRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	var st store.Store
	if *cfg.Cache.Persistence.Enabled {
		sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		st = sqliteStore
	}

	cache, err := conversation.NewSessionCache(cfg.Cache.MaxSessions, st, *cfg.Cache.Persistence.Enabled, logger)
	if err != nil {
		return nil, err
	}

	// The runner is the external single-turn capability. Until a model
	// backend is plugged in, the scripted echo runner makes the whole
	// pipeline exercisable end to end.
	runner := seat.NewScriptedRunner()
	executor := seat.NewExecutor(runner, nil, seat.NewRegistry(), cfg.Agency.SeatTimeout, logger)

	broadcaster := stream.NewBroadcaster(logger)

	// Config resolves max_retries to an exact count, where zero means
	// retries are disabled. The coordinator treats zero as "use the
	// default", so disabled must be passed explicitly.
	maxRetries := cfg.Agency.MaxRetries
	if maxRetries == 0 {
		maxRetries = agency.NoRetries
	}

	coordCfg := agency.Config{
		Concurrency:      cfg.Agency.Concurrency,
		MaxRetries:       maxRetries,
		RetryDelay:       cfg.Agency.RetryDelay,
		SuccessThreshold: cfg.Agency.SuccessThreshold,
		PersistMandatory: cfg.Cache.Persistence.Mandatory,
		CancelGrace:      cfg.Agency.ShutdownGrace,
	}
	decomposer := &agency.PipelineDecomposer{Roles: []string{"researcher", "writer"}}
	coordinator, err := agency.New(coordCfg, st, cache, executor, decomposer, broadcaster, logger)
	if err != nil {
		return nil, err
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewTokens([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth disabled: no jwt_secret configured")
	}

	srv := server.New(cfg.Server.HTTPAddr, coordinator, cache, st, verifier, logger)

	return &runtime{
		cfg:         cfg,
		store:       st,
		cache:       cache,
		coordinator: coordinator,
		server:      srv,
		logger:      logger,
	}, nil
}

// Run serves until ctx is cancelled, then drains: HTTP first, then the
// coordinator, then a final cache flush before the store closes.
func (rt *runtime) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down", "grace", rt.cfg.Agency.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Agency.ShutdownGrace)
	defer cancel()

	if err := rt.server.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("http shutdown failed", "error", err)
	}
	if err := rt.coordinator.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("coordinator shutdown incomplete", "error", err)
	}
	if err := rt.cache.FlushAll(shutdownCtx); err != nil {
		rt.logger.Error("final cache flush failed", "error", err)
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Error("store close failed", "error", err)
		}
	}
	rt.logger.Info("shutdown complete")
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

const defaultConfigTemplate = `# agencyd configuration
server:
  http_addr: ":8745"

database:
  path: "%s"

cache:
  max_sessions: 128
  persistence:
    enabled: true
    mandatory: false

agency:
  concurrency: 4
  max_retries: 2
  retry_delay: "2s"
  seat_timeout: "60s"
  shutdown_grace: "10s"
  success_threshold: 0.5

auth:
  # Set to enable bearer-token auth on the API:
  # jwt_secret: "${AGENCYD_JWT_SECRET}"
  jwt_secret: ""

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := filepath.Join(filepath.Dir(configPath), "agencyd.db")
	content := fmt.Sprintf(defaultConfigTemplate, dbPath)
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func serverURL() string {
	if url := os.Getenv("AGENCYD_URL"); url != "" {
		return strings.TrimSuffix(url, "/")
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "http://localhost:8745"
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func apiRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, serverURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := os.Getenv("AGENCYD_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	resp, err := apiRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: %s", resp.Status)
	}
	color.New(color.FgGreen).Print("✓ ")
	fmt.Println("server is healthy")
	return nil
}

func runToken(args []string) error {
	var subject string
	lifetime := 24 * time.Hour
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--sub" || args[i] == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			i++
			subject = args[i]
		case strings.HasPrefix(args[i], "--sub="):
			subject = strings.TrimPrefix(args[i], "--sub=")
		case args[i] == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			lifetime = d
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}
	if subject == "" {
		return fmt.Errorf("--sub is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	signed, err := auth.NewTokens([]byte(cfg.Auth.JWTSecret)).Issue(subject, lifetime)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}
	fmt.Println(signed)
	return nil
}

// planFile is the TOML shape accepted by `agencyd start --plan`.
type planFile struct {
	Goal           string              `toml:"goal"`
	Strategy       string              `toml:"strategy"`
	ConversationID string              `toml:"conversation_id"`
	Tasks          []workflow.TaskSpec `toml:"tasks"`
}

func runStart(ctx context.Context, args []string) error {
	var planPath, goal string
	watch := false
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--plan" || args[i] == "-p":
			if i+1 >= len(args) {
				return fmt.Errorf("--plan requires a value")
			}
			i++
			planPath = args[i]
		case strings.HasPrefix(args[i], "--plan="):
			planPath = strings.TrimPrefix(args[i], "--plan=")
		case args[i] == "--goal" || args[i] == "-g":
			if i+1 >= len(args) {
				return fmt.Errorf("--goal requires a value")
			}
			i++
			goal = args[i]
		case args[i] == "--watch" || args[i] == "-w":
			watch = true
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	payload := map[string]any{}
	switch {
	case planPath != "":
		var plan planFile
		if _, err := toml.DecodeFile(planPath, &plan); err != nil {
			return fmt.Errorf("parsing plan file: %w", err)
		}
		strategy := plan.Strategy
		if strategy == "" {
			strategy = string(agency.StrategyStatic)
		}
		payload["strategy"] = strategy
		payload["plan"] = plan.Tasks
		if plan.Goal != "" {
			payload["goal"] = plan.Goal
		}
		if plan.ConversationID != "" {
			payload["conversation_id"] = plan.ConversationID
		}
	case goal != "":
		payload["strategy"] = string(agency.StrategyEmergent)
		payload["goal"] = goal
	default:
		return fmt.Errorf("either --plan or --goal is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := apiRequest(ctx, http.MethodPost, "/api/agencies", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("start failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var started struct {
		AgencyID string `json:"agency_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("agency started: %s\n", started.AgencyID)

	if watch {
		return streamEvents(ctx, started.AgencyID)
	}
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: agencyd watch AGENCY_ID")
	}
	return streamEvents(ctx, args[0])
}

// streamEvents follows an agency's SSE stream, printing one line per event
// until the terminal event arrives or ctx is cancelled.
func streamEvents(ctx context.Context, agencyID string) error {
	resp, err := apiRequest(ctx, http.MethodGet, "/api/agencies/"+agencyID+"/events", nil)
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream failed: %s", resp.Status)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	scanner := bufio.NewScanner(resp.Body)
	current := ""
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			current = name
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		switch current {
		case "snapshot":
			gray.Printf("· attached to %s\n", agencyID)
		case "seat_started":
			cyan.Print("▶ ")
			fmt.Println(summarizeEvent(data))
		case "seat_succeeded":
			green.Print("✓ ")
			fmt.Println(summarizeEvent(data))
		case "seat_failed":
			red.Print("✗ ")
			fmt.Println(summarizeEvent(data))
		case "agency_completed":
			green.Print("✓ ")
			fmt.Printf("agency completed %s\n", summarizeEvent(data))
			return nil
		case "agency_failed":
			red.Print("✗ ")
			fmt.Printf("agency failed %s\n", summarizeEvent(data))
			return nil
		default:
			gray.Printf("· %s %s\n", current, summarizeEvent(data))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// summarizeEvent renders the interesting fields of one event data payload.
func summarizeEvent(data string) string {
	var ev stream.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return data
	}
	parts := []string{}
	if ev.TaskID != "" {
		parts = append(parts, ev.TaskID)
	}
	if ev.RoleID != "" {
		parts = append(parts, "role="+ev.RoleID)
	}
	if ev.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", ev.Attempt))
	}
	if ev.Cost > 0 {
		parts = append(parts, fmt.Sprintf("cost=%.4f", ev.Cost))
	}
	if ev.Error != "" {
		parts = append(parts, "error="+ev.Error)
	}
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	return strings.Join(parts, " ")
}
