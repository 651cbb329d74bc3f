// ABOUTME: Entry point for bird-gateway, the messaging webhook intake and routing server
// ABOUTME: Provides serve, init, health, sign, token and purge commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
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

	"github.com/fatih/color"

	"github.com/2389/bird-gateway/internal/auth"
	"github.com/2389/bird-gateway/internal/config"
	"github.com/2389/bird-gateway/internal/gateway"
	"github.com/2389/bird-gateway/internal/store"
	"github.com/2389/bird-gateway/internal/telemetry"
	"github.com/2389/bird-gateway/internal/webhook"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _     _         _                   _
 | |__ (_)_ __ __| |   __ _  __ _| |_ _____      ____ _ _   _
 | '_ \| | '__/ _' |  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_) | | | | (_| | | (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_.__/|_|_|  \__,_|  \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                      |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: BIRD_CONFIG env var > XDG_CONFIG_HOME/bird/gateway.yaml > ~/.config/bird/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BIRD_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "bird", "gateway.yaml")
}

// getDataPath returns the path to the bird data directory.
// Priority: XDG_DATA_HOME/bird > ~/.local/share/bird
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "bird")
}

func usage() {
	fmt.Println("Usage: bird-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the gateway server")
	fmt.Println("  init                       Create a new config file interactively")
	fmt.Println("  health [--ready]           Check gateway health")
	fmt.Println("  sign [FILE]                Print the webhook signature for a payload (stdin if no FILE)")
	fmt.Println("  token SUBJECT [--ttl DUR]  Mint an admin API token")
	fmt.Println("  purge                      Delete expired records")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx, args)
	case "sign":
		err = runSign(args)
	case "token":
		err = runToken(args)
	case "purge":
		err = runPurge(ctx)
	case "help", "-h", "--help":
		usage()
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
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	line("Model", cfg.LLM.Provider)
	line("Sessions", cfg.Sessions.Backend)
	line("Media", cfg.Media.Backend)
	line("Events", cfg.Events.Backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Replies.Enabled {
		yellow.Println("    ▶ Replies enabled")
	}
	fmt.Println()

	_, shutdownTracing, err := telemetry.Setup(telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces failed", "error", err)
		}
	}()

	logger.Info("starting bird-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{out: os.Stdout, level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	writeAttr := func(a slog.Attr) {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	buf.WriteString("\n")

	h.lock().Lock()
	defer h.lock().Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

// lock returns the mutex shared by every handler derived from the same root.
func (h *colorHandler) lock() *sync.Mutex {
	if h.mu == nil {
		h.mu = &sync.Mutex{}
	}
	return h.mu
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{mu: h.lock(), out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.lock(), out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	path := "/health"
	for _, a := range args {
		switch a {
		case "--ready":
			path = "/health/ready"
		default:
			return fmt.Errorf("unknown flag: %s", a)
		}
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runSign prints the signature header value for a payload, for replaying
// deliveries by hand with curl.
func runSign(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	switch len(args) {
	case 0:
	case 1:
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening payload: %w", err)
		}
		defer f.Close()
		in = f
	default:
		return errors.New("sign takes at most one file")
	}

	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	fmt.Printf("%s: %s\n", cfg.Webhook.SignatureHeader, webhook.NewVerifier([]byte(cfg.Webhook.Secret)).Sign(body))
	return nil
}

// parseTokenArgs supports "SUBJECT --ttl 24h" and "--ttl=24h SUBJECT".
func parseTokenArgs(args []string) (string, time.Duration, error) {
	var subject string
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var raw string
		switch {
		case arg == "--ttl":
			if i+1 >= len(args) {
				return "", 0, errors.New("--ttl requires a value")
			}
			raw = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			raw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return "", 0, fmt.Errorf("unknown flag: %s", arg)
		default:
			if subject != "" {
				return "", 0, fmt.Errorf("unexpected argument: %s", arg)
			}
			subject = strings.TrimSpace(arg)
			continue
		}

		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return "", 0, fmt.Errorf("invalid --ttl %q", raw)
		}
		ttl = d
	}

	if subject == "" {
		return "", 0, errors.New("token subject is required")
	}
	return subject, ttl, nil
}

func runToken(args []string) error {
	subject, ttl, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "subject %s, expires %s\n", subject, time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

func runPurge(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	res, err := s.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purging: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Removed %d expired record(s)\n", res.Total())
	fmt.Printf("    contexts: %d  sessions: %d  inbound: %d  analyses: %d\n",
		res.Contexts, res.Sessions, res.Inbound, res.Analyses)
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("bird-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(defaultDataPath, "gateway.db"))
	mediaDir := prompt(reader, "Media directory", filepath.Join(defaultDataPath, "media"))

	fmt.Println("\n--- Model Configuration ---")
	provider := prompt(reader, "LLM provider (anthropic/openai/none)", "anthropic")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "bird-gateway")
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS for webhooks)?", "yes"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	webhookSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating webhook secret: %w", err)
	}
	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# bird-gateway configuration\n")
	cfg.WriteString("# Generated by bird-gateway init\n\n")

	fmt.Fprintf(&cfg, "server:\n  http_addr: %q\n\n", httpAddr)
	fmt.Fprintf(&cfg, "database:\n  path: %q\n\n", dbPath)
	fmt.Fprintf(&cfg, "tailscale:\n  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n  funnel: %t\n", tsHostname, tsFunnel)
	}
	cfg.WriteString("\n")
	fmt.Fprintf(&cfg, "webhook:\n  secret: %q\n  verify_token: \"${BIRD_VERIFY_TOKEN}\"\n\n", webhookSecret)
	fmt.Fprintf(&cfg, "llm:\n  provider: %q\n", provider)
	if provider != "none" {
		cfg.WriteString("  api_key: \"${LLM_API_KEY}\"\n")
	}
	cfg.WriteString("\n")
	fmt.Fprintf(&cfg, "media:\n  backend: \"local\"\n  dir: %q\n\n", mediaDir)
	cfg.WriteString("events:\n  backend: \"memory\"\n\n")
	fmt.Fprintf(&cfg, "auth:\n  jwt_secret: %q\n\n", jwtSecret)
	fmt.Fprintf(&cfg, "logging:\n  level: %q\n  format: %q\n", logLevel, logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  bird-gateway serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
