// ABOUTME: Gateway orchestrator that wires the webhook pipeline to an HTTP server
// ABOUTME: Manages listeners (TCP or Tailscale), backend lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/bird-gateway/internal/auth"
	"github.com/2389/bird-gateway/internal/config"
	"github.com/2389/bird-gateway/internal/conversation"
	"github.com/2389/bird-gateway/internal/events"
	"github.com/2389/bird-gateway/internal/intent"
	"github.com/2389/bird-gateway/internal/media"
	"github.com/2389/bird-gateway/internal/pipeline"
	"github.com/2389/bird-gateway/internal/session"
	"github.com/2389/bird-gateway/internal/webhook"
)

// replayCapacity bounds the number of delivery ids remembered for dedupe.
const replayCapacity = 100_000

// Gateway serves the webhook endpoint, health checks and the admin API.
type Gateway struct {
	config      *config.Config
	components  *Components
	pipeline    *pipeline.Pipeline
	limiter     *webhook.RateLimiter
	replay      *webhook.ReplayGuard
	jwt         *auth.JWTVerifier
	bus         events.Subscriber // nil unless the event bus is in-process
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// streams is canceled when the HTTP server shuts down so open event
	// streams release their connections.
	streams     context.Context
	stopStreams context.CancelFunc
}

// New dials the configured backends and assembles a Gateway.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	c, err := BuildComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithComponents(cfg, c, logger)
	if err != nil {
		_ = c.close()
		return nil, err
	}
	return gw, nil
}

// NewWithComponents assembles a Gateway around already-built backends.
func NewWithComponents(cfg *config.Config, c *Components, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	classifier := intent.NewClassifier(c.Provider,
		intent.WithTimeout(cfg.LLM.ClassifyTimeout),
		intent.WithLogger(logger),
	)
	contexts := conversation.New(c.Store, c.Provider, logger,
		conversation.WithLimits(conversation.Limits{
			MaxMessages:            cfg.Context.MaxMessages,
			SummarizationThreshold: cfg.Context.SummarizationThreshold,
			KeepRecent:             cfg.Context.KeepRecent,
			FallbackKeep:           cfg.Context.FallbackKeep,
		}),
		conversation.WithSummarizeTimeout(cfg.LLM.SummarizeTimeout),
	)

	replay := webhook.NewReplayGuard(cfg.Webhook.ReplayTTL, replayCapacity)
	deps := pipeline.Deps{
		Verifier:   webhook.NewVerifier([]byte(cfg.Webhook.Secret)),
		Classifier: classifier,
		Contexts:   contexts,
		Sessions:   session.NewManager(c.Sessions, logger),
		Records:    c.Store,
		Publisher:  c.Publisher,
		Media:      c.Media,
		Replay:     replay,
		Logger:     logger,
	}
	if c.WhatsApp != nil {
		deps.Fetcher = media.NewFetcher(c.WhatsApp)
	}
	if cfg.Replies.Enabled {
		if c.Provider == nil || c.WhatsApp == nil {
			replay.Close()
			return nil, errors.New("replies need both a model provider and whatsapp credentials")
		}
		deps.Responder = conversation.NewResponder(contexts, c.Provider, cfg.LLM.ReplyTimeout)
		deps.Messenger = c.WhatsApp
	}

	p, err := pipeline.New(deps)
	if err != nil {
		replay.Close()
		return nil, err
	}

	gw := &Gateway{
		config:     cfg,
		components: c,
		pipeline:   p,
		limiter:    webhook.NewRateLimiter(cfg.Webhook.RateLimit, cfg.Webhook.RateBurst),
		replay:     replay,
		logger:     logger.With("component", "gateway"),
	}
	gw.streams, gw.stopStreams = context.WithCancel(context.Background())
	if sub, ok := c.Publisher.(events.Subscriber); ok {
		gw.bus = sub
	}

	if cfg.Auth.JWTSecret != "" {
		gw.jwt, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			replay.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.httpServer.RegisterOnShutdown(gw.stopStreams)
	return gw, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", g.handleWebhook)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	if g.jwt != nil {
		authMiddleware := auth.HTTPAuthMiddleware(g.jwt, g.logger)
		mux.Handle("GET /api/conversations/{id}", authMiddleware(http.HandlerFunc(g.handleGetConversation)))
		mux.Handle("GET /api/sessions/{phone}", authMiddleware(http.HandlerFunc(g.handleGetSession)))
		if g.bus != nil {
			mux.Handle("GET /api/events/{target}", authMiddleware(http.HandlerFunc(g.handleEventStream)))
		}
		g.logger.Info("admin API enabled", "event_stream", g.bus != nil)
	} else {
		g.logger.Warn("admin API disabled - no jwt_secret configured")
		if g.bus != nil {
			g.logger.Warn("in-process event bus has no external consumers; deliveries fail until a subscriber is attached")
		}
	}
	return mux
}

// Run starts serving and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled, so shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener listens on Tailscale when enabled, otherwise on server.http_addr.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "bird-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :443 through
// Funnel (so the messaging platform can reach the webhook) or on :80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, then releases every backend.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.replay.Close()
	errs = appendCloseError(errs, "backends", g.components.close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
