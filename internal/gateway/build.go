// ABOUTME: Builds the gateway's backends from configuration
// ABOUTME: Selects the store, session backend, model provider, media store, event bus and messenger

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/bird-gateway/internal/config"
	"github.com/2389/bird-gateway/internal/events"
	"github.com/2389/bird-gateway/internal/llm"
	"github.com/2389/bird-gateway/internal/media"
	"github.com/2389/bird-gateway/internal/store"
	"github.com/2389/bird-gateway/internal/whatsapp"
)

// Components are the backends a Gateway is assembled from.
type Components struct {
	Store     store.Store
	Sessions  store.SessionStore
	Provider  llm.Provider // nil disables model calls
	Media     media.Store  // nil disables media storage
	Publisher events.Publisher
	WhatsApp  *whatsapp.Client // nil when no API token is configured

	// closers release backend resources on shutdown, in order
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (c *Components) onClose(name string, fn func() error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

// initStore opens the SQLite store. BIRD_DB_PATH overrides database.path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BIRD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// BuildComponents dials every backend named in cfg. On error, anything
// already opened is closed.
func BuildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{}
	defer func() {
		if err != nil {
			_ = c.close()
		}
	}()

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	c.Store = sqlStore
	c.onClose("store", sqlStore.Close)

	if c.Sessions, err = buildSessions(ctx, cfg, sqlStore, c, logger); err != nil {
		return nil, err
	}
	if c.Provider, err = buildProvider(cfg.LLM); err != nil {
		return nil, err
	}
	if c.Media, err = buildMedia(ctx, cfg.Media); err != nil {
		return nil, err
	}
	if c.Publisher, err = buildPublisher(ctx, cfg.Events, c, logger); err != nil {
		return nil, err
	}
	c.WhatsApp = buildWhatsApp(cfg.WhatsApp, logger)

	return c, nil
}

func buildSessions(ctx context.Context, cfg *config.Config, sqlStore *store.SQLiteStore, c *Components, logger *slog.Logger) (store.SessionStore, error) {
	if cfg.Sessions.Backend != "redis" {
		return sqlStore, nil
	}
	rs, err := store.DialRedisSessionStore(ctx, cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword, cfg.Sessions.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("connecting session redis: %w", err)
	}
	c.onClose("redis", rs.Close)
	logger.Info("sessions stored in redis", "addr", cfg.Sessions.RedisAddr)
	return rs, nil
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		var opts []llm.AnthropicOption
		if cfg.Model != "" {
			opts = append(opts, llm.WithAnthropicModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, llm.WithAnthropicBaseURL(cfg.BaseURL))
		}
		return llm.NewAnthropicProvider(cfg.APIKey, opts...), nil
	case "openai":
		return llm.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func buildMedia(ctx context.Context, cfg config.MediaConfig) (media.Store, error) {
	switch cfg.Backend {
	case "s3":
		s, err := media.DialS3Store(ctx, media.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring s3 media store: %w", err)
		}
		return s, nil
	case "local":
		s, err := media.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("configuring local media store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.EventsConfig, c *Components, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Backend {
	case "eventbridge":
		p, err := events.DialEventBridge(ctx, cfg.BusName, cfg.Region, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring eventbridge: %w", err)
		}
		return p, nil
	case "memory":
		b := events.NewBroadcaster(logger)
		c.onClose("broadcaster", func() error { b.Close(); return nil })
		return b, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func buildWhatsApp(cfg config.WhatsAppConfig, logger *slog.Logger) *whatsapp.Client {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil
	}
	return whatsapp.New(cfg.Token, cfg.PhoneNumberID,
		whatsapp.WithBaseURL(cfg.BaseURL, cfg.APIVersion),
		whatsapp.WithLogger(logger),
	)
}

func (c *Components) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", c.closers[i].name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
