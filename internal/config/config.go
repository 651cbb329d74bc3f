// ABOUTME: Configuration loading and parsing for bird-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bird-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	LLM       LLMConfig       `yaml:"llm"`
	Context   ContextConfig   `yaml:"context"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Media     MediaConfig     `yaml:"media"`
	Events    EventsConfig    `yaml:"events"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Replies   RepliesConfig   `yaml:"replies"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
// Funnel exposes the webhook endpoint publicly so the messaging platform can reach it.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	Secret          string  `yaml:"secret"`
	SignatureHeader string  `yaml:"signature_header"`
	VerifyToken     string  `yaml:"verify_token"`
	MaxBodyBytes    int64   `yaml:"max_body_bytes"`
	RateLimit       float64 `yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst       int     `yaml:"rate_burst"`

	ReplayTTL    time.Duration `yaml:"-"`
	ReplayTTLRaw string        `yaml:"replay_ttl"`
}

// LLMConfig selects and configures the language model provider
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, or none
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	ClassifyTimeout  time.Duration `yaml:"-"`
	SummarizeTimeout time.Duration `yaml:"-"`
	ReplyTimeout     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ClassifyTimeoutRaw  string `yaml:"classify_timeout"`
	SummarizeTimeoutRaw string `yaml:"summarize_timeout"`
	ReplyTimeoutRaw     string `yaml:"reply_timeout"`
}

// ContextConfig holds conversation window limits
type ContextConfig struct {
	MaxMessages            int `yaml:"max_messages"`
	SummarizationThreshold int `yaml:"summarization_threshold"`
	KeepRecent             int `yaml:"keep_recent"`
	FallbackKeep           int `yaml:"fallback_keep"`
}

// SessionsConfig selects the session storage backend
type SessionsConfig struct {
	Backend       string `yaml:"backend"` // sqlite or redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// MediaConfig selects the media object store
type MediaConfig struct {
	Backend  string `yaml:"backend"` // s3 or local
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Dir      string `yaml:"dir"`

	// Optional static keys; the default AWS credential chain is used otherwise
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// EventsConfig selects the routing event bus
type EventsConfig struct {
	Backend string `yaml:"backend"` // eventbridge or memory
	BusName string `yaml:"bus_name"`
	Region  string `yaml:"region"`
}

// WhatsAppConfig holds messaging platform API credentials
type WhatsAppConfig struct {
	Token         string `yaml:"token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIVersion    string `yaml:"api_version"`
	BaseURL       string `yaml:"base_url"`
}

// RepliesConfig controls automatic reply generation
type RepliesConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig holds authentication configuration for the admin API
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig enables span export to stdout
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "X-Bird-Signature"
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}
	if c.Webhook.RateBurst == 0 {
		c.Webhook.RateBurst = 20
	}
	if c.Webhook.ReplayTTL == 0 {
		c.Webhook.ReplayTTL = 10 * time.Minute
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.ClassifyTimeout == 0 {
		c.LLM.ClassifyTimeout = 10 * time.Second
	}
	if c.LLM.SummarizeTimeout == 0 {
		c.LLM.SummarizeTimeout = 30 * time.Second
	}
	if c.LLM.ReplyTimeout == 0 {
		c.LLM.ReplyTimeout = 30 * time.Second
	}

	if c.Context.MaxMessages == 0 {
		c.Context.MaxMessages = 50
	}
	if c.Context.SummarizationThreshold == 0 {
		c.Context.SummarizationThreshold = 40
	}
	if c.Context.KeepRecent == 0 {
		c.Context.KeepRecent = 20
	}
	if c.Context.FallbackKeep == 0 {
		c.Context.FallbackKeep = 30
	}

	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "sqlite"
	}
	if c.Media.Backend == "" {
		c.Media.Backend = "local"
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "memory"
	}
	if c.Events.BusName == "" {
		c.Events.BusName = "default"
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v18.0"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "bird-gateway"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
		}
	case "none":
	default:
		return fmt.Errorf("llm.provider must be anthropic, openai, or none (got %q)", c.LLM.Provider)
	}

	ctx := c.Context
	if ctx.KeepRecent >= ctx.SummarizationThreshold || ctx.SummarizationThreshold >= ctx.MaxMessages {
		return fmt.Errorf("context limits must satisfy keep_recent < summarization_threshold < max_messages")
	}
	if ctx.FallbackKeep > ctx.MaxMessages {
		return fmt.Errorf("context.fallback_keep must not exceed max_messages")
	}

	switch c.Sessions.Backend {
	case "sqlite":
	case "redis":
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("sessions.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("sessions.backend must be sqlite or redis (got %q)", c.Sessions.Backend)
	}

	switch c.Media.Backend {
	case "s3":
		if c.Media.Bucket == "" {
			return fmt.Errorf("media.bucket is required for the s3 backend")
		}
		if (c.Media.AccessKeyID == "") != (c.Media.SecretAccessKey == "") {
			return fmt.Errorf("media.access_key_id and media.secret_access_key must be set together")
		}
	case "local":
		if c.Media.Dir == "" {
			return fmt.Errorf("media.dir is required for the local backend")
		}
	default:
		return fmt.Errorf("media.backend must be s3 or local (got %q)", c.Media.Backend)
	}

	switch c.Events.Backend {
	case "eventbridge", "memory":
	default:
		return fmt.Errorf("events.backend must be eventbridge or memory (got %q)", c.Events.Backend)
	}

	if c.Replies.Enabled && (c.WhatsApp.Token == "" || c.WhatsApp.PhoneNumberID == "") {
		return fmt.Errorf("whatsapp.token and whatsapp.phone_number_id are required when replies are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"webhook.replay_ttl", cfg.Webhook.ReplayTTLRaw, &cfg.Webhook.ReplayTTL},
		{"llm.classify_timeout", cfg.LLM.ClassifyTimeoutRaw, &cfg.LLM.ClassifyTimeout},
		{"llm.summarize_timeout", cfg.LLM.SummarizeTimeoutRaw, &cfg.LLM.SummarizeTimeout},
		{"llm.reply_timeout", cfg.LLM.ReplyTimeoutRaw, &cfg.LLM.ReplyTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
