// Package config handles configuration loading for bird-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Missing optional values receive defaults before validation runs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BIRD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/bird/gateway.yaml
//  3. ~/.config/bird/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	webhook:
//	  secret: "${BIRD_WEBHOOK_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/bird/gateway.db"
//
//	webhook:
//	  secret: "${BIRD_WEBHOOK_SECRET}"
//	  signature_header: "X-Bird-Signature"
//	  verify_token: "${BIRD_VERIFY_TOKEN}"
//	  rate_limit: 10          # per client, per second
//	  replay_ttl: "10m"
//
//	llm:
//	  provider: "anthropic"   # anthropic, openai, none
//	  api_key: "${ANTHROPIC_API_KEY}"
//	  classify_timeout: "10s"
//	  summarize_timeout: "30s"
//
//	context:
//	  max_messages: 50
//	  summarization_threshold: 40
//	  keep_recent: 20
//	  fallback_keep: 30
//
//	sessions:
//	  backend: "sqlite"       # sqlite, redis
//
//	media:
//	  backend: "s3"           # s3, local
//	  bucket: "urbanhub-media"
//
//	events:
//	  backend: "eventbridge"  # eventbridge, memory
//	  bus_name: "urbanhub"
//
//	whatsapp:
//	  token: "${WHATSAPP_TOKEN}"
//	  phone_number_id: "123456"
//
//	replies:
//	  enabled: false
//
//	auth:
//	  jwt_secret: "${BIRD_JWT_SECRET}"  # enables the admin read API
//
// Durations use Go's time.ParseDuration syntax.
package config
