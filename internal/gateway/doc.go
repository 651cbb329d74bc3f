// Package gateway serves the bird-gateway HTTP surface.
//
// # Overview
//
// The Gateway owns the HTTP server, the webhook pipeline and every backend
// the pipeline writes to. New dials the backends named in configuration;
// NewWithComponents assembles a Gateway around backends built elsewhere,
// which is how tests substitute in-memory stores.
//
// # Routes
//
//   - POST /webhook - signed delivery, processed by the pipeline
//   - GET /webhook - subscription handshake (hub.mode/hub.verify_token/hub.challenge)
//   - GET /health - liveness
//   - GET /health/ready - store ping
//   - GET /api/conversations/{id} - context and recent analyses (JWT)
//   - GET /api/sessions/{phone} - live session (JWT)
//   - GET /api/events/{target} - server-sent routing events for one agent, "*" for all (JWT, memory bus only)
//
// The admin routes are only mounted when auth.jwt_secret is set. With the
// memory event bus, downstream agents consume routing events through the
// event stream; a delivery whose event reaches no subscriber fails with 500
// so the platform redelivers it.
//
// # Backends
//
//	sessions.backend  sqlite | redis
//	media.backend     local | s3
//	events.backend    memory | eventbridge
//	llm.provider      anthropic | openai | none
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks; cancel ctx for graceful shutdown
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and,
// with tailscale.funnel, accepts public HTTPS on :443 so the messaging
// platform can deliver webhooks without a separate ingress.
package gateway
