// ABOUTME: HTTP handlers for the webhook endpoint, health checks and admin API
// ABOUTME: The webhook handler enforces rate and size limits before handing the body to the pipeline

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/bird-gateway/internal/auth"
	"github.com/2389/bird-gateway/internal/pipeline"
	"github.com/2389/bird-gateway/internal/store"
	"github.com/2389/bird-gateway/internal/whatsapp"
)

// ProcessingTimeHeader reports how long the pipeline took, in milliseconds.
const ProcessingTimeHeader = "X-Processing-Time"

// eventStreamHeartbeat keeps idle event streams from being cut by proxies.
const eventStreamHeartbeat = 30 * time.Second

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleDelivery(w, r)
	case http.MethodGet:
		g.handleSubscribe(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *Gateway) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if !g.limiter.Allow(clientKey(r)) {
		g.logger.Warn("webhook rate limited", "remote", r.RemoteAddr)
		w.Header().Set("Retry-After", "1")
		sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.Webhook.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		sendJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	// A delivery that has passed verification runs to completion even if the
	// caller hangs up, so stores are never left half-written.
	ctx := context.WithoutCancel(r.Context())
	res := g.pipeline.Process(ctx, pipeline.Request{
		Body:      body,
		Signature: r.Header.Get(g.config.Webhook.SignatureHeader),
	})

	w.Header().Set(ProcessingTimeHeader, strconv.FormatInt(res.Duration.Milliseconds(), 10)+"ms")
	writeJSON(w, res.StatusCode, res.Body)
}

// handleSubscribe answers the platform's subscription handshake.
func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.VerifySubscription(
		q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"),
		g.config.Webhook.VerifyToken,
	)
	if !ok {
		g.logger.Warn("webhook subscription rejected", "remote", r.RemoteAddr)
		sendJSONError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.components.Store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// AnalysisView is one stored classification in admin API responses.
type AnalysisView struct {
	ID         string          `json:"id"`
	Intent     string          `json:"intent"`
	Confidence float64         `json:"confidence"`
	Routing    string          `json:"routing"`
	Source     string          `json:"source"`
	AnalyzedAt string          `json:"analyzed_at"`
	Analysis   json.RawMessage `json:"analysis,omitempty"`
}

// ConversationResponse is the JSON response for GET /api/conversations/{id}.
type ConversationResponse struct {
	Context  *store.ConversationContext `json:"context"`
	Analyses []AnalysisView             `json:"analyses"`
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Parse optional limit parameter (default 20, max 100)
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, 100)
	}

	cc, err := g.components.Store.GetContext(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load context", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	records, err := g.components.Store.ListAnalyses(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to list analyses", "conversation_id", id, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ConversationResponse{Context: cc, Analyses: make([]AnalysisView, len(records))}
	for i, rec := range records {
		resp.Analyses[i] = AnalysisView{
			ID:         rec.ID,
			Intent:     rec.Intent,
			Confidence: rec.Confidence,
			Routing:    rec.Routing,
			Source:     rec.Source,
			AnalyzedAt: rec.AnalyzedAt.UTC().Format(time.RFC3339),
		}
		if json.Valid(rec.Analysis) {
			resp.Analyses[i].Analysis = rec.Analysis
		}
	}

	g.logger.Debug("conversation viewed", "conversation_id", id, "operator", auth.OperatorFromContext(r.Context()))
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")

	sess, err := g.components.Sessions.GetSession(r.Context(), phone)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load session", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Debug("session viewed", "operator", auth.OperatorFromContext(r.Context()))
	writeJSON(w, http.StatusOK, sess)
}

// writeSSEEvent writes one server-sent event with a JSON payload.
func writeSSEEvent(w io.Writer, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}

// handleEventStream streams routing events addressed to one agent as
// server-sent events. The target "*" receives every event.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, subID := g.bus.Subscribe(r.Context(), target)
	defer g.bus.Unsubscribe(target, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_ = writeSSEEvent(w, "connected", map[string]string{"target": target})
	flusher.Flush()

	operator := auth.OperatorFromContext(r.Context())
	g.logger.Info("event stream opened", "target", target, "operator", operator)
	defer g.logger.Info("event stream closed", "target", target, "operator", operator)

	heartbeat := time.NewTicker(eventStreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.streams.Done():
			return
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, "routing", ev); err != nil {
				g.logger.Warn("event stream write failed",
					"target", target,
					"conversation_id", ev.Detail.MessageData.ConversationID,
					"error", err)
				return
			}
			flusher.Flush()
		}
	}
}
