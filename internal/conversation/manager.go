// ABOUTME: Bounded per-conversation memory with summarisation of older turns
// ABOUTME: Loads, appends and persists contexts and shapes them into model input

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/bird-gateway/internal/llm"
	"github.com/2389/bird-gateway/internal/store"
)

// Default window limits.
const (
	DefaultMaxMessages            = 50
	DefaultSummarizationThreshold = 40
	DefaultKeepRecent             = 20
	DefaultFallbackKeep           = 30
	DefaultSummarizeTimeout       = 30 * time.Second
)

// SummaryPrefix introduces the summary when it is injected into model input.
const SummaryPrefix = "[Resumen de conversación previa: "

const summarySystemPrompt = "Eres un asistente que resume conversaciones de atención a residentes de UrbanHub de forma concisa."

// Limits bounds the live message window.
type Limits struct {
	MaxMessages            int
	SummarizationThreshold int
	KeepRecent             int
	FallbackKeep           int
}

// DefaultLimits returns 50/40/20/30.
func DefaultLimits() Limits {
	return Limits{
		MaxMessages:            DefaultMaxMessages,
		SummarizationThreshold: DefaultSummarizationThreshold,
		KeepRecent:             DefaultKeepRecent,
		FallbackKeep:           DefaultFallbackKeep,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMessages <= 0 {
		l.MaxMessages = d.MaxMessages
	}
	if l.SummarizationThreshold <= 0 {
		l.SummarizationThreshold = d.SummarizationThreshold
	}
	if l.KeepRecent <= 0 {
		l.KeepRecent = d.KeepRecent
	}
	if l.FallbackKeep <= 0 {
		l.FallbackKeep = d.FallbackKeep
	}
	return l
}

// Manager owns the lifecycle of conversation contexts.
type Manager struct {
	store            store.ContextStore
	provider         llm.Provider
	limits           Limits
	summarizeTimeout time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimits overrides the window limits. Zero fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(m *Manager) { m.limits = l.withDefaults() }
}

// WithSummarizeTimeout bounds each summarisation call.
func WithSummarizeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.summarizeTimeout = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. A nil provider disables summarisation, and
// over-threshold contexts are truncated to the fallback window instead.
func New(st store.ContextStore, provider llm.Provider, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:            st,
		provider:         provider,
		limits:           DefaultLimits(),
		summarizeTimeout: DefaultSummarizeTimeout,
		logger:           logger.With("component", "conversation"),
		now:              time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Limits returns the active window limits.
func (m *Manager) Limits() Limits { return m.limits }

// Load returns the stored context, or a fresh one when none is live.
func (m *Manager) Load(ctx context.Context, conversationID, userID string) (*store.ConversationContext, error) {
	cc, err := m.store.GetContext(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		now := m.now()
		return &store.ConversationContext{
			ConversationID:    conversationID,
			UserID:            userID,
			Messages:          []store.ContextMessage{},
			UserPreferences:   map[string]string{},
			PropertyInterests: []string{},
			SessionStart:      now,
			LastUpdated:       now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading context %s: %w", conversationID, err)
	}
	if cc.UserID == "" {
		cc.UserID = userID
	}
	return cc, nil
}

// AppendExchange records a user turn and the reply to it, keeps the window
// bounded and persists the result.
func (m *Manager) AppendExchange(ctx context.Context, cc *store.ConversationContext, userText, assistantText string) error {
	ts := m.now()
	if n := len(cc.Messages); n > 0 && ts.Before(cc.Messages[n-1].Timestamp) {
		ts = cc.Messages[n-1].Timestamp
	}
	if ts.Before(cc.LastUpdated) {
		ts = cc.LastUpdated
	}

	cc.Messages = append(cc.Messages,
		store.ContextMessage{Role: store.RoleUser, Content: userText, Timestamp: ts},
		store.ContextMessage{Role: store.RoleAssistant, Content: assistantText, Timestamp: ts},
	)
	if cc.SessionStart.IsZero() {
		cc.SessionStart = ts
	}
	cc.LastUpdated = ts
	cc.ExpiresAt = ts.Add(store.ContextTTL)

	m.Summarize(ctx, cc)
	if over := len(cc.Messages) - m.limits.MaxMessages; over > 0 {
		cc.Messages = cc.Messages[over:]
	}

	if err := m.store.SaveContext(ctx, cc); err != nil {
		return fmt.Errorf("saving context %s: %w", cc.ConversationID, err)
	}
	return nil
}

// OptimizeForModel returns the context as model input: the summary first as
// an assistant turn, then the most recent messages.
func (m *Manager) OptimizeForModel(ctx context.Context, cc *store.ConversationContext) []llm.Message {
	m.Summarize(ctx, cc)
	return m.History(cc)
}

// History is OptimizeForModel without summarisation: it never calls the
// model and never modifies cc.
func (m *Manager) History(cc *store.ConversationContext) []llm.Message {
	recent := cc.Messages
	if over := len(recent) - m.limits.MaxMessages; over > 0 {
		recent = recent[over:]
	}

	out := make([]llm.Message, 0, len(recent)+1)
	if cc.Summary != "" {
		out = append(out, llm.Message{Role: llm.RoleAssistant, Content: SummaryPrefix + cc.Summary + "]"})
	}
	for _, msg := range recent {
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// Summarize collapses older turns into cc.Summary once the live count passes
// the threshold. It reports whether a new summary was produced. On failure
// the summary is left alone and only the fallback window is kept.
func (m *Manager) Summarize(ctx context.Context, cc *store.ConversationContext) bool {
	if len(cc.Messages) <= m.limits.SummarizationThreshold {
		return false
	}

	if m.provider == nil {
		m.truncate(cc, m.limits.FallbackKeep)
		return false
	}

	older := cc.Messages[:len(cc.Messages)-m.limits.KeepRecent]
	req := summaryRequest(cc.Summary, older)
	cc.TotalTokensUsed += llm.EstimateRequestTokens(req)

	sctx, cancel := context.WithTimeout(ctx, m.summarizeTimeout)
	defer cancel()

	resp, err := m.provider.Complete(sctx, req)
	var summary string
	if err == nil {
		summary = strings.TrimSpace(resp.Content)
	}
	if err != nil || summary == "" {
		m.logger.Warn("summarisation failed, truncating context",
			"conversation_id", cc.ConversationID,
			"messages", len(cc.Messages),
			"error", err,
		)
		m.truncate(cc, m.limits.FallbackKeep)
		return false
	}

	cc.Summary = summary
	m.truncate(cc, m.limits.KeepRecent)
	m.logger.Debug("context summarised",
		"conversation_id", cc.ConversationID,
		"summarised", len(older),
	)
	return true
}

func (m *Manager) truncate(cc *store.ConversationContext, keep int) {
	if over := len(cc.Messages) - keep; over > 0 {
		cc.Messages = append([]store.ContextMessage(nil), cc.Messages[over:]...)
	}
}

// summaryFocus is what a summary has to carry forward.
var summaryFocus = []string{
	"Preferencias de propiedades mencionadas",
	"Presupuesto y requisitos",
	"Propiedades específicas discutidas",
	"Decisiones o compromisos establecidos",
	"Estado actual de la búsqueda",
}

func summaryRequest(previous string, msgs []store.ContextMessage) llm.Request {
	var b strings.Builder
	b.WriteString("Resume esta conversación de WhatsApp entre un usuario y el asistente de UrbanHub, ")
	b.WriteString("manteniendo información clave sobre:\n")
	for _, point := range summaryFocus {
		fmt.Fprintf(&b, "- %s\n", point)
	}
	b.WriteString("\n")
	if previous != "" {
		fmt.Fprintf(&b, "Resumen previo: %s\n\n", previous)
	}
	for _, msg := range msgs {
		speaker := "Usuario"
		if msg.Role == store.RoleAssistant {
			speaker = "Asistente"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, msg.Content)
	}

	return llm.Request{
		System:      summarySystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Temperature: 0.1,
		MaxTokens:   500,
	}
}
