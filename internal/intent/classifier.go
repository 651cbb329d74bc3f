// ABOUTME: Two-stage intent classifier: language model first, keyword table as fallback
// ABOUTME: Classification never fails; every degradation is logged and falls back

package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/bird-gateway/internal/llm"
)

// DefaultTimeout bounds the model call before falling back.
const DefaultTimeout = 10 * time.Second

const systemPrompt = "Eres un clasificador experto de intenciones para el sistema de atención de UrbanHub."

// Input is what the classifier needs to know about a message.
type Input struct {
	Text       string
	SenderName string
	History    []llm.Message
}

// Classifier implements the primary model path with a deterministic fallback.
type Classifier struct {
	provider llm.Provider
	fallback *KeywordClassifier
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout sets the model call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFallback replaces the keyword classifier.
func WithFallback(k *KeywordClassifier) Option {
	return func(c *Classifier) { c.fallback = k }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClassifier creates a classifier. A nil provider means every message is
// classified by keywords.
func NewClassifier(provider llm.Provider, opts ...Option) *Classifier {
	c := &Classifier{
		provider: provider,
		fallback: NewKeywordClassifier(nil),
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "intent")
	return c
}

// Classify returns a routing decision for in. It does not return errors.
func (c *Classifier) Classify(ctx context.Context, in Input) Decision {
	if c.provider == nil {
		return c.fallback.Classify(in.Text)
	}

	req := buildRequest(in)
	tokens := llm.EstimateRequestTokens(req)

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Complete(cctx, req)
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timed out"
		}
		c.logger.Warn("model classification unavailable, using keyword fallback",
			"reason", reason,
			"error", err,
		)
		d := c.fallback.Classify(in.Text)
		d.PromptTokens = tokens
		return d
	}

	d, err := parseDecision(resp.Content)
	if err != nil {
		c.logger.Warn("model classification unparsable, using keyword fallback", "error", err)
		d := c.fallback.Classify(in.Text)
		d.PromptTokens = tokens
		return d
	}

	d.Source = SourceModel
	d.ProcessedAt = c.now()
	d.PromptTokens = tokens
	c.logger.Debug("classified message",
		"intent", d.Intent,
		"confidence", d.Confidence,
		"routing", d.RoutingRecommendation,
	)
	return d
}

func buildRequest(in Input) llm.Request {
	sender := in.SenderName
	if sender == "" {
		sender = "Anónimo"
	}

	var b strings.Builder
	b.WriteString("Analiza el siguiente mensaje de WhatsApp y clasifica la intención del usuario.\n\n")
	fmt.Fprintf(&b, "Mensaje: %q\n", in.Text)
	fmt.Fprintf(&b, "Usuario: %s\n", sender)
	if len(in.History) > 0 {
		b.WriteString("Contexto: los mensajes anteriores de esta conversación preceden a este.\n")
	}
	b.WriteString(`
Categorías posibles:
1. MAINTENANCE - Problemas técnicos, reparaciones, fallas
2. LEASING - Información de propiedades, precios, tours
3. PAYMENTS - Facturación, recibos, problemas de pago
4. AMENITIES - Reservas, uso de espacios comunes
5. OTHERS - Consultas generales

Responde únicamente con un objeto JSON:
{
  "intent": "MAINTENANCE|LEASING|PAYMENTS|AMENITIES|OTHERS",
  "confidence": 0.95,
  "entities": {"urgency": "urgent|high|medium|low", "property": "nombre_si_aplica"},
  "routing_recommendation": "maintenance-agent|leasing-agent|payments-agent|amenities-agent|conversation-ai",
  "reasoning": "justificación breve"
}`)

	msgs := make([]llm.Message, 0, len(in.History)+1)
	msgs = append(msgs, in.History...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: b.String()})

	return llm.Request{
		System:      systemPrompt,
		Messages:    msgs,
		Temperature: 0.1,
		MaxTokens:   1000,
	}
}

type modelDecision struct {
	Intent                string         `json:"intent"`
	Confidence            *float64       `json:"confidence"`
	Entities              map[string]any `json:"entities"`
	RoutingRecommendation string         `json:"routing_recommendation"`
	Reasoning             string         `json:"reasoning"`
}

// parseDecision reads the model's JSON answer. Surrounding prose and markdown
// fences are tolerated; unknown intents are an error.
func parseDecision(text string) (Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("no JSON object in response")
	}

	var md modelDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &md); err != nil {
		return Decision{}, fmt.Errorf("decoding response: %w", err)
	}

	i, ok := ParseIntent(md.Intent)
	if !ok {
		return Decision{}, fmt.Errorf("unknown intent %q", md.Intent)
	}
	if md.Confidence == nil {
		return Decision{}, fmt.Errorf("missing confidence")
	}

	entities := make(map[string]string, len(md.Entities))
	for k, v := range md.Entities {
		if v == nil {
			continue
		}
		entities[k] = fmt.Sprint(v)
	}

	routing := strings.TrimSpace(md.RoutingRecommendation)
	if routing == "" {
		routing = i.Agent()
	}

	return Decision{
		Intent:                i,
		Confidence:            clamp(*md.Confidence, 0, 1),
		Entities:              entities,
		RoutingRecommendation: routing,
		Reasoning:             md.Reasoning,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
