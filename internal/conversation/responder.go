// ABOUTME: Generates a conversational reply over the optimised context
// ABOUTME: Scores replies with a simple confidence heuristic

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/bird-gateway/internal/llm"
	"github.com/2389/bird-gateway/internal/store"
)

// DefaultReplyTimeout bounds reply generation.
const DefaultReplyTimeout = 30 * time.Second

const replySystemPrompt = `Eres el asistente virtual de UrbanHub por WhatsApp. Responde en español, con un tono cordial y profesional.
Sé breve y concreto. Si el residente reporta una falla, confirma los detalles y explica los siguientes pasos.
Si no tienes la información, dilo y ofrece canalizar la consulta al equipo correspondiente.`

// ErrNoProvider is returned when replies are requested without a model.
var ErrNoProvider = errors.New("no language model configured")

// Reply is a generated answer.
type Reply struct {
	Text       string
	Confidence float64
	Tokens     int
}

// Responder writes replies using a Manager's view of the conversation.
type Responder struct {
	manager  *Manager
	provider llm.Provider
	timeout  time.Duration
}

// NewResponder creates a Responder. timeout <= 0 uses DefaultReplyTimeout.
func NewResponder(m *Manager, provider llm.Provider, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Responder{manager: m, provider: provider, timeout: timeout}
}

// Generate answers userText given the conversation so far. The prompt size
// is added to cc.TotalTokensUsed whether or not the call succeeds.
func (r *Responder) Generate(ctx context.Context, cc *store.ConversationContext, userText, intentLabel string) (Reply, error) {
	if r.provider == nil {
		return Reply{}, ErrNoProvider
	}

	msgs := r.manager.OptimizeForModel(ctx, cc)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})

	system := replySystemPrompt
	if intentLabel != "" {
		system += fmt.Sprintf("\nCategoría detectada del mensaje: %s.", intentLabel)
	}
	req := llm.Request{
		System:      system,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   4000,
	}
	tokens := llm.EstimateRequestTokens(req)
	cc.TotalTokensUsed += tokens

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.provider.Complete(rctx, req)
	if err != nil {
		return Reply{}, fmt.Errorf("generating reply: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return Reply{}, errors.New("generating reply: empty response")
	}
	return Reply{Text: text, Confidence: ScoreResponse(text), Tokens: tokens}, nil
}

// ScoreResponse estimates how confident a reply sounds. It starts at 0.8,
// penalises hedging, rewards detail and recommendations, and is clamped to
// [0.1, 1.0].
func ScoreResponse(text string) float64 {
	score := 0.8
	lower := strings.ToLower(text)

	if strings.Contains(lower, "no estoy seguro") || strings.Contains(lower, "no sé") {
		score -= 0.3
	}
	if utf8.RuneCountInString(text) > 100 {
		score += 0.1
	}
	if strings.Contains(lower, "recomiendo") || strings.Contains(lower, "sugiero") {
		score += 0.1
	}
	return max(0.1, min(1.0, score))
}
