// ABOUTME: Provider-neutral completion types and the Provider interface
// ABOUTME: Also holds the character-based token estimate used for accounting

package llm

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Roles accepted in a completion request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single prior turn supplied with a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Model       string // empty uses the provider default
}

// Usage reports token counts when the provider returns them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is the text completion plus usage.
type Response struct {
	Content string
	Usage   Usage
	Model   string
}

// Provider produces a completion. Implementations make exactly one attempt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// CharsPerToken is the fixed ratio used for token estimates.
const CharsPerToken = 4

// EstimateTokens approximates the token count of text from its length in
// characters.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// EstimateRequestTokens approximates the prompt size of a request.
func EstimateRequestTokens(req Request) int {
	n := EstimateTokens(req.System)
	for _, m := range req.Messages {
		n += EstimateTokens(m.Content)
	}
	return n
}
