// Package llm is the gateway's client for language-model completion services.
//
// Provider is a single-call interface: no retries happen here, and deadlines
// come from the caller's context. AnthropicProvider speaks the Anthropic
// Messages API directly over net/http; OpenAIProvider uses go-openai and works
// with any chat-completions compatible endpoint. FakeProvider replays
// scripted replies for tests.
//
// EstimateTokens uses a fixed four characters per token.
package llm
