package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
	assert.Equal(t, 1, EstimateTokens("ñaño"), "counts characters, not bytes")
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("á", 100)))

	n := EstimateRequestTokens(Request{
		System:   strings.Repeat("s", 40),
		Messages: []Message{{Role: RoleUser, Content: strings.Repeat("u", 80)}},
	})
	assert.Equal(t, 30, n)
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-test",
			"content": [{"type":"text","text":"{\"intent\":"},{"type":"text","text":"\"LEASING\"}"}],
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", WithAnthropicBaseURL(srv.URL+"/"), WithAnthropicModel("claude-test"))
	resp, err := p.Complete(context.Background(), Request{
		System:      "clasifica",
		Messages:    []Message{{Role: RoleUser, Content: "hola"}},
		Temperature: 0.1,
		MaxTokens:   1000,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"intent":"LEASING"}`, resp.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "clasifica", got.System)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
}

func TestAnthropicProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, 529)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 529, httpErr.Status)
	assert.Contains(t, httpErr.Body, "overloaded_error")
}

func TestAnthropicProvider_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL)).Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestAnthropicProvider_RespectsDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL)).Complete(ctx, Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-openai", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "resumen"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 4, "total_tokens": 34}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-openai", srv.URL, "gpt-test")
	resp, err := p.Complete(context.Background(), Request{
		System:    "resume",
		Messages:  []Message{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}},
		MaxTokens: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, "resumen", resp.Content)
	assert.Equal(t, 30, resp.Usage.PromptTokens)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	last, _ := msgs[2].(map[string]any)
	assert.Equal(t, "assistant", last["role"])
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider("bad", srv.URL, "").Complete(context.Background(), Request{})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
}

func TestFakeProvider(t *testing.T) {
	f := NewFakeProvider(FakeReply{Content: "one"}, FakeReply{Err: errors.New("down")})
	ctx := context.Background()

	r, err := f.Complete(ctx, Request{System: "a"})
	require.NoError(t, err)
	assert.Equal(t, "one", r.Content)

	_, err = f.Complete(ctx, Request{System: "b"})
	assert.EqualError(t, err, "down")

	_, err = f.Complete(ctx, Request{})
	assert.ErrorIs(t, err, ErrNoScript)

	f.Default = &FakeReply{Content: "always"}
	r, err = f.Complete(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, "always", r.Content)

	assert.Len(t, f.Requests(), 4)

	f.Push(FakeReply{Block: true})
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Complete(cctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeTurns(t *testing.T) {
	got := normalizeTurns([]Message{
		{Role: RoleAssistant, Content: "[Resumen de conversación previa: x]"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
		{Role: "system", Content: "d"},
	})

	require.Len(t, got, 5)
	assert.Equal(t, Message{Role: RoleUser, Content: "(continuación)"}, got[0])
	assert.Equal(t, RoleAssistant, got[1].Role)
	assert.Equal(t, Message{Role: RoleUser, Content: "a\n\nb"}, got[2])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "c"}, got[3])
	assert.Equal(t, Message{Role: RoleUser, Content: "d"}, got[4], "unknown roles fold into user")
}
