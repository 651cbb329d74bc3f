package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bird-gateway/internal/llm"
	"github.com/2389/bird-gateway/internal/store"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func seedMessages(n int, at time.Time) []store.ContextMessage {
	msgs := make([]store.ContextMessage, n)
	for i := range msgs {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		msgs[i] = store.ContextMessage{Role: role, Content: fmt.Sprintf("m%d", i), Timestamp: at}
	}
	return msgs
}

func TestLoad_AbsentReturnsEmpty(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := New(store.NewMockStore(), nil, nil, WithClock(clock.now))

	cc, err := m.Load(context.Background(), "conv-1", "+52")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", cc.ConversationID)
	assert.Equal(t, "+52", cc.UserID)
	assert.Empty(t, cc.Messages)
	assert.NotNil(t, cc.UserPreferences)
	assert.Equal(t, clock.t, cc.SessionStart)
}

func TestLoad_StoreError(t *testing.T) {
	st := store.NewMockStore()
	st.GetContextErr = errors.New("disk on fire")
	m := New(st, nil, nil)

	_, err := m.Load(context.Background(), "conv-1", "u")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestAppendExchange_PersistsWithExpiry(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := store.NewMockStore()
	st.SetClock(clock.now)
	m := New(st, nil, nil, WithClock(clock.now))
	ctx := context.Background()

	cc, err := m.Load(ctx, "conv-1", "u")
	require.NoError(t, err)
	require.NoError(t, m.AppendExchange(ctx, cc, "hola", "[ruteado a conversation-ai]"))

	got, err := st.GetContext(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, store.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "hola", got.Messages[0].Content)
	assert.Equal(t, store.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, clock.t.Add(store.ContextTTL), got.ExpiresAt)
	assert.Equal(t, clock.t, got.LastUpdated)
}

func TestAppendExchange_SaveErrorPropagates(t *testing.T) {
	st := store.NewMockStore()
	st.SaveContextErr = errors.New("write failed")
	m := New(st, nil, nil)

	cc, err := m.Load(context.Background(), "conv-1", "u")
	require.NoError(t, err)
	assert.Error(t, m.AppendExchange(context.Background(), cc, "a", "b"))
}

func TestAppendExchange_TimestampsNonDecreasing(t *testing.T) {
	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{t: later.Add(-time.Hour)}
	m := New(store.NewMockStore(), nil, nil, WithClock(clock.now))

	cc := &store.ConversationContext{
		ConversationID: "conv-1",
		Messages:       seedMessages(2, later),
		LastUpdated:    later,
	}
	// Redelivery processed on a host whose clock is behind.
	require.NoError(t, m.AppendExchange(context.Background(), cc, "otra vez", "ok"))

	for i := 1; i < len(cc.Messages); i++ {
		assert.False(t, cc.Messages[i].Timestamp.Before(cc.Messages[i-1].Timestamp), "index %d", i)
	}
	assert.Equal(t, later, cc.LastUpdated)
}

func TestAppendExchange_SummarisesPastThreshold(t *testing.T) {
	fake := llm.NewFakeProvider(llm.FakeReply{Content: "El residente reportó una fuga en el baño."})
	st := store.NewMockStore()
	m := New(st, fake, nil)
	ctx := context.Background()

	cc := &store.ConversationContext{
		ConversationID: "conv-b",
		Messages:       seedMessages(45, time.Now()),
	}
	require.NoError(t, m.AppendExchange(ctx, cc, "¿ya vienen?", "[ruteado a maintenance-agent]"))

	assert.LessOrEqual(t, len(cc.Messages), 21)
	assert.Equal(t, "El residente reportó una fuga en el baño.", cc.Summary)
	assert.Equal(t, "¿ya vienen?", cc.Messages[len(cc.Messages)-2].Content)
	assert.Positive(t, cc.TotalTokensUsed)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.InDelta(t, 0.1, reqs[0].Temperature, 1e-9)
	assert.Equal(t, 500, reqs[0].MaxTokens)
	prompt := reqs[0].Messages[0].Content
	assert.Contains(t, prompt, "Usuario: m0")
	assert.NotContains(t, prompt, "¿ya vienen?", "recent turns are not summarised")

	saved, err := st.GetContext(ctx, "conv-b")
	require.NoError(t, err)
	assert.Len(t, saved.Messages, len(cc.Messages))
	assert.Equal(t, cc.Summary, saved.Summary)
}

func TestSummarize_IncludesPreviousSummary(t *testing.T) {
	fake := llm.NewFakeProvider(llm.FakeReply{Content: "nuevo"})
	m := New(store.NewMockStore(), fake, nil)

	cc := &store.ConversationContext{Summary: "viejo", Messages: seedMessages(41, time.Now())}
	assert.True(t, m.Summarize(context.Background(), cc))
	assert.Contains(t, fake.Requests()[0].Messages[0].Content, "Resumen previo: viejo")
	assert.Equal(t, "nuevo", cc.Summary)
	assert.Len(t, cc.Messages, DefaultKeepRecent)
}

func TestSummarize_InstructionKeepsSearchState(t *testing.T) {
	fake := llm.NewFakeProvider(llm.FakeReply{Content: "resumen"})
	m := New(store.NewMockStore(), fake, nil)

	cc := &store.ConversationContext{Messages: seedMessages(41, time.Now())}
	require.True(t, m.Summarize(context.Background(), cc))

	prompt := fake.Requests()[0].Messages[0].Content
	for _, want := range []string{
		"Preferencias de propiedades mencionadas",
		"Presupuesto y requisitos",
		"Propiedades específicas discutidas",
		"Decisiones o compromisos establecidos",
		"Estado actual de la búsqueda",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestSummarize_NoopAtThreshold(t *testing.T) {
	fake := llm.NewFakeProvider()
	m := New(store.NewMockStore(), fake, nil)

	cc := &store.ConversationContext{Messages: seedMessages(40, time.Now())}
	assert.False(t, m.Summarize(context.Background(), cc))
	assert.Len(t, cc.Messages, 40)
	assert.Empty(t, fake.Requests())
}

func TestSummarize_FailureKeepsFallbackWindow(t *testing.T) {
	cases := map[string]llm.FakeReply{
		"error": {Err: errors.New("overloaded")},
		"empty": {Content: "   "},
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			m := New(store.NewMockStore(), llm.NewFakeProvider(reply), nil)
			cc := &store.ConversationContext{Summary: "anterior", Messages: seedMessages(45, time.Now())}

			assert.False(t, m.Summarize(context.Background(), cc))
			assert.Len(t, cc.Messages, DefaultFallbackKeep)
			assert.Equal(t, "m15", cc.Messages[0].Content)
			assert.Equal(t, "anterior", cc.Summary)
		})
	}
}

func TestSummarize_Timeout(t *testing.T) {
	m := New(store.NewMockStore(), llm.NewFakeProvider(llm.FakeReply{Block: true}), nil,
		WithSummarizeTimeout(20*time.Millisecond))
	cc := &store.ConversationContext{Messages: seedMessages(41, time.Now())}

	start := time.Now()
	assert.False(t, m.Summarize(context.Background(), cc))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, cc.Messages, DefaultFallbackKeep)
}

func TestAppendExchange_CapHoldsOverManyExchanges(t *testing.T) {
	scenarios := map[string]llm.Provider{
		"summaries succeed": &llm.FakeProvider{Default: &llm.FakeReply{Content: "resumen"}},
		"summaries fail":    &llm.FakeProvider{Default: &llm.FakeReply{Err: errors.New("down")}},
		"no provider":       nil,
	}
	for name, provider := range scenarios {
		t.Run(name, func(t *testing.T) {
			m := New(store.NewMockStore(), provider, nil)
			ctx := context.Background()
			cc, err := m.Load(ctx, "conv", "u")
			require.NoError(t, err)

			for i := range 200 {
				require.NoError(t, m.AppendExchange(ctx, cc, fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i)))
				assert.LessOrEqual(t, len(cc.Messages), DefaultMaxMessages)
			}
			assert.Equal(t, "a199", cc.Messages[len(cc.Messages)-1].Content)
		})
	}
}

func TestAppendExchange_CapAfterSummaryIsKeepRecent(t *testing.T) {
	m := New(store.NewMockStore(), &llm.FakeProvider{Default: &llm.FakeReply{Content: "resumen"}}, nil)
	cc := &store.ConversationContext{ConversationID: "c", Messages: seedMessages(39, time.Now())}

	require.NoError(t, m.AppendExchange(context.Background(), cc, "x", "y"))
	assert.Len(t, cc.Messages, DefaultKeepRecent)
}

func TestOptimizeForModel_InjectsSummary(t *testing.T) {
	m := New(store.NewMockStore(), nil, nil)
	cc := &store.ConversationContext{
		Summary:  "pidió informes de un departamento",
		Messages: seedMessages(4, time.Now()),
	}

	msgs := m.OptimizeForModel(context.Background(), cc)
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleAssistant, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, SummaryPrefix))
	assert.True(t, strings.HasSuffix(msgs[0].Content, "]"))
	assert.Equal(t, "m0", msgs[1].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[4].Role)
}

func TestOptimizeForModel_NoSummary(t *testing.T) {
	m := New(store.NewMockStore(), nil, nil)
	msgs := m.OptimizeForModel(context.Background(), &store.ConversationContext{Messages: seedMessages(3, time.Now())})
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
}

func TestWithLimits_ZeroFieldsKeepDefaults(t *testing.T) {
	m := New(store.NewMockStore(), nil, nil, WithLimits(Limits{SummarizationThreshold: 10}))
	l := m.Limits()
	assert.Equal(t, 10, l.SummarizationThreshold)
	assert.Equal(t, DefaultMaxMessages, l.MaxMessages)
	assert.Equal(t, DefaultKeepRecent, l.KeepRecent)
}

func TestHistory_DoesNotSummarise(t *testing.T) {
	fake := llm.NewFakeProvider()
	m := New(store.NewMockStore(), fake, nil)
	cc := &store.ConversationContext{Summary: "s", Messages: seedMessages(60, time.Now())}

	msgs := m.History(cc)
	assert.Len(t, msgs, DefaultMaxMessages+1)
	assert.Equal(t, "m10", msgs[1].Content)
	assert.Len(t, cc.Messages, 60)
	assert.Empty(t, fake.Requests())
}
