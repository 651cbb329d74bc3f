// ABOUTME: Tests for the in-memory routing event broadcaster
// ABOUTME: Covers target isolation, wildcard subscribers, cancellation, close and concurrency

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bird-gateway/internal/intent"
)

func decisionFor(i intent.Intent) intent.Decision {
	return intent.Decision{Intent: i, Confidence: 0.9, RoutingRecommendation: i.Agent()}
}

func msgData(conv string) MessageData {
	return MessageData{ConversationID: conv, Text: "hola", UserID: "+52", Type: "text"}
}

func TestBroadcaster_SubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "maintenance-agent")
	require.NoError(t, b.Publish(context.Background(), decisionFor(intent.Maintenance), msgData("conv-1")))

	select {
	case ev := <-ch:
		assert.Equal(t, Source, ev.Source)
		assert.Equal(t, DetailType, ev.DetailType)
		assert.Equal(t, "conv-1", ev.Detail.MessageData.ConversationID)
		assert.Equal(t, intent.Maintenance, ev.Detail.RoutingDecision.Intent)
		assert.False(t, ev.Detail.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_TargetsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	leasing, _ := b.Subscribe(t.Context(), "leasing-agent")
	all, _ := b.Subscribe(t.Context(), AllTargets)

	require.NoError(t, b.Publish(context.Background(), decisionFor(intent.Payments), msgData("conv-2")))

	select {
	case <-leasing:
		t.Fatal("leasing subscriber should not see payments events")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case ev := <-all:
		assert.Equal(t, "payments-agent", ev.Target())
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber timed out")
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), AllTargets)
	fast, _ := b.Subscribe(t.Context(), "conversation-ai")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = b.Publish(context.Background(), decisionFor(intent.Others), msgData("c"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, fast, subscriberBufferSize)
}

func TestBroadcaster_FullSubscriberIsAnError(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "maintenance-agent")

	var failed int
	for range subscriberBufferSize + 6 {
		err := b.Publish(context.Background(), decisionFor(intent.Maintenance), msgData("c"))
		if err != nil {
			assert.ErrorIs(t, err, ErrSubscriberFull)
			failed++
		}
	}

	assert.Len(t, ch, subscriberBufferSize)
	assert.Equal(t, 6, failed, "every event that was not buffered must be reported")
}

func TestBroadcaster_NoSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	err := b.Publish(context.Background(), decisionFor(intent.Maintenance), msgData("c"))
	assert.ErrorIs(t, err, ErrNoSubscribers)

	_, _ = b.Subscribe(t.Context(), "leasing-agent")
	err = b.Publish(context.Background(), decisionFor(intent.Maintenance), msgData("c"))
	assert.ErrorIs(t, err, ErrNoSubscribers, "subscribers of other targets do not count")
}

func TestBroadcaster_PublishDuringUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			ctx, cancel := context.WithCancel(context.Background())
			_, id := b.Subscribe(ctx, AllTargets)
			if id[0]%2 == 0 {
				cancel()
			} else {
				b.Unsubscribe(AllTargets, id)
				cancel()
			}
		}
	})

	assert.NotPanics(t, func() {
		for range 2000 {
			_ = b.Publish(context.Background(), decisionFor(intent.Payments), msgData("c"))
		}
	})
	close(stop)
	wg.Wait()
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx, "leasing-agent")

	b.mu.RLock()
	_, exists := b.subscribers["leasing-agent"][subID]
	b.mu.RUnlock()
	assert.True(t, exists)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	b.mu.RLock()
	_, targetExists := b.subscribers["leasing-agent"]
	b.mu.RUnlock()
	assert.False(t, targetExists)
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "leasing-agent")
	b.Unsubscribe("leasing-agent", subID)
	b.Unsubscribe("leasing-agent", subID)

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, b.Publish(context.Background(), decisionFor(intent.Leasing), msgData("c")), ErrNoSubscribers)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "leasing-agent")
	ch2, _ := b.Subscribe(t.Context(), AllTargets)
	b.Close()
	b.Close()

	for i, ch := range []<-chan *Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok, "channel %d should be closed", i)
	}

	err := b.Publish(context.Background(), decisionFor(intent.Leasing), msgData("c"))
	assert.ErrorIs(t, err, ErrClosed)

	late, _ := b.Subscribe(t.Context(), "leasing-agent")
	_, ok := <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestBroadcaster_CancelledContext(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, decisionFor(intent.Others), msgData("c")), context.Canceled)
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(ctx, AllTargets)
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}
	for range 10 {
		wg.Go(func() {
			for range 10 {
				_ = b.Publish(context.Background(), decisionFor(intent.Amenities), msgData("c"))
			}
		})
	}

	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, id1 := b.Subscribe(t.Context(), "a")
	_, id2 := b.Subscribe(t.Context(), "a")
	require.NotEqual(t, id1, id2)
}
