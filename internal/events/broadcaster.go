// ABOUTME: In-memory fan-out publisher for routing events
// ABOUTME: Delivers each event to subscribers of its target agent and to wildcard subscribers

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/bird-gateway/internal/intent"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllTargets subscribes to every routing event.
	AllTargets = "*"
)

// Broadcaster provides in-memory pub/sub for routing events. Subscribers
// register for a target agent (or AllTargets) and receive events as they are
// published. It stands in for EventBridge in local runs and tests.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // target -> subID -> ch
	closed      bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber for events addressed to target.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, target string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[target]; !ok {
		b.subscribers[target] = make(map[string]chan *Event)
	}
	b.subscribers[target][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "target", target, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(target, subID)
	}()

	return ch, subID
}

// Publish delivers a routing event to every subscriber of its target and to
// wildcard subscribers. It never blocks. An event nobody received, or one a
// full subscriber had to skip, is reported as an error so the delivery fails
// and the platform redelivers it.
func (b *Broadcaster) Publish(ctx context.Context, d intent.Decision, msg MessageData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := NewEvent(d, msg, b.now())
	target := event.Target()

	// Sends are non-blocking, so the read lock is held across them and
	// Unsubscribe/Close cannot close a channel mid-send.
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var delivered, full int
	for _, key := range []string{target, AllTargets} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
				delivered++
			default:
				full++
			}
		}
	}
	b.mu.RUnlock()

	if delivered+full == 0 {
		b.logger.Warn("routing event has no subscribers",
			"target", target,
			"conversation_id", msg.ConversationID)
		return fmt.Errorf("%w: %s", ErrNoSubscribers, target)
	}
	if full > 0 {
		b.logger.Warn("routing event skipped by slow subscribers",
			"target", target,
			"conversation_id", msg.ConversationID,
			"delivered", delivered,
			"skipped", full)
		return fmt.Errorf("%w: %d of %d subscribers for %s", ErrSubscriberFull, full, delivered+full, target)
	}

	b.logger.Info("routing event published",
		"target", target,
		"intent", d.Intent,
		"conversation_id", msg.ConversationID,
		"subscribers", delivered)
	return nil
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(target, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[target]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, target)
	}

	b.logger.Debug("subscriber removed", "target", target, "sub_id", subID)
}

// Close closes all subscriber channels. Later publishes return ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for target, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, target)
	}

	b.logger.Debug("broadcaster closed")
}

var (
	_ Publisher  = (*Broadcaster)(nil)
	_ Subscriber = (*Broadcaster)(nil)
)
