// ABOUTME: Bounded TTL guard that recognises platform redeliveries of the same message id
// ABOUTME: Keys are claimed before processing and released again when processing fails

package webhook

import (
	"container/list"
	"sync"
	"time"
)

type claim struct {
	at      time.Time
	element *list.Element
}

// ReplayGuard remembers recently processed delivery keys. It is advisory:
// it lives in one process and is bounded, so the durable stores stay the
// source of truth.
type ReplayGuard struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewReplayGuard creates a guard holding at most maxSize keys for ttl each.
func NewReplayGuard(ttl time.Duration, maxSize int) *ReplayGuard {
	g := &ReplayGuard{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// Claim records key and reports whether it was new. A false return means the
// same key was claimed within the TTL and the delivery is a replay.
// Empty keys are always new.
func (g *ReplayGuard) Claim(key string) bool {
	if key == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if c, ok := g.claims[key]; ok {
		if now.Sub(c.at) < g.ttl {
			return false
		}
		c.at = now
		g.order.MoveToBack(c.element)
		return true
	}

	if len(g.claims) >= g.maxSize {
		if front := g.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			g.order.Remove(front)
			delete(g.claims, oldest)
		}
	}

	g.claims[key] = &claim{at: now, element: g.order.PushBack(key)}
	return true
}

// Release forgets key so that a redelivery is processed again.
func (g *ReplayGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.claims[key]; ok {
		g.order.Remove(c.element)
		delete(g.claims, key)
	}
}

// Len returns the number of tracked keys.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

func (g *ReplayGuard) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

func (g *ReplayGuard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for e := g.order.Front(); e != nil; {
		next := e.Next()
		key, _ := e.Value.(string)
		if now.Sub(g.claims[key].at) < g.ttl {
			break
		}
		g.order.Remove(e)
		delete(g.claims, key)
		e = next
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (g *ReplayGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
