// ABOUTME: Tests for the replay guard and the per-client rate limiter
// ABOUTME: Uses injected clocks so TTL and refill behavior are deterministic

package webhook

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(t *testing.T, ttl time.Duration, size int) (*ReplayGuard, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewReplayGuard(ttl, size)
	g.now = clock.Now
	t.Cleanup(g.Close)
	return g, clock
}

func TestReplayGuard_DetectsReplay(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim("wamid.1"))
	assert.False(t, g.Claim("wamid.1"))
	assert.True(t, g.Claim("wamid.2"))
}

func TestReplayGuard_EmptyKeyAlwaysNew(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim(""))
	assert.True(t, g.Claim(""))
	assert.Equal(t, 0, g.Len())
}

func TestReplayGuard_Expires(t *testing.T) {
	g, clock := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim("k"))
	clock.Advance(59 * time.Second)
	assert.False(t, g.Claim("k"))
	clock.Advance(time.Minute)
	assert.True(t, g.Claim("k"), "claim after ttl is new")
}

func TestReplayGuard_Release(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim("k"))
	g.Release("k")
	assert.True(t, g.Claim("k"), "released key can be processed again")
	g.Release("missing")
}

func TestReplayGuard_EvictsOldest(t *testing.T) {
	g, _ := newTestGuard(t, time.Hour, 3)

	for i := 0; i < 4; i++ {
		assert.True(t, g.Claim(fmt.Sprintf("k%d", i)))
	}
	assert.Equal(t, 3, g.Len())
	assert.True(t, g.Claim("k0"), "oldest key was evicted")
}

func TestReplayGuard_Sweep(t *testing.T) {
	g, clock := newTestGuard(t, time.Minute, 10)

	g.Claim("a")
	clock.Advance(30 * time.Second)
	g.Claim("b")
	clock.Advance(45 * time.Second)
	g.sweep()

	assert.Equal(t, 1, g.Len())
	assert.False(t, g.Claim("b"))
}

func TestReplayGuard_Concurrent(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim("same") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestReplayGuard_CloseTwice(t *testing.T) {
	g := NewReplayGuard(time.Minute, 1)
	g.Close()
	g.Close()
}

func TestRateLimiter_Burst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(1, 2)
	r.now = clock.Now

	assert.True(t, r.Allow("10.0.0.1"))
	assert.True(t, r.Allow("10.0.0.1"))
	assert.False(t, r.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, r.Allow("10.0.0.2"), "other clients unaffected")

	clock.Advance(time.Second)
	assert.True(t, r.Allow("10.0.0.1"), "token refilled")
}

func TestRateLimiter_Disabled(t *testing.T) {
	r := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow("k"))
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("k"))
}

func TestRateLimiter_BoundedKeys(t *testing.T) {
	r := NewRateLimiter(100, 1)
	for i := 0; i < maxTrackedClients+50; i++ {
		r.Allow(fmt.Sprintf("ip-%d", i))
	}
	assert.LessOrEqual(t, len(r.entries), maxTrackedClients)
}
