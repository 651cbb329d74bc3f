// ABOUTME: Scripted Provider implementation for testing
// ABOUTME: Records every request and replays queued replies or errors

package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScript is returned by FakeProvider when its queue is empty and no default is set.
var ErrNoScript = errors.New("fake provider: no scripted reply")

// FakeReply is one scripted outcome.
type FakeReply struct {
	Content string
	Err     error
	Block   bool // wait for ctx cancellation instead of replying
}

// FakeProvider replays FakeReply values in order, then falls back to Default.
type FakeProvider struct {
	mu       sync.Mutex
	queue    []FakeReply
	requests []Request
	Default  *FakeReply
}

// NewFakeProvider creates a provider with the given scripted replies.
func NewFakeProvider(replies ...FakeReply) *FakeProvider {
	return &FakeProvider{queue: replies}
}

func (f *FakeProvider) Name() string { return "fake" }

// Push queues another reply.
func (f *FakeProvider) Push(r FakeReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, r)
}

// Complete records req and returns the next scripted reply.
func (f *FakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var r FakeReply
	switch {
	case len(f.queue) > 0:
		r = f.queue[0]
		f.queue = f.queue[1:]
	case f.Default != nil:
		r = *f.Default
	default:
		f.mu.Unlock()
		return nil, ErrNoScript
	}
	f.mu.Unlock()

	if r.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &Response{Content: r.Content, Model: "fake"}, nil
}

// Requests returns a copy of every request seen so far.
func (f *FakeProvider) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

var _ Provider = (*FakeProvider)(nil)
