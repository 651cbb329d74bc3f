// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// Setting one of the *Err fields makes the matching operation fail.
type MockStore struct {
	mu       sync.RWMutex
	contexts map[string]*ConversationContext
	sessions map[string]*Session
	inbound  []*InboundRecord
	analyses []*AnalysisRecord
	now      func() time.Time

	GetContextErr   error
	SaveContextErr  error
	GetSessionErr   error
	SaveSessionErr  error
	SaveInboundErr  error
	SaveAnalysisErr error
	PingErr         error

	writes int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		contexts: make(map[string]*ConversationContext),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for expiry checks.
func (m *MockStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// GetContext retrieves a live context by conversation ID.
func (m *MockStore) GetContext(ctx context.Context, conversationID string) (*ConversationContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetContextErr != nil {
		return nil, m.GetContextErr
	}
	cc, ok := m.contexts[conversationID]
	if !ok || !cc.ExpiresAt.After(m.now()) {
		return nil, ErrNotFound
	}
	return copyContext(cc), nil
}

// SaveContext stores a copy of the context.
func (m *MockStore) SaveContext(ctx context.Context, cc *ConversationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveContextErr != nil {
		return m.SaveContextErr
	}
	c := copyContext(cc)
	c.ExpiresAt = expiryOr(c.ExpiresAt, m.now(), ContextTTL)
	m.contexts[c.ConversationID] = c
	m.writes++
	return nil
}

// GetSession retrieves a live session by phone.
func (m *MockStore) GetSession(ctx context.Context, phone string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	s, ok := m.sessions[phone]
	if !ok || !s.ExpiresAt.After(m.now()) {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// SaveSession stores a copy of the session.
func (m *MockStore) SaveSession(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveSessionErr != nil {
		return m.SaveSessionErr
	}
	s := copySession(sess)
	s.ExpiresAt = expiryOr(s.ExpiresAt, m.now(), SessionTTL)
	m.sessions[s.Phone] = s
	m.writes++
	return nil
}

// SaveInbound appends a raw inbound record.
func (m *MockStore) SaveInbound(ctx context.Context, rec *InboundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveInboundErr != nil {
		return m.SaveInboundErr
	}
	r := *rec
	r.ExpiresAt = expiryOr(r.ExpiresAt, m.now(), InboundTTL)
	m.inbound = append(m.inbound, &r)
	m.writes++
	return nil
}

// SaveAnalysis appends an analysis record.
func (m *MockStore) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveAnalysisErr != nil {
		return m.SaveAnalysisErr
	}
	r := *rec
	r.ExpiresAt = expiryOr(r.ExpiresAt, m.now(), AnalysisTTL)
	m.analyses = append(m.analyses, &r)
	m.writes++
	return nil
}

// ListAnalyses returns live analyses for a conversation, newest first.
func (m *MockStore) ListAnalyses(ctx context.Context, conversationID string, limit int) ([]*AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []*AnalysisRecord
	for _, a := range m.analyses {
		if a.ConversationID == conversationID && a.ExpiresAt.After(now) {
			r := *a
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AnalyzedAt.After(out[j].AnalyzedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// PurgeExpired drops expired entries.
func (m *MockStore) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var res PurgeResult
	for k, c := range m.contexts {
		if !c.ExpiresAt.After(now) {
			delete(m.contexts, k)
			res.Contexts++
		}
	}
	for k, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, k)
			res.Sessions++
		}
	}
	keptInbound := m.inbound[:0]
	for _, r := range m.inbound {
		if r.ExpiresAt.After(now) {
			keptInbound = append(keptInbound, r)
		} else {
			res.Inbound++
		}
	}
	m.inbound = keptInbound
	keptAnalyses := m.analyses[:0]
	for _, a := range m.analyses {
		if a.ExpiresAt.After(now) {
			keptAnalyses = append(keptAnalyses, a)
		} else {
			res.Analyses++
		}
	}
	m.analyses = keptAnalyses
	return res, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Writes returns the number of successful write operations.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Inbound returns copies of all stored inbound records.
func (m *MockStore) Inbound() []InboundRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]InboundRecord, len(m.inbound))
	for i, r := range m.inbound {
		out[i] = *r
	}
	return out
}

func copyContext(cc *ConversationContext) *ConversationContext {
	c := *cc
	c.Messages = append([]ContextMessage(nil), cc.Messages...)
	c.PropertyInterests = append([]string(nil), cc.PropertyInterests...)
	if cc.UserPreferences != nil {
		c.UserPreferences = make(map[string]string, len(cc.UserPreferences))
		for k, v := range cc.UserPreferences {
			c.UserPreferences[k] = v
		}
	}
	return &c
}

func copySession(s *Session) *Session {
	c := *s
	if s.Context != nil {
		c.Context = make(map[string]string, len(s.Context))
		for k, v := range s.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)
