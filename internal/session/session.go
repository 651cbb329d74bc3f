// ABOUTME: Per-user session continuity with a 24 hour activity window
// ABOUTME: Store failures degrade to a transient session instead of failing the caller

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/bird-gateway/internal/intent"
	"github.com/2389/bird-gateway/internal/store"
)

// ActiveWindow is how long after the last message a session stays live.
const ActiveWindow = 24 * time.Hour

// TypeForIntent maps a routing intent to a session type.
func TypeForIntent(i intent.Intent) string {
	switch i {
	case intent.Leasing:
		return store.SessionSales
	case intent.Maintenance, intent.Payments:
		return store.SessionSupport
	default:
		return store.SessionStandard
	}
}

// Manager continues or starts sessions.
type Manager struct {
	store  store.SessionStore
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. Pass nil logger for default.
func NewManager(st store.SessionStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		logger: logger.With("component", "session"),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// GetOrCreate continues the user's live session or starts a new one of the
// given type. It always returns a session; when the store fails the session
// is marked Transient and was not persisted.
func (m *Manager) GetOrCreate(ctx context.Context, userID, sessionType string) *store.Session {
	now := m.now()
	if sessionType == "" {
		sessionType = store.SessionStandard
	}

	existing, err := m.store.GetSession(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("session lookup failed, using transient session", "user_id", userID, "error", err)
		return newSession(userID, sessionType, now, true)
	}

	var sess *store.Session
	if existing != nil && now.Sub(existing.LastActivity) < ActiveWindow {
		sess = existing
		sess.MessageCount++
		sess.LastActivity = now
		if sess.Context == nil {
			sess.Context = map[string]string{}
		}
	} else {
		sess = newSession(userID, sessionType, now, false)
	}
	sess.ExpiresAt = now.Add(store.SessionTTL)

	if err := m.store.SaveSession(ctx, sess); err != nil {
		m.logger.Warn("session save failed, using transient session", "user_id", userID, "error", err)
		sess.Transient = true
		return sess
	}

	m.logger.Debug("session active",
		"user_id", userID,
		"session_id", sess.SessionID,
		"message_count", sess.MessageCount)
	return sess
}

func newSession(userID, sessionType string, now time.Time, transient bool) *store.Session {
	return &store.Session{
		Phone:        userID,
		SessionID:    uuid.New().String(),
		StartTime:    now,
		LastActivity: now,
		MessageCount: 1,
		SessionType:  sessionType,
		Context:      map[string]string{},
		ExpiresAt:    now.Add(store.SessionTTL),
		Transient:    transient,
	}
}
