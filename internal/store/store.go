// ABOUTME: Store interfaces and data types for bird-gateway persistence
// ABOUTME: Defines conversation contexts, sessions, inbound records and intent analyses

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist or has expired
var ErrNotFound = errors.New("not found")

// Retention for each record kind. Expiry is passive: reads ignore expired
// rows and PurgeExpired removes them in bulk.
const (
	SessionTTL  = 7 * 24 * time.Hour
	ContextTTL  = 30 * 24 * time.Hour
	InboundTTL  = 30 * 24 * time.Hour
	AnalysisTTL = 90 * 24 * time.Hour
)

// Message roles inside a conversation context
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session types
const (
	SessionStandard = "standard"
	SessionSupport  = "support"
	SessionSales    = "sales"
)

// ContextMessage is one turn of a conversation.
type ContextMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationContext is the bounded memory kept per conversation.
type ConversationContext struct {
	ConversationID    string            `json:"conversation_id"`
	UserID            string            `json:"user_id"`
	Messages          []ContextMessage  `json:"messages"`
	UserPreferences   map[string]string `json:"user_preferences"`
	PropertyInterests []string          `json:"property_interests"`
	SessionStart      time.Time         `json:"session_start"`
	LastUpdated       time.Time         `json:"last_updated"`
	TotalTokensUsed   int               `json:"total_tokens_used"`
	Summary           string            `json:"conversation_summary,omitempty"`
	ExpiresAt         time.Time         `json:"ttl"`
}

// Session is a time-bounded continuity record per end user.
type Session struct {
	Phone        string            `json:"phone"`
	SessionID    string            `json:"session_id"`
	StartTime    time.Time         `json:"start_time"`
	LastActivity time.Time         `json:"last_activity"`
	MessageCount int               `json:"message_count"`
	SessionType  string            `json:"session_type"`
	Context      map[string]string `json:"context"`
	ExpiresAt    time.Time         `json:"ttl"`

	// Transient marks a session that could not be persisted.
	Transient bool `json:"-"`
}

// InboundRecord is the raw webhook payload as received.
type InboundRecord struct {
	ID             string
	ConversationID string
	MessageID      string
	UserID         string
	Payload        []byte
	ReceivedAt     time.Time
	ExpiresAt      time.Time
}

// AnalysisRecord is the classification result stored alongside a message.
type AnalysisRecord struct {
	ID             string
	ConversationID string
	Intent         string
	Confidence     float64
	Routing        string
	Source         string
	Analysis       []byte // full JSON document including media analysis
	AnalyzedAt     time.Time
	ExpiresAt      time.Time
}

// ContextStore persists conversation contexts.
type ContextStore interface {
	GetContext(ctx context.Context, conversationID string) (*ConversationContext, error)
	SaveContext(ctx context.Context, cc *ConversationContext) error
}

// SessionStore persists user sessions.
type SessionStore interface {
	GetSession(ctx context.Context, phone string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
}

// RecordStore persists inbound messages and their analyses.
type RecordStore interface {
	SaveInbound(ctx context.Context, rec *InboundRecord) error
	SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error
	ListAnalyses(ctx context.Context, conversationID string, limit int) ([]*AnalysisRecord, error)
}

// Store is everything the gateway needs from durable storage.
type Store interface {
	ContextStore
	SessionStore
	RecordStore

	Ping(ctx context.Context) error
	PurgeExpired(ctx context.Context) (PurgeResult, error)
	Close() error
}

// PurgeResult counts rows removed per table.
type PurgeResult struct {
	Contexts int64
	Sessions int64
	Inbound  int64
	Analyses int64
}

// Total returns the number of rows removed across all tables.
func (r PurgeResult) Total() int64 {
	return r.Contexts + r.Sessions + r.Inbound + r.Analyses
}

// expiryOr returns t, or now+ttl when t is zero.
func expiryOr(t, now time.Time, ttl time.Duration) time.Time {
	if t.IsZero() {
		return now.Add(ttl)
	}
	return t
}
