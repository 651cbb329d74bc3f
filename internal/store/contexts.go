// ABOUTME: SQLite persistence for conversation contexts
// ABOUTME: Messages, preferences and interests are stored as JSON columns

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetContext loads the conversation context for conversationID.
// Returns ErrNotFound if absent or expired.
func (s *SQLiteStore) GetContext(ctx context.Context, conversationID string) (*ConversationContext, error) {
	query := `
		SELECT conversation_id, user_id, messages_json, preferences_json, interests_json,
			session_start, last_updated, total_tokens_used, conversation_summary, expires_at
		FROM conversation_context
		WHERE conversation_id = ? AND expires_at > ?
	`

	var cc ConversationContext
	var messagesJSON, prefsJSON, interestsJSON string
	var sessionStart, lastUpdated string
	var expiresAt int64

	err := s.db.QueryRowContext(ctx, query, conversationID, s.now().Unix()).Scan(
		&cc.ConversationID,
		&cc.UserID,
		&messagesJSON,
		&prefsJSON,
		&interestsJSON,
		&sessionStart,
		&lastUpdated,
		&cc.TotalTokensUsed,
		&cc.Summary,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying context: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &cc.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	if err := json.Unmarshal([]byte(prefsJSON), &cc.UserPreferences); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(interestsJSON), &cc.PropertyInterests); err != nil {
		return nil, fmt.Errorf("decoding property interests: %w", err)
	}

	if cc.SessionStart, err = parseTime(sessionStart); err != nil {
		return nil, fmt.Errorf("parsing session_start: %w", err)
	}
	if cc.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("parsing last_updated: %w", err)
	}
	cc.ExpiresAt = unixTime(expiresAt)

	return &cc, nil
}

// SaveContext upserts a conversation context.
func (s *SQLiteStore) SaveContext(ctx context.Context, cc *ConversationContext) error {
	messages := cc.Messages
	if messages == nil {
		messages = []ContextMessage{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	prefs := cc.UserPreferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}

	interests := cc.PropertyInterests
	if interests == nil {
		interests = []string{}
	}
	interestsJSON, err := json.Marshal(interests)
	if err != nil {
		return fmt.Errorf("encoding property interests: %w", err)
	}

	now := s.now()
	expiresAt := expiryOr(cc.ExpiresAt, now, ContextTTL)

	query := `
		INSERT INTO conversation_context (
			conversation_id, user_id, messages_json, preferences_json, interests_json,
			session_start, last_updated, total_tokens_used, conversation_summary, expires_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			user_id = excluded.user_id,
			messages_json = excluded.messages_json,
			preferences_json = excluded.preferences_json,
			interests_json = excluded.interests_json,
			session_start = excluded.session_start,
			last_updated = excluded.last_updated,
			total_tokens_used = excluded.total_tokens_used,
			conversation_summary = excluded.conversation_summary,
			expires_at = excluded.expires_at
	`

	_, err = s.db.ExecContext(ctx, query,
		cc.ConversationID,
		cc.UserID,
		string(messagesJSON),
		string(prefsJSON),
		string(interestsJSON),
		formatTime(cc.SessionStart),
		formatTime(cc.LastUpdated),
		cc.TotalTokensUsed,
		cc.Summary,
		expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving context: %w", err)
	}

	s.logger.Debug("saved conversation context",
		"conversation_id", cc.ConversationID,
		"messages", len(cc.Messages),
		"has_summary", cc.Summary != "",
	)
	return nil
}
