// ABOUTME: SQLite persistence for user sessions
// ABOUTME: One row per phone; rows past their expiry read as not found

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetSession loads the session for phone. Returns ErrNotFound if absent or expired.
func (s *SQLiteStore) GetSession(ctx context.Context, phone string) (*Session, error) {
	query := `
		SELECT phone, session_id, start_time, last_activity, message_count, session_type, context_json, expires_at
		FROM sessions
		WHERE phone = ? AND expires_at > ?
	`

	var (
		sess                    Session
		startTime, lastActivity string
		contextJSON             string
		expiresAt               int64
	)
	err := s.db.QueryRowContext(ctx, query, phone, s.now().Unix()).Scan(
		&sess.Phone,
		&sess.SessionID,
		&startTime,
		&lastActivity,
		&sess.MessageCount,
		&sess.SessionType,
		&contextJSON,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if sess.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}
	if sess.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("decoding session context: %w", err)
	}
	sess.ExpiresAt = unixTime(expiresAt)

	return &sess, nil
}

// SaveSession upserts a session keyed by phone.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *Session) error {
	if sess.Transient {
		return fmt.Errorf("refusing to persist transient session %s", sess.SessionID)
	}

	sc := sess.Context
	if sc == nil {
		sc = map[string]string{}
	}
	contextJSON, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding session context: %w", err)
	}

	expiresAt := expiryOr(sess.ExpiresAt, s.now(), SessionTTL)

	query := `
		INSERT INTO sessions (phone, session_id, start_time, last_activity, message_count, session_type, context_json, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			session_id = excluded.session_id,
			start_time = excluded.start_time,
			last_activity = excluded.last_activity,
			message_count = excluded.message_count,
			session_type = excluded.session_type,
			context_json = excluded.context_json,
			expires_at = excluded.expires_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sess.Phone,
		sess.SessionID,
		formatTime(sess.StartTime),
		formatTime(sess.LastActivity),
		sess.MessageCount,
		sess.SessionType,
		string(contextJSON),
		expiresAt.Unix(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("invalid session type %q: %w", sess.SessionType, err)
		}
		return fmt.Errorf("saving session: %w", err)
	}

	return nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
