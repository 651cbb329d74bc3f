// ABOUTME: SQLite persistence for raw inbound messages and intent analyses
// ABOUTME: Both are append-only and expire passively

package store

import (
	"context"
	"fmt"
)

// SaveInbound stores the raw webhook payload.
func (s *SQLiteStore) SaveInbound(ctx context.Context, rec *InboundRecord) error {
	query := `
		INSERT INTO inbound_messages (id, conversation_id, message_id, user_id, payload, received_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConversationID,
		nullString(rec.MessageID),
		rec.UserID,
		string(rec.Payload),
		formatTime(rec.ReceivedAt),
		expiryOr(rec.ExpiresAt, s.now(), InboundTTL).Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting inbound message: %w", err)
	}

	s.logger.Debug("saved inbound message", "id", rec.ID, "conversation_id", rec.ConversationID)
	return nil
}

// SaveAnalysis stores a classification result.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	query := `
		INSERT INTO intent_analysis (id, conversation_id, intent, confidence, routing, source, analysis_json, analyzed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConversationID,
		rec.Intent,
		rec.Confidence,
		rec.Routing,
		rec.Source,
		string(rec.Analysis),
		formatTime(rec.AnalyzedAt),
		expiryOr(rec.ExpiresAt, s.now(), AnalysisTTL).Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting analysis: %w", err)
	}

	s.logger.Debug("saved intent analysis",
		"id", rec.ID,
		"conversation_id", rec.ConversationID,
		"intent", rec.Intent,
		"confidence", rec.Confidence,
	)
	return nil
}

// ListAnalyses returns the most recent live analyses for a conversation, newest first.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, conversationID string, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, conversation_id, intent, confidence, routing, source, analysis_json, analyzed_at, expires_at
		FROM intent_analysis
		WHERE conversation_id = ? AND expires_at > ?
		ORDER BY analyzed_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, s.now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var out []*AnalysisRecord
	for rows.Next() {
		var (
			rec        AnalysisRecord
			analysis   string
			analyzedAt string
			expiresAt  int64
		)
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.Intent, &rec.Confidence,
			&rec.Routing, &rec.Source, &analysis, &analyzedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		rec.Analysis = []byte(analysis)
		if rec.AnalyzedAt, err = parseTime(analyzedAt); err != nil {
			return nil, fmt.Errorf("parsing analyzed_at: %w", err)
		}
		rec.ExpiresAt = unixTime(expiresAt)
		out = append(out, &rec)
	}

	return out, rows.Err()
}
