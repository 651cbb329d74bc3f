// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides context, session and record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets readers proceed while a webhook write is in flight
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_context (
			conversation_id    TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			messages_json      TEXT NOT NULL,
			preferences_json   TEXT NOT NULL DEFAULT '{}',
			interests_json     TEXT NOT NULL DEFAULT '[]',
			session_start      TEXT NOT NULL,
			last_updated       TEXT NOT NULL,
			conversation_summary TEXT NOT NULL DEFAULT '',
			expires_at         INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_context_user ON conversation_context(user_id);
		CREATE INDEX IF NOT EXISTS idx_context_expires ON conversation_context(expires_at);

		CREATE TABLE IF NOT EXISTS sessions (
			phone         TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			start_time    TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			session_type  TEXT NOT NULL,
			context_json  TEXT NOT NULL DEFAULT '{}',
			expires_at    INTEGER NOT NULL,

			CHECK (session_type IN ('standard', 'support', 'sales'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS inbound_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id      TEXT,
			user_id         TEXT NOT NULL,
			payload         TEXT NOT NULL,
			received_at     TEXT NOT NULL,
			expires_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_inbound_conversation ON inbound_messages(conversation_id, received_at);
		CREATE INDEX IF NOT EXISTS idx_inbound_expires ON inbound_messages(expires_at);

		CREATE TABLE IF NOT EXISTS intent_analysis (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			intent          TEXT NOT NULL,
			confidence      REAL NOT NULL,
			routing         TEXT NOT NULL,
			source          TEXT NOT NULL,
			analysis_json   TEXT NOT NULL,
			analyzed_at     TEXT NOT NULL,
			expires_at      INTEGER NOT NULL,

			CHECK (intent IN ('MAINTENANCE', 'LEASING', 'PAYMENTS', 'AMENITIES', 'OTHERS'))
		);

		CREATE INDEX IF NOT EXISTS idx_analysis_conversation ON intent_analysis(conversation_id, analyzed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_analysis_expires ON intent_analysis(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "conversation_context",
			column: "total_tokens_used",
			apply:  `ALTER TABLE conversation_context ADD COLUMN total_tokens_used INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PurgeExpired deletes every row whose expiry has passed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	now := s.now().Unix()
	var res PurgeResult

	targets := []struct {
		table string
		count *int64
	}{
		{"conversation_context", &res.Contexts},
		{"sessions", &res.Sessions},
		{"inbound_messages", &res.Inbound},
		{"intent_analysis", &res.Analyses},
	}

	for _, t := range targets {
		result, err := s.db.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE expires_at <= ?`, now)
		if err != nil {
			return res, fmt.Errorf("purging %s: %w", t.table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("counting purged %s: %w", t.table, err)
		}
		*t.count = n
	}

	s.logger.Info("purged expired records",
		"contexts", res.Contexts,
		"sessions", res.Sessions,
		"inbound", res.Inbound,
		"analyses", res.Analyses,
	)
	return res, nil
}

// timeLayout is RFC3339 with fixed-width nanoseconds so stored text sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString returns a sql.NullString for optional string fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
