// ABOUTME: Redis-backed SessionStore using go-redis with native key expiry
// ABOUTME: Lets several gateway replicas share session continuity

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "bird:session:"

// RedisSessionStore keeps sessions as JSON values whose key TTL matches the session expiry.
type RedisSessionStore struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisSessionStore wraps an existing client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		logger: slog.Default().With("component", "redis-sessions"),
		now:    time.Now,
	}
}

// DialRedisSessionStore connects to addr and verifies the connection.
func DialRedisSessionStore(ctx context.Context, addr, password string, db int) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisSessionStore(client), nil
}

// GetSession loads the session for phone. Returns ErrNotFound if absent or expired.
func (r *RedisSessionStore) GetSession(ctx context.Context, phone string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

// SaveSession writes the session with a TTL ending at its expiry.
func (r *RedisSessionStore) SaveSession(ctx context.Context, sess *Session) error {
	if sess.Transient {
		return fmt.Errorf("refusing to persist transient session %s", sess.SessionID)
	}

	now := r.now()
	stored := *sess
	stored.ExpiresAt = expiryOr(sess.ExpiresAt, now, SessionTTL)
	ttl := stored.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.SessionID)
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := r.client.Set(ctx, sessionKeyPrefix+sess.Phone, data, ttl).Err(); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}

	r.logger.Debug("saved session", "phone", sess.Phone, "session_id", sess.SessionID, "ttl", ttl)
	return nil
}

// Close closes the underlying client.
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}

var _ SessionStore = (*RedisSessionStore)(nil)
