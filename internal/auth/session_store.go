package auth

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces session hashes in Redis.
const sessionKeyPrefix = "session:"

// scanBatchSize is the COUNT hint for SCAN when enumerating sessions.
const scanBatchSize = 100

// SessionStore persists session records with TTL, keyed by session id.
//
// The store is the sole source of truth for revocation: a
// cryptographically valid token whose session is absent here is invalid.
type SessionStore interface {
	// Put upserts the session with the given TTL. A session not refreshed
	// within the TTL disappears from the store.
	Put(ctx context.Context, session *Session, ttl time.Duration) error

	// Get retrieves a session by id. Returns ErrSessionNotFound if absent
	// or expired.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Touch refreshes last_activity and resets the TTL. Called on every
	// successful token validation; this is the inactivity-extends-life
	// policy. Returns ErrSessionNotFound if the session is absent.
	Touch(ctx context.Context, sessionID string, ttl time.Duration) error

	// Delete removes a session. Returns true if a session was deleted,
	// false if it was already absent.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// ListByUser returns the ids of all stored sessions for a user.
	// A full-store scan; used only for bulk revocation, not a hot path.
	ListByUser(ctx context.Context, userID string) ([]string, error)

	// RevokeAllForUser deletes every session for the user. Best effort;
	// returns the number of sessions deleted.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// RedisSessionStore implements SessionStore on Redis hashes with key TTL.
type RedisSessionStore struct {
	rdb *goredis.Client
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(rdb *goredis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Put upserts the session hash and sets its expiry.
func (s *RedisSessionStore) Put(ctx context.Context, session *Session, ttl time.Duration) error {
	key := sessionKey(session.ID)
	fields := session.StoreFormat()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing session %s: %w", session.ID, err)
	}
	return nil
}

// Get retrieves and decodes a session hash. Redis returns an empty map
// for missing keys, which maps to ErrSessionNotFound.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	session, err := SessionFromStoreFormat(fields)
	if err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return session, nil
}

// Touch refreshes last_activity and resets the key TTL.
//
// Concurrent Touch and Delete on the same session race at store
// granularity (last write wins). Accepted as benign: the worst case is a
// just-deleted session briefly reappearing as a field-only hash with a
// TTL, which fails decoding on read.
func (s *RedisSessionStore) Touch(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := sessionKey(sessionID)

	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "last_activity", now)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes the session hash.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	deleted, err := s.rdb.Del(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return deleted > 0, nil
}

// ListByUser scans all session keys and filters by user id.
func (s *RedisSessionStore) ListByUser(ctx context.Context, userID string) ([]string, error) {
	var sessionIDs []string

	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		owner, err := s.rdb.HGet(ctx, key, "user_id").Result()
		if err != nil {
			// Key may have expired between SCAN and HGET.
			continue
		}
		if owner == userID {
			sessionIDs = append(sessionIDs, key[len(sessionKeyPrefix):])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions for user %s: %w", userID, err)
	}

	return sessionIDs, nil
}

// RevokeAllForUser deletes every session belonging to the user.
func (s *RedisSessionStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	sessionIDs, err := s.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range sessionIDs {
		deleted, err := s.Delete(ctx, id)
		if err != nil {
			// Best effort: keep deleting the rest.
			continue
		}
		if deleted {
			count++
		}
	}
	return count, nil
}
