// Package redis provides Redis-based adapters for session persistence and session change events.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	"github.com/redis/go-redis/v9"
)

const defaultSessionPrefix = "puppy:session:"

// SessionStore persists the current session of one client in Redis.
// Keys expire together with the session's ExpiresAt.
type SessionStore struct {
	client   redis.UniversalClient
	prefix   string
	clientID string
}

// NewSessionStore creates a Redis-based session store for the given client.
func NewSessionStore(client redis.UniversalClient, clientID string) *SessionStore {
	return NewSessionStoreWithPrefix(client, defaultSessionPrefix, clientID)
}

// NewSessionStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix, clientID string) *SessionStore {
	return &SessionStore{
		client:   client,
		prefix:   prefix,
		clientID: clientID,
	}
}

func (s *SessionStore) key() string { return s.prefix + s.clientID }

// Save replaces the client's session.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	if s.clientID == "" {
		return errors.New("client ID cannot be empty")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	if err := s.client.Set(ctx, s.key(), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Current returns the client's session, or ErrNotFound when none is stored.
func (s *SessionStore) Current(ctx context.Context) (domainauth.Session, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	if sess.Expired(time.Now()) {
		if clearErr := s.Clear(ctx); clearErr != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", clearErr)
		}
		return domainauth.Session{}, ErrNotFound
	}

	return sess, nil
}

// Clear removes the client's session. Clearing an absent session is not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "session not found" }

func (notFoundError) Unwrap() error { return domainauth.ErrNoSession }

// ErrNotFound is returned when no session is stored. It matches domainauth.ErrNoSession.
var ErrNotFound error = notFoundError{}
