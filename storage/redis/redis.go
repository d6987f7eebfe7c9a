// Package redis provides a Redis-based implementation of the storage.Store
// interface. Expiry is enforced by Redis through native key TTLs, and auth
// states are consumed with GETDEL so replay protection holds across
// instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/storage"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSessionPrefix namespaces session keys.
	DefaultSessionPrefix = "fprime:session:"
	// DefaultAuthStatePrefix namespaces auth state keys.
	DefaultAuthStatePrefix = "fprime:auth_state:"
)

var _ storage.Store = (*Store)(nil)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. Required.
	Client redis.UniversalClient

	// SessionPrefix defaults to DefaultSessionPrefix.
	SessionPrefix string
	// AuthStatePrefix defaults to DefaultAuthStatePrefix.
	AuthStatePrefix string
}

// Store implements storage.Store using Redis.
type Store struct {
	client        redis.UniversalClient
	sessionPrefix string
	statePrefix   string
}

// New creates a new Redis-based store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.SessionPrefix == "" {
		config.SessionPrefix = DefaultSessionPrefix
	}
	if config.AuthStatePrefix == "" {
		config.AuthStatePrefix = DefaultAuthStatePrefix
	}
	return &Store{
		client:        config.Client,
		sessionPrefix: config.SessionPrefix,
		statePrefix:   config.AuthStatePrefix,
	}, nil
}

// NewFromURL connects to the server described by a redis:// or rediss://
// URL and verifies it answers PING.
func NewFromURL(ctx context.Context, rawURL string) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: client})
}

// SaveSession stores sess under id with a Redis TTL.
func (s *Store) SaveSession(ctx context.Context, id string, sess *auth.UserSession, ttl time.Duration) error {
	if err := storage.CheckSave(id, ttl); err != nil {
		return err
	}
	return s.set(ctx, s.sessionPrefix+id, sess, ttl)
}

// GetSession loads the session stored under id.
func (s *Store) GetSession(ctx context.Context, id string) (*auth.UserSession, error) {
	var sess auth.UserSession
	ok, err := s.get(ctx, s.sessionPrefix+id, &sess)
	if err != nil || !ok {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.del(ctx, s.sessionPrefix+id)
}

// SaveAuthState stores st keyed by its state value with a Redis TTL.
func (s *Store) SaveAuthState(ctx context.Context, st *auth.AuthState, ttl time.Duration) error {
	if err := storage.CheckSave(st.State, ttl); err != nil {
		return err
	}
	return s.set(ctx, s.statePrefix+st.State, st, ttl)
}

// GetAuthState loads the auth state without consuming it.
func (s *Store) GetAuthState(ctx context.Context, state string) (*auth.AuthState, error) {
	var st auth.AuthState
	ok, err := s.get(ctx, s.statePrefix+state, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// DeleteAuthState removes state.
func (s *Store) DeleteAuthState(ctx context.Context, state string) error {
	return s.del(ctx, s.statePrefix+state)
}

// ConsumeAuthState reads and deletes state in one GETDEL.
func (s *Store) ConsumeAuthState(ctx context.Context, state string) (*auth.AuthState, error) {
	key := s.statePrefix + state
	raw, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to getdel key %s: %w", key, err)
	}
	var st auth.AuthState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	return &st, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	return true, nil
}

func (s *Store) del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
