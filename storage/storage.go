// Package storage defines the persistence contract for user sessions and
// transient login state. Backends live in the memory and redis
// subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
)

// Store persists sessions and auth states, each under its own time-to-live.
// Implementations must be safe for concurrent use.
//
// Get methods return (nil, nil) when the key does not exist or has expired
// and return an error only for legitimate storage system failures.
type Store interface {
	// SaveSession stores s under id, replacing any previous value.
	SaveSession(ctx context.Context, id string, s *auth.UserSession, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*auth.UserSession, error)
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, id string) error

	// SaveAuthState stores st keyed by st.State.
	SaveAuthState(ctx context.Context, st *auth.AuthState, ttl time.Duration) error
	GetAuthState(ctx context.Context, state string) (*auth.AuthState, error)
	DeleteAuthState(ctx context.Context, state string) error
	// ConsumeAuthState atomically reads and deletes the auth state. Of any
	// number of concurrent callers presenting the same value, at most one
	// receives the record.
	ConsumeAuthState(ctx context.Context, state string) (*auth.AuthState, error)

	// Close releases backend resources.
	Close() error
}

// Error types
var (
	// ErrInvalidTTL is returned when a save is attempted with a non-positive TTL.
	ErrInvalidTTL = errors.New("storage: ttl must be positive")
	// ErrInvalidKey is returned for an empty id or state value.
	ErrInvalidKey = errors.New("storage: key must not be empty")
)

// CheckSave validates the common arguments of a save.
func CheckSave(key string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
