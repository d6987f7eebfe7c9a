// Package memory provides an in-memory implementation of the storage.Store
// interface using github.com/jellydator/ttlcache/v3.
//
// Expiry is checked lazily when an entry is read; there is no background
// cleanup goroutine. The store is process-local and unsuitable for
// deployments with more than one instance.
package memory

import (
	"context"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/storage"
	"github.com/jellydator/ttlcache/v3"
)

// sweepThreshold is the entry count above which a save also drops expired
// entries, bounding growth from abandoned logins.
const sweepThreshold = 10_000

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store in process memory.
type Store struct {
	sessions *ttlcache.Cache[string, *auth.UserSession]
	states   *ttlcache.Cache[string, *auth.AuthState]
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, *auth.UserSession]()),
		states:   ttlcache.New(ttlcache.WithDisableTouchOnHit[string, *auth.AuthState]()),
	}
}

// SaveSession stores a copy of s under id.
func (s *Store) SaveSession(ctx context.Context, id string, sess *auth.UserSession, ttl time.Duration) error {
	if err := storage.CheckSave(id, ttl); err != nil {
		return err
	}
	if s.sessions.Len() > sweepThreshold {
		s.sessions.DeleteExpired()
	}
	s.sessions.Set(id, sess.Clone(), ttl)
	return nil
}

// GetSession returns a copy of the session stored under id.
func (s *Store) GetSession(ctx context.Context, id string) (*auth.UserSession, error) {
	item := s.sessions.Get(id)
	if item == nil || item.IsExpired() {
		return nil, nil
	}
	return item.Value().Clone(), nil
}

// DeleteSession removes id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.sessions.Delete(id)
	return nil
}

// SaveAuthState stores a copy of st keyed by its state value.
func (s *Store) SaveAuthState(ctx context.Context, st *auth.AuthState, ttl time.Duration) error {
	if err := storage.CheckSave(st.State, ttl); err != nil {
		return err
	}
	if s.states.Len() > sweepThreshold {
		s.states.DeleteExpired()
	}
	c := *st
	s.states.Set(st.State, &c, ttl)
	return nil
}

// GetAuthState returns the auth state without consuming it.
func (s *Store) GetAuthState(ctx context.Context, state string) (*auth.AuthState, error) {
	item := s.states.Get(state)
	if item == nil || item.IsExpired() {
		return nil, nil
	}
	c := *item.Value()
	return &c, nil
}

// DeleteAuthState removes state.
func (s *Store) DeleteAuthState(ctx context.Context, state string) error {
	s.states.Delete(state)
	return nil
}

// ConsumeAuthState removes and returns the auth state under the cache's
// lock, so a value is handed out at most once.
func (s *Store) ConsumeAuthState(ctx context.Context, state string) (*auth.AuthState, error) {
	item, ok := s.states.GetAndDelete(state)
	if !ok || item == nil || item.IsExpired() {
		return nil, nil
	}
	c := *item.Value()
	return &c, nil
}

// Close drops every entry.
func (s *Store) Close() error {
	s.sessions.DeleteAll()
	s.states.DeleteAll()
	return nil
}
