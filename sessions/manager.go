// Package sessions manages the lifecycle of gateway sessions on top of a
// storage.Store: opaque session identifiers, expiry windows, and the
// single-use CSRF/PKCE state of in-flight logins.
//
// A Manager is constructed once at process start and shared by every
// request. It holds no per-request state of its own; all mutable state lives
// in the Store.
//
//	m := sessions.NewManager(memory.New(), sessions.WithSessionTTL(time.Hour))
//	id, err := m.CreateSession(ctx, sess)
//	...
//	st, err := m.ValidateAuthState(ctx, r.URL.Query().Get("state"))
//	if st == nil { // unknown, expired or replayed }
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
	"github.com/F-Prime-Capital/mcp-server/storage"
)

const (
	// DefaultSessionTTL is the expiry window applied on create and refresh.
	DefaultSessionTTL = time.Hour
	// AuthStateTTL bounds how long an unused login attempt stays valid.
	AuthStateTTL = 10 * time.Minute

	// sessionIDBytes is the entropy of a session identifier.
	sessionIDBytes = 32
)

// ErrNilSession is returned when a nil session is passed to a write.
var ErrNilSession = errors.New("sessions: session is nil")

// Manager is the lifecycle facade over a storage.Store.
type Manager struct {
	store    storage.Store
	ttl      time.Duration
	stateTTL time.Duration
	log      *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the session expiry window. Non-positive values are
// ignored.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithAuthStateTTL overrides AuthStateTTL. Intended for tests.
func WithAuthStateTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.stateTTL = ttl
		}
	}
}

// WithLogHandler sets the handler used for lifecycle logging.
func WithLogHandler(h slog.Handler) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.log = slog.New(h)
		}
	}
}

// NewManager returns a Manager persisting into store.
func NewManager(store storage.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		ttl:      DefaultSessionTTL,
		stateTTL: AuthStateTTL,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionTTL reports the configured session expiry window.
func (m *Manager) SessionTTL() time.Duration { return m.ttl }

// CreateSession persists sess under a fresh opaque identifier and returns
// the identifier.
func (m *Manager) CreateSession(ctx context.Context, sess *auth.UserSession) (string, error) {
	if sess == nil {
		return "", ErrNilSession
	}
	id, err := auth.RandomToken(sessionIDBytes)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	if err := m.store.SaveSession(ctx, id, sess, m.ttl); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	m.log.InfoContext(ctx, "sessions.create",
		slog.String("session", logctx.ShortID(id)),
		slog.String("user_id", sess.UserID),
	)
	return id, nil
}

// GetSession returns the session stored under id, or nil when it does not
// exist or has expired.
func (m *Manager) GetSession(ctx context.Context, id string) (*auth.UserSession, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// RefreshSession replaces the record stored under id with sess and restarts
// its expiry window.
func (m *Manager) RefreshSession(ctx context.Context, id string, sess *auth.UserSession) error {
	if sess == nil {
		return ErrNilSession
	}
	if err := m.store.SaveSession(ctx, id, sess, m.ttl); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	m.log.DebugContext(ctx, "sessions.refresh", slog.String("session", logctx.ShortID(id)))
	return nil
}

// DeleteSession removes id. Deleting an absent session is not an error.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.log.InfoContext(ctx, "sessions.delete", slog.String("session", logctx.ShortID(id)))
	return nil
}

// SaveAuthState persists st for the duration of one login attempt.
func (m *Manager) SaveAuthState(ctx context.Context, st *auth.AuthState) error {
	if st == nil {
		return fmt.Errorf("save auth state: %w", storage.ErrInvalidKey)
	}
	if err := m.store.SaveAuthState(ctx, st, m.stateTTL); err != nil {
		return fmt.Errorf("save auth state: %w", err)
	}
	return nil
}

// ValidateAuthState consumes the auth state for value. It returns the
// record at most once; unknown, expired and already-validated values yield
// (nil, nil).
func (m *Manager) ValidateAuthState(ctx context.Context, value string) (*auth.AuthState, error) {
	if value == "" {
		return nil, nil
	}
	st, err := m.store.ConsumeAuthState(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("validate auth state: %w", err)
	}
	if st == nil {
		m.log.WarnContext(ctx, "sessions.auth_state.rejected")
	}
	return st, nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
