package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/F-Prime-Capital/mcp-server/internal/jwtauth"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// Token validation failures.
var (
	ErrTokenExpired     = jwtauth.ErrTokenExpired
	ErrTokenNotYetValid = jwtauth.ErrTokenNotYetValid
	ErrNoMatchingKey    = jwtauth.ErrNoMatchingKey
	ErrSignatureInvalid = jwtauth.ErrSignatureInvalid
	ErrAudienceMismatch = jwtauth.ErrAudienceMismatch
	ErrIssuerMismatch   = jwtauth.ErrIssuerMismatch
	ErrMalformedToken   = jwtauth.ErrMalformedToken
)

// ErrFetch indicates the identity provider's discovery or JWKS endpoint could
// not be reached. Callers may retry.
var ErrFetch = jwtauth.ErrFetch

// ErrTokenEndpoint is matched by every *TokenEndpointError.
var ErrTokenEndpoint = errors.New("token endpoint error")

// TokenEndpointError reports a failed code exchange or refresh.
type TokenEndpointError struct {
	Op          string // "exchange" or "refresh"
	StatusCode  int    // zero when the endpoint was not reached
	Code        string // OAuth2 "error"
	Description string // OAuth2 "error_description"
	Err         error
}

func (e *TokenEndpointError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", e.Op, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", e.Op, e.Code)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *TokenEndpointError) Unwrap() error { return e.Err }

func (e *TokenEndpointError) Is(target error) bool { return target == ErrTokenEndpoint }

// Rejected reports whether the identity provider answered and refused the
// request, as opposed to being unreachable.
func (e *TokenEndpointError) Rejected() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }

// TokenClaims are the validated claims of an access token.
type TokenClaims struct {
	Subject           string
	ObjectID          string
	PreferredUsername string
	Name              string
	Email             string
	Groups            []string
	Roles             []string
	Audience          []string
	Issuer            string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	NotBefore         time.Time // zero when absent
}

// UserID prefers the directory object id over the subject.
func (c *TokenClaims) UserID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// DisplayName falls back from name to preferred_username to subject.
func (c *TokenClaims) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PreferredUsername != "":
		return c.PreferredUsername
	default:
		return c.Subject
	}
}

// IsExpired reports whether exp is at or before now.
func (c *TokenClaims) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// UserSession is the server-side record bound to an opaque session id.
type UserSession struct {
	UserID             string    `json:"user_id"`
	DisplayName        string    `json:"display_name"`
	Email              string    `json:"email,omitempty"`
	Groups             []string  `json:"groups"`
	Roles              []string  `json:"roles"`
	AccessToken        string    `json:"access_token"`
	RefreshToken       string    `json:"refresh_token,omitempty"`
	TokenExpiresAt     time.Time `json:"token_expires_at"`
	SessionCreatedAt   time.Time `json:"session_created_at"`
	IsPrivilegedMember bool      `json:"is_fprime_member"`
}

// IsTokenExpired reports whether the access token expiry is at or before
// now, the same boundary TokenClaims.IsExpired and the validator apply.
func (s *UserSession) IsTokenExpired(now time.Time) bool {
	return !now.Before(s.TokenExpiresAt)
}

// HasRole reports whether the session carries role.
func (s *UserSession) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s *UserSession) Clone() *UserSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Groups = append([]string(nil), s.Groups...)
	c.Roles = append([]string(nil), s.Roles...)
	return &c
}

// AuthState binds an authorization request to its callback. It is valid
// for exactly one callback.
type AuthState struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
}

// TokenResponse is the subset of a token endpoint response the gateway uses.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    time.Duration
}

func claimsFrom(c *jwtauth.Claims) *TokenClaims {
	out := &TokenClaims{
		Subject:           c.Subject,
		ObjectID:          c.ObjectID,
		PreferredUsername: c.PreferredUsername,
		Name:              c.Name,
		Email:             c.Email,
		Groups:            append([]string(nil), c.Groups...),
		Roles:             append([]string(nil), c.Roles...),
		Audience:          append([]string(nil), c.Audience...),
		Issuer:            c.Issuer,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	if c.NotBefore != nil {
		out.NotBefore = c.NotBefore.Time
	}
	return out
}
