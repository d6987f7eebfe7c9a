package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
)

// Validation failures. Each is distinct so callers can report the reason.
var (
	ErrTokenExpired     = errors.New("jwtauth: token expired")
	ErrTokenNotYetValid = errors.New("jwtauth: token not yet valid")
	ErrNoMatchingKey    = errors.New("jwtauth: no matching signing key")
	ErrSignatureInvalid = errors.New("jwtauth: signature invalid")
	ErrAudienceMismatch = errors.New("jwtauth: audience mismatch")
	ErrIssuerMismatch   = errors.New("jwtauth: issuer mismatch")
	ErrMalformedToken   = errors.New("jwtauth: malformed token")
)

// Config controls validation behavior for access tokens.
type Config struct {
	// ClientID is the required "aud" value.
	ClientID string
	// AllowedAlgs is the signing algorithm allow-list. Defaults to RS256.
	AllowedAlgs []string
	// Leeway is the clock skew tolerance for exp/nbf/iat.
	Leeway time.Duration

	// PrivilegedGroupID and PrivilegedRole drive IsPrivilegedMember.
	PrivilegedGroupID string
	PrivilegedRole    string

	Now func() time.Time
}

// DefaultConfig returns a Config allowing only RS256 with no leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
	}
}

// Claims is the claim set carried by identity provider access tokens.
type Claims struct {
	jwt.RegisteredClaims
	ObjectID          string   `json:"oid,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Name              string   `json:"name,omitempty"`
	Email             string   `json:"email,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	Roles             []string `json:"roles,omitempty"`
}

// Validator verifies bearer tokens against the keys held by a KeyCache.
type Validator struct {
	cfg  Config
	keys *KeyCache
}

// NewValidator returns a Validator that enforces cfg using keys.
func NewValidator(keys *KeyCache, cfg *Config) (*Validator, error) {
	if keys == nil {
		return nil, errors.New("key cache is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	c := *cfg
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Validator{cfg: c, keys: keys}, nil
}

// Validate verifies tok and returns its claims.
//
// Expiry is checked before the signature so an expired token always reports
// ErrTokenExpired. An unknown kid triggers at most one forced JWKS refresh.
func (v *Validator) Validate(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	unverified := &Claims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, unverified)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if unverified.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	if v.cfg.Now().After(unverified.ExpiresAt.Add(v.cfg.Leeway)) {
		return nil, ErrTokenExpired
	}

	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no kid", ErrNoMatchingKey)
	}
	kf, err := v.keys.KeyFor(ctx, kid)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience(v.cfg.ClientID),
		jwt.WithIssuer(v.keys.Issuer()),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.cfg.Now),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(tok, claims, kf.Keyfunc); err != nil {
		return nil, classify(err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformedToken)
	}
	return claims, nil
}

// classify maps parser errors onto the package's failure kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		if errors.Is(err, jwkset.ErrKeyNotFound) {
			return fmt.Errorf("%w: %v", ErrNoMatchingKey, err)
		}
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrTokenNotYetValid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// IsPrivilegedMember reports whether claims carry the privileged group id or
// the privileged role. Either one is sufficient.
func (v *Validator) IsPrivilegedMember(claims *Claims) bool {
	if claims == nil {
		return false
	}
	if v.cfg.PrivilegedGroupID != "" && slices.Contains(claims.Groups, v.cfg.PrivilegedGroupID) {
		return true
	}
	return v.cfg.PrivilegedRole != "" && slices.Contains(claims.Roles, v.cfg.PrivilegedRole)
}

// UserID prefers the directory object id over the subject.
func (c *Claims) UserID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// DisplayName falls back from name to preferred_username to sub.
func (c *Claims) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PreferredUsername != "":
		return c.PreferredUsername
	default:
		return c.Subject
	}
}
