package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/F-Prime-Capital/mcp-server/internal/jwtauth"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is assumed when the token endpoint omits expires_in.
const DefaultTokenLifetime = time.Hour

// ProviderOption configures optional aspects of a Provider.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	jwks        jwtauth.KeyCacheConfig
	validation  *jwtauth.Config
	scopes      []string
	httpTimeout time.Duration
	logHandler  slog.Handler
}

// WithPrivilegedGroup sets the group id that grants privileged membership.
func WithPrivilegedGroup(id string) ProviderOption {
	return func(c *providerConfig) { c.validation.PrivilegedGroupID = id }
}

// WithPrivilegedRole sets an app role that also grants privileged membership.
func WithPrivilegedRole(role string) ProviderOption {
	return func(c *providerConfig) { c.validation.PrivilegedRole = role }
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) ProviderOption {
	return func(c *providerConfig) {
		c.validation.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims. Defaults to 0.
func WithLeeway(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.validation.Leeway = d }
}

// WithScopes replaces the default requested scopes.
func WithScopes(scopes ...string) ProviderOption {
	return func(c *providerConfig) { c.scopes = append([]string(nil), scopes...) }
}

// WithJWKSURI overrides the jwks_uri learned from discovery.
func WithJWKSURI(uri string) ProviderOption {
	return func(c *providerConfig) { c.jwks.JWKSURI = uri }
}

// WithHTTPTimeout bounds every call to the identity provider. Defaults to 10s.
func WithHTTPTimeout(d time.Duration) ProviderOption {
	return func(c *providerConfig) { c.httpTimeout = d }
}

// WithClock overrides time.Now for expiry computations.
func WithClock(now func() time.Time) ProviderOption {
	return func(c *providerConfig) {
		c.jwks.Now = now
		c.validation.Now = now
	}
}

// WithLogHandler sets the slog.Handler used by the provider. Logging is
// discarded by default.
func WithLogHandler(h slog.Handler) ProviderOption {
	return func(c *providerConfig) { c.logHandler = h }
}

// Provider runs the authorization-code + PKCE flow against one issuer and
// turns validated access tokens into session records.
type Provider struct {
	clientID     string
	clientSecret string
	scopes       []string
	client       *http.Client
	now          func() time.Time
	log          *slog.Logger

	keys      *jwtauth.KeyCache
	validator *jwtauth.Validator
}

// NewProvider returns a Provider for issuer. Discovery happens lazily on the
// first call that needs it.
func NewProvider(issuer, clientID, clientSecret string, opts ...ProviderOption) (*Provider, error) {
	if clientID == "" {
		return nil, errors.New("client id is required")
	}
	cfg := providerConfig{
		jwks:        jwtauth.KeyCacheConfig{Issuer: issuer},
		validation:  jwtauth.DefaultConfig(),
		httpTimeout: 10 * time.Second,
	}
	cfg.validation.ClientID = clientID
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.scopes) == 0 {
		cfg.scopes = DefaultScopes(clientID)
	}

	logHandler := slog.DiscardHandler
	if cfg.logHandler != nil {
		logHandler = cfg.logHandler
	}
	client := &http.Client{Timeout: cfg.httpTimeout}
	cfg.jwks.HTTPClient = client
	cfg.jwks.LogHandler = logHandler

	keys, err := jwtauth.NewKeyCache(cfg.jwks)
	if err != nil {
		return nil, err
	}
	validator, err := jwtauth.NewValidator(keys, cfg.validation)
	if err != nil {
		return nil, err
	}

	now := cfg.validation.Now
	if now == nil {
		now = time.Now
	}

	return &Provider{
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       cfg.scopes,
		client:       client,
		now:          now,
		log:          slog.New(logHandler),
		keys:         keys,
		validator:    validator,
	}, nil
}

// DefaultScopes are requested when none are configured.
func DefaultScopes(clientID string) []string {
	return []string{"openid", "profile", "email", fmt.Sprintf("api://%s/access", clientID)}
}

// GenerateAuthState mints a fresh state, nonce and PKCE verifier for a login
// that should land on redirectURI. It returns the record and the S256 code
// challenge. The record is not persisted.
func (p *Provider) GenerateAuthState(redirectURI string) (*AuthState, string, error) {
	state, err := RandomToken(stateBytes)
	if err != nil {
		return nil, "", err
	}
	nonce, err := RandomToken(nonceBytes)
	if err != nil {
		return nil, "", err
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, "", err
	}
	st := &AuthState{
		State:        state,
		Nonce:        nonce,
		RedirectURI:  redirectURI,
		CreatedAt:    p.now().UTC(),
		CodeVerifier: verifier,
	}
	return st, CodeChallengeS256(verifier), nil
}

// BuildAuthorizationURL composes the authorization endpoint URL. When no
// scopes are given the provider's configured scopes are used.
func (p *Provider) BuildAuthorizationURL(ctx context.Context, redirectURI, state, nonce, codeChallenge string, scopes ...string) (string, error) {
	cfg, err := p.oauth2Config(ctx, redirectURI)
	if err != nil {
		return "", err
	}
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// ExchangeCode redeems an authorization code. redirectURI must equal the one
// used to build the authorization URL.
func (p *Provider) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	cfg, err := p.oauth2Config(ctx, redirectURI)
	if err != nil {
		return nil, err
	}
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	tok, err := cfg.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		te := tokenEndpointError("exchange", err)
		p.log.WarnContext(ctx, "code exchange failed", slog.String("err", te.Error()))
		return nil, te
	}
	return p.tokenResponse(tok), nil
}

// RefreshAccessToken redeems a refresh token. Failures are returned, never
// retried. The response keeps the presented refresh token when the endpoint
// does not rotate it.
func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, &TokenEndpointError{Op: "refresh", Err: errors.New("no refresh token")}
	}
	cfg, err := p.oauth2Config(ctx, "")
	if err != nil {
		return nil, err
	}
	tok, err := cfg.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		te := tokenEndpointError("refresh", err)
		p.log.WarnContext(ctx, "token refresh failed", slog.String("err", te.Error()))
		return nil, te
	}
	res := p.tokenResponse(tok)
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}
	return res, nil
}

// ValidateToken verifies tok and returns its claims. Validation failures
// match ErrUnauthorized; failures reaching the identity provider match
// ErrFetch instead.
func (p *Provider) ValidateToken(ctx context.Context, tok string) (*TokenClaims, error) {
	c, err := p.validator.Validate(ctx, tok)
	if err != nil {
		if errors.Is(err, ErrFetch) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return claimsFrom(c), nil
}

// IsPrivilegedMember reports whether claims carry the privileged group or
// the privileged role.
func (p *Provider) IsPrivilegedMember(claims *TokenClaims) bool {
	if claims == nil {
		return false
	}
	return p.validator.IsPrivilegedMember(&jwtauth.Claims{Groups: claims.Groups, Roles: claims.Roles})
}

// CreateUserSession validates accessToken and builds the session record for
// it. The token is treated as expiring expiresIn from now.
func (p *Provider) CreateUserSession(ctx context.Context, accessToken, refreshToken string, expiresIn time.Duration) (*UserSession, error) {
	claims, err := p.ValidateToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	now := p.now().UTC()
	return &UserSession{
		UserID:             claims.UserID(),
		DisplayName:        claims.DisplayName(),
		Email:              email,
		Groups:             claims.Groups,
		Roles:              claims.Roles,
		AccessToken:        accessToken,
		RefreshToken:       refreshToken,
		TokenExpiresAt:     now.Add(expiresIn),
		SessionCreatedAt:   now,
		IsPrivilegedMember: p.IsPrivilegedMember(claims),
	}, nil
}

// Metadata returns the issuer's discovery document.
func (p *Provider) Metadata(ctx context.Context) (*jwtauth.Metadata, error) {
	return p.keys.Configuration(ctx)
}

func (p *Provider) oauth2Config(ctx context.Context, redirectURI string) (*oauth2.Config, error) {
	meta, err := p.keys.Configuration(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      append([]string(nil), p.scopes...),
	}, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *Provider) tokenResponse(tok *oauth2.Token) *TokenResponse {
	res := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    DefaultTokenLifetime,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		res.IDToken = id
	}
	switch {
	case tok.ExpiresIn > 0:
		res.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		if d := tok.Expiry.Sub(p.now()); d > 0 {
			res.ExpiresIn = d
		}
	}
	return res
}

func tokenEndpointError(op string, err error) *TokenEndpointError {
	te := &TokenEndpointError{Op: op, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te.Code = re.ErrorCode
		te.Description = strings.TrimSpace(re.ErrorDescription)
		if re.Response != nil {
			te.StatusCode = re.Response.StatusCode
		}
	}
	return te
}

// ErrorDescription returns the identity provider's error_description carried
// by err, or err's message when there is none.
func ErrorDescription(err error) string {
	var te *TokenEndpointError
	if errors.As(err, &te) && te.Description != "" {
		return te.Description
	}
	return err.Error()
}
