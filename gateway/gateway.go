// Package gateway is the HTTP surface of the F-Prime MCP server. It serves
// the OIDC login flow under /auth and the permission-gated tool surface
// under /mcp, both as plain JSON routes and as a JSON-RPC endpoint for MCP
// clients, together with the session resolution that ties a request to a
// user.
//
// Every request is resolved at most once. A session cookie is looked up
// first; an expired cookie session with a refresh token is refreshed in
// place. Without a usable cookie, a bearer access token is validated
// directly. Routes then apply the authenticated and privileged-member guards
// they need.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/F-Prime-Capital/mcp-server/auth"
	"github.com/F-Prime-Capital/mcp-server/internal/logctx"
	"github.com/F-Prime-Capital/mcp-server/internal/wellknown"
	"github.com/F-Prime-Capital/mcp-server/mcp"
	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// ServiceName identifies the gateway in health and index responses.
	ServiceName = "fprime-mcp-server"

	// DefaultBearerLifetime is assumed for bearer tokens presented directly.
	DefaultBearerLifetime = 3600 * time.Second

	requestIDHeader       = "X-Request-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	maxRequestIDLen = 128
	maxBodyBytes    = 1 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// IdentityProvider runs the authorization-code + PKCE flow. *auth.Provider
// implements it.
type IdentityProvider interface {
	GenerateAuthState(redirectURI string) (*auth.AuthState, string, error)
	BuildAuthorizationURL(ctx context.Context, redirectURI, state, nonce, codeChallenge string, scopes ...string) (string, error)
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*auth.TokenResponse, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
	CreateUserSession(ctx context.Context, accessToken, refreshToken string, expiresIn time.Duration) (*auth.UserSession, error)
}

// SessionManager persists sessions and login state. *sessions.Manager
// implements it.
type SessionManager interface {
	CreateSession(ctx context.Context, sess *auth.UserSession) (string, error)
	GetSession(ctx context.Context, id string) (*auth.UserSession, error)
	RefreshSession(ctx context.Context, id string, sess *auth.UserSession) error
	DeleteSession(ctx context.Context, id string) error
	SaveAuthState(ctx context.Context, st *auth.AuthState) error
	ValidateAuthState(ctx context.Context, value string) (*auth.AuthState, error)
	SessionTTL() time.Duration
}

// ToolRegistry lists and executes tools for a session. *tools.Registry
// implements it.
type ToolRegistry interface {
	ListTools(session *auth.UserSession) []mcp.Tool
	ExecuteTool(ctx context.Context, name string, args json.RawMessage, session *auth.UserSession) (*mcp.CallToolResult, error)
}

// Config wires the gateway to its collaborators.
type Config struct {
	// Provider, Sessions and Tools are required.
	Provider IdentityProvider
	Sessions SessionManager
	Tools    ToolRegistry

	// PublicURL is the externally visible base URL. When empty the callback
	// URL is derived from each request.
	PublicURL string

	// SecureCookies marks the session cookie Secure. Set in production.
	SecureCookies bool

	// CookieSecret, when set, signs session cookie values.
	CookieSecret string

	// CORSOrigins lists origins allowed to make credentialed requests.
	CORSOrigins []string

	// AuthorizationServer and Scopes are advertised in the protected
	// resource metadata document.
	AuthorizationServer string
	Scopes              []string

	// BearerLifetime defaults to DefaultBearerLifetime.
	BearerLifetime time.Duration

	// Version is reported by the index route.
	Version string

	// Now defaults to time.Now.
	Now func() time.Time

	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// Handler serves the gateway routes.
type Handler struct {
	next      http.Handler
	log       *slog.Logger
	provider  IdentityProvider
	sessions  SessionManager
	tools     ToolRegistry
	publicURL *url.URL
	cookies   cookieCodec
	secure    bool
	issuer    string
	scopes    []string
	bearerTTL time.Duration
	version   string
	now       func() time.Time

	refreshes singleflight.Group
}

var _ http.Handler = (*Handler)(nil)

// New validates cfg and builds the route table.
func New(cfg Config) (*Handler, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	var public *url.URL
	if cfg.PublicURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.PublicURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid public URL %q: %w", cfg.PublicURL, err)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return nil, fmt.Errorf("public URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
		}
		public = u
	}

	logHandler := slog.DiscardHandler
	if cfg.LogHandler != nil {
		logHandler = cfg.LogHandler
	}

	h := &Handler{
		log:       slog.New(logHandler),
		provider:  cfg.Provider,
		sessions:  cfg.Sessions,
		tools:     cfg.Tools,
		publicURL: public,
		cookies:   newCookieCodec(cfg.CookieSecret, cfg.Sessions.SessionTTL()),
		secure:    cfg.SecureCookies,
		issuer:    cfg.AuthorizationServer,
		scopes:    append([]string(nil), cfg.Scopes...),
		bearerTTL: cfg.BearerLifetime,
		version:   cfg.Version,
		now:       cfg.Now,
	}
	if h.bearerTTL <= 0 {
		h.bearerTTL = DefaultBearerLifetime
	}
	if h.now == nil {
		h.now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET "+wellknown.ProtectedResourcePath, h.handleProtectedResource)

	mux.HandleFunc("GET /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/callback", h.handleCallback)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/me", h.requireAuthenticated(h.handleMe))
	mux.HandleFunc("GET /auth/token", h.requireAuthenticated(h.handleToken))

	mux.HandleFunc("GET /mcp/tools", h.requireAuthenticated(h.requirePrivilegedMember(h.handleListTools)))
	mux.HandleFunc("POST /mcp/tools/call", h.requireAuthenticated(h.requirePrivilegedMember(h.handleCallTool)))
	mux.HandleFunc("POST /mcp", h.requireAuthenticated(h.requirePrivilegedMember(h.handleRPC)))

	h.next = withCORS(mux, cfg.CORSOrigins)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" || len(reqID) > maxRequestIDLen {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	h.next.ServeHTTP(w, r)
}

type indexResponse struct {
	Service      string `json:"service"`
	Version      string `json:"version"`
	AuthRequired bool   `json:"auth_required"`
	LoginURL     string `json:"login_url"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Service:      ServiceName,
		Version:      h.version,
		AuthRequired: true,
		LoginURL:     "/auth/login",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (h *Handler) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	meta := wellknown.ProtectedResourceMetadata{
		Resource:                          h.baseURL(r) + "/mcp",
		ScopesSupported:                   h.scopes,
		BearerMethodsSupported:            []string{"header"},
		ResourceSigningAlgValuesSupported: []string{"RS256"},
		ResourceName:                      ServiceName,
	}
	if h.issuer != "" {
		meta.AuthorizationServers = []string{h.issuer}
	}
	writeJSON(w, http.StatusOK, meta)
}

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, errorBody{Error: code, Description: desc})
}

// writeUnauthorized answers 401 with a Bearer challenge pointing at the
// protected resource metadata.
func (h *Handler) writeUnauthorized(w http.ResponseWriter, r *http.Request, code, desc string) {
	challenge := fmt.Sprintf(`Bearer realm="%s", resource_metadata="%s"`, ServiceName, h.baseURL(r)+wellknown.ProtectedResourcePath)
	if code != "" && code != "authentication_required" {
		challenge += fmt.Sprintf(`, error="%s", error_description="%s"`, code, desc)
	}
	w.Header().Set(wwwAuthenticateHeader, challenge)
	writeError(w, http.StatusUnauthorized, code, desc)
}

// writeIdPError maps a failed call to the identity provider onto a client
// error when the provider rejected the request and onto 502 otherwise.
func (h *Handler) writeIdPError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.ErrorContext(r.Context(), op, slog.String("err", err.Error()))

	var te *auth.TokenEndpointError
	switch {
	case errors.As(err, &te) && te.Rejected():
		code := te.Code
		if code == "" {
			code = "invalid_grant"
		}
		writeError(w, http.StatusBadRequest, code, auth.ErrorDescription(err))
	case errors.Is(err, auth.ErrUnauthorized):
		h.writeUnauthorized(w, r, "invalid_token", validationDescription(err))
	case errors.Is(err, auth.ErrTokenEndpoint):
		desc := auth.ErrorDescription(err)
		if desc == "" {
			desc = "the identity provider did not complete the request"
		}
		writeError(w, http.StatusBadGateway, "idp_error", desc)
	case errors.Is(err, auth.ErrFetch), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusBadGateway, "idp_unavailable", "the identity provider could not be reached")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

// validationDescription names the token validation failure without echoing
// token contents.
func validationDescription(err error) string {
	for _, known := range []struct {
		err  error
		desc string
	}{
		{auth.ErrTokenExpired, "token expired"},
		{auth.ErrTokenNotYetValid, "token not yet valid"},
		{auth.ErrNoMatchingKey, "no matching signing key"},
		{auth.ErrSignatureInvalid, "signature mismatch"},
		{auth.ErrAudienceMismatch, "audience mismatch"},
		{auth.ErrIssuerMismatch, "issuer mismatch"},
		{auth.ErrMalformedToken, "malformed token"},
	} {
		if errors.Is(err, known.err) {
			return known.desc
		}
	}
	return "token validation failed"
}
