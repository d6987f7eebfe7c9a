// Package authtest provides an in-process OpenID Connect identity provider
// for tests: discovery, a JWKS endpoint, and a token endpoint that honours
// authorization codes (with PKCE) and refresh tokens it has issued.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ClientID is the client id tokens are minted for.
	ClientID = "test-client"
	// ClientSecret is the secret the token endpoint expects.
	ClientSecret = "test-secret"
	// KeyID is the kid of the signing key.
	KeyID = "test-key"
	// AccessTokenLifetime is the expires_in returned by the token endpoint.
	AccessTokenLifetime = time.Hour
)

// IdP is a mock identity provider backed by an httptest.Server.
type IdP struct {
	t      *testing.T
	srv    *httptest.Server
	issuer string
	key    *rsa.PrivateKey

	mu       sync.Mutex
	codes    map[string]grant
	refresh  map[string]jwt.MapClaims
	failNext bool

	lastForm map[string]string

	// TokenRequests counts calls to the token endpoint.
	TokenRequests atomic.Int32
}

type grant struct {
	claims    jwt.MapClaims
	challenge string
}

// New starts an IdP. It is closed when the test ends.
func New(t *testing.T) *IdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	p := &IdP{
		t:       t,
		key:     key,
		codes:   map[string]grant{},
		refresh: map[string]jwt.MapClaims{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /keys", p.handleKeys)
	mux.HandleFunc("POST /oauth2/v2.0/token", p.handleToken)
	p.srv = httptest.NewServer(mux)
	p.issuer = p.srv.URL
	t.Cleanup(p.srv.Close)
	return p
}

// Issuer returns the issuer URL.
func (p *IdP) Issuer() string { return p.issuer }

// AuthorizationEndpoint returns the advertised authorization endpoint.
func (p *IdP) AuthorizationEndpoint() string { return p.issuer + "/oauth2/v2.0/authorize" }

// Claims returns a claim set for subject that passes validation.
func (p *IdP) Claims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                p.issuer,
		"aud":                ClientID,
		"sub":                subject,
		"iat":                now.Unix(),
		"nbf":                now.Unix(),
		"exp":                now.Add(AccessTokenLifetime).Unix(),
		"name":               "Test User",
		"preferred_username": subject + "@example.com",
	}
}

// Mint signs claims with the IdP's key.
func (p *IdP) Mint(claims jwt.MapClaims) string {
	p.t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID
	s, err := tok.SignedString(p.key)
	if err != nil {
		p.t.Fatalf("sign: %v", err)
	}
	return s
}

// IssueCode registers an authorization code that redeems to an access token
// carrying claims. The code is only redeemable with a verifier matching
// challenge.
func (p *IdP) IssueCode(claims jwt.MapClaims, challenge string) string {
	code := randomString(p.t)
	p.mu.Lock()
	p.codes[code] = grant{claims: claims, challenge: challenge}
	p.mu.Unlock()
	return code
}

// IssueRefreshToken registers a refresh token that redeems to a fresh access
// token carrying claims.
func (p *IdP) IssueRefreshToken(claims jwt.MapClaims) string {
	rt := randomString(p.t)
	p.mu.Lock()
	p.refresh[rt] = claims
	p.mu.Unlock()
	return rt
}

// FailNextTokenRequest makes the next token endpoint call answer
// invalid_grant.
func (p *IdP) FailNextTokenRequest() {
	p.mu.Lock()
	p.failNext = true
	p.mu.Unlock()
}

// LastForm returns the value of key in the most recent token request.
func (p *IdP) LastForm(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm[key]
}

func (p *IdP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                           p.issuer,
		"jwks_uri":                         p.issuer + "/keys",
		"authorization_endpoint":           p.AuthorizationEndpoint(),
		"token_endpoint":                   p.issuer + "/oauth2/v2.0/token",
		"response_types_supported":         []string{"code"},
		"response_modes_supported":         []string{"query"},
		"code_challenge_methods_supported": []string{"S256"},
	})
}

func (p *IdP) handleKeys(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     KeyID,
		Algorithm: "RS256",
		Use:       "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (p *IdP) handleToken(w http.ResponseWriter, r *http.Request) {
	p.TokenRequests.Add(1)
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", "unparseable form")
		return
	}

	p.mu.Lock()
	p.lastForm = map[string]string{}
	for k := range r.PostForm {
		p.lastForm[k] = r.PostForm.Get(k)
	}
	fail := p.failNext
	p.failNext = false
	p.mu.Unlock()

	if fail {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "AADSTS70008: The provided grant has expired.")
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		tokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	var claims jwt.MapClaims
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		p.mu.Lock()
		g, ok := p.codes[code]
		delete(p.codes, code)
		p.mu.Unlock()
		if !ok {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "unknown authorization code")
			return
		}
		if g.challenge != "" && s256(r.PostForm.Get("code_verifier")) != g.challenge {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
			return
		}
		claims = g.claims
	case "refresh_token":
		p.mu.Lock()
		c, ok := p.refresh[r.PostForm.Get("refresh_token")]
		p.mu.Unlock()
		if !ok {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
		claims = jwt.MapClaims{}
		for k, v := range c {
			claims[k] = v
		}
		claims["iat"] = time.Now().Unix()
		claims["exp"] = time.Now().Add(AccessTokenLifetime).Unix()
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  p.Mint(claims),
		"refresh_token": p.IssueRefreshToken(claims),
		"token_type":    "Bearer",
		"expires_in":    int(AccessTokenLifetime / time.Second),
	})
}

func tokenError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomString(t *testing.T) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
