package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultKeySetValidity is how long a fetched JWKS is served before a
// regular lookup fetches it again.
const DefaultKeySetValidity = 24 * time.Hour

// maxJWKSBytes bounds the size of a JWKS response body.
const maxJWKSBytes = 1 << 20

// maxTrackedKids bounds the per-kid forced refresh table.
const maxTrackedKids = 4096

// ErrFetch indicates the identity provider could not be reached or answered
// a discovery / JWKS request with an unexpected status.
var ErrFetch = errors.New("jwtauth: fetch failed")

// Metadata is the subset of the OIDC discovery document the gateway uses.
type Metadata struct {
	Issuer                string   `json:"issuer"`
	JWKSURI               string   `json:"jwks_uri"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	EndSessionEndpoint    string   `json:"end_session_endpoint"`
	ResponseModes         []string `json:"response_modes_supported"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported"`
}

// KeyCacheConfig configures a KeyCache.
type KeyCacheConfig struct {
	// Issuer is the OIDC issuer URL. Discovery is performed against
	// Issuer + "/.well-known/openid-configuration".
	Issuer string
	// JWKSURI overrides the jwks_uri advertised by discovery when set.
	JWKSURI string
	// HTTPClient is used for discovery and JWKS requests. Its Timeout bounds
	// every outbound call. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// Validity is how long a fetched key set stays fresh. Defaults to
	// DefaultKeySetValidity.
	Validity time.Duration
	// ForcedRefreshEvery limits how often one unknown kid may trigger a
	// refetch of the key set. Each kid has its own budget, so a made-up kid
	// never delays the refetch for a genuinely rotated key. Defaults to one
	// per minute.
	ForcedRefreshEvery time.Duration
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	LogHandler slog.Handler
}

// KeyCache memoizes the discovery document for the life of the process and
// caches the JWKS for a fixed validity window.
//
// The key set is published copy-on-write: a refresh builds the new set fully
// before swapping the pointer, so readers never observe a partial set and the
// read path takes no lock.
type KeyCache struct {
	issuer   string
	jwksURI  string
	client   *http.Client
	validity time.Duration
	now      func() time.Time
	log      *slog.Logger

	discoMu sync.Mutex
	disco   *Metadata

	current atomic.Pointer[keySet]
	group   singleflight.Group

	forcedEvery time.Duration
	forced      *ttlcache.Cache[string, *rate.Limiter]
}

type keySet struct {
	kf        keyfunc.Keyfunc
	fetchedAt time.Time
}

// NewKeyCache validates cfg and returns a KeyCache. No network request is
// made until the first lookup.
func NewKeyCache(cfg KeyCacheConfig) (*KeyCache, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = DefaultKeySetValidity
	}
	every := cfg.ForcedRefreshEvery
	if every <= 0 {
		every = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logHandler := slog.DiscardHandler
	if cfg.LogHandler != nil {
		logHandler = cfg.LogHandler
	}

	return &KeyCache{
		issuer:   strings.TrimSuffix(cfg.Issuer, "/"),
		jwksURI:  cfg.JWKSURI,
		client:   client,
		validity: validity,
		now:      now,
		log:      slog.New(logHandler),


		forcedEvery: every,
		forced: ttlcache.New(
			ttlcache.WithTTL[string, *rate.Limiter](every),
			ttlcache.WithCapacity[string, *rate.Limiter](maxTrackedKids),
		),
	}, nil
}

// Configuration returns the discovery document, fetching it on first use.
// A failed fetch is not memoized; the next call tries again.
func (c *KeyCache) Configuration(ctx context.Context) (*Metadata, error) {
	c.discoMu.Lock()
	defer c.discoMu.Unlock()

	if c.disco != nil {
		return c.disco, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.client), c.issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %w", ErrFetch, err)
	}
	var meta Metadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if c.jwksURI != "" {
		meta.JWKSURI = c.jwksURI
	}

	missing := []string{}
	if meta.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if meta.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	c.log.DebugContext(ctx, "oidc discovery complete", slog.String("issuer", meta.Issuer), slog.String("jwks_uri", meta.JWKSURI))
	c.disco = &meta
	return c.disco, nil
}

// Issuer returns the configured issuer URL.
func (c *KeyCache) Issuer() string { return c.issuer }

// JWKS returns the current key set. A fresh set is served from memory;
// a stale or missing set, or forceRefresh, fetches it again. Concurrent
// fetches are coalesced into one request.
func (c *KeyCache) JWKS(ctx context.Context, forceRefresh bool) (keyfunc.Keyfunc, error) {
	if ks := c.current.Load(); ks != nil && !forceRefresh && c.now().Sub(ks.fetchedAt) < c.validity {
		return ks.kf, nil
	}

	ch := c.group.DoChan("jwks", func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keySet).kf, nil
	}
}

// KeyFor returns a key set that contains kid. When the cached set lacks it
// the set is refetched once (subject to the forced refresh limit) before
// ErrNoMatchingKey is reported.
func (c *KeyCache) KeyFor(ctx context.Context, kid string) (keyfunc.Keyfunc, error) {
	kf, err := c.JWKS(ctx, false)
	if err != nil {
		return nil, err
	}
	ok, err := hasKey(ctx, kf, kid)
	if err != nil {
		return nil, err
	}
	if ok {
		return kf, nil
	}

	if !c.allowForced(kid) {
		c.log.WarnContext(ctx, "unknown kid; forced jwks refresh suppressed", slog.String("kid", kid))
		return nil, fmt.Errorf("%w: kid %q", ErrNoMatchingKey, kid)
	}
	c.log.InfoContext(ctx, "unknown kid; refreshing jwks", slog.String("kid", kid))
	kf, err = c.JWKS(ctx, true)
	if err != nil {
		return nil, err
	}
	ok, err = hasKey(ctx, kf, kid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrNoMatchingKey, kid)
	}
	return kf, nil
}

// allowForced spends the forced refresh budget of kid. Entries idle longer
// than one interval are dropped and the table is capped at maxTrackedKids.
func (c *KeyCache) allowForced(kid string) bool {
	item, _ := c.forced.GetOrSet(kid, rate.NewLimiter(rate.Every(c.forcedEvery), 1))
	return item.Value().Allow()
}

func (c *KeyCache) fetch(ctx context.Context) (*keySet, error) {
	meta, err := c.Configuration(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.JWKSURI, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: jwks: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jwks: unexpected status %d", ErrFetch, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: jwks read: %w", ErrFetch, err)
	}

	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: jwks parse: %w", ErrFetch, err)
	}

	ks := &keySet{kf: kf, fetchedAt: c.now()}
	c.current.Store(ks)
	c.log.DebugContext(ctx, "jwks refreshed", slog.String("jwks_uri", meta.JWKSURI))
	return ks, nil
}

func hasKey(ctx context.Context, kf keyfunc.Keyfunc, kid string) (bool, error) {
	_, err := kf.Storage().KeyRead(ctx, kid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, jwkset.ErrKeyNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("jwks lookup: %w", err)
}
