// Package config loads gateway settings from the process environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Secret names consulted when the client credentials are not in the
// environment.
const (
	SecretClientID     = "entra_mcp_clientid"
	SecretClientSecret = "entra_mcp_clientsecret"
)

const authorityBase = "https://login.microsoftonline.com"

// Settings are the gateway's environment-level configuration.
type Settings struct {
	TenantID     string `env:"AZURE_TENANT_ID"`
	ClientID     string `env:"AZURE_CLIENT_ID"`
	ClientSecret string `env:"AZURE_CLIENT_SECRET"`

	PrivilegedGroupID string `env:"FPRIME_GROUP_ID"`
	PrivilegedRole    string `env:"FPRIME_APP_ROLE"`

	Host      string `env:"SERVER_HOST,default=0.0.0.0"`
	Port      int    `env:"SERVER_PORT,default=8000"`
	Env       string `env:"SERVER_ENV,default=development"`
	PublicURL string `env:"SERVER_PUBLIC_URL"`

	SessionSecret        string `env:"SESSION_SECRET_KEY"`
	SessionExpireMinutes int    `env:"SESSION_EXPIRE_MINUTES,default=60"`

	RedisURL string `env:"REDIS_URL"`

	// CORSOriginList is the raw comma-separated CORS_ORIGINS value.
	CORSOriginList string `env:"CORS_ORIGINS,default=http://localhost:3000"`

	LogLevel    string        `env:"LOG_LEVEL,default=info"`
	SecretsFile string        `env:"FPRIME_SECRETS_FILE"`
	IdPTimeout  time.Duration `env:"IDP_HTTP_TIMEOUT,default=10s"`
}

// Load decodes Settings from the environment, fills missing client
// credentials from the secret provider, and validates the result.
func Load(ctx context.Context) (*Settings, error) {
	s, err := Decode()
	if err != nil {
		return nil, err
	}
	if err := s.ResolveCredentials(ctx, s.SecretProvider()); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Decode reads Settings from the environment without validating them.
func Decode() (*Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}

// SecretProvider returns the provider used for credential fallback: the
// secrets file when configured, the environment otherwise.
func (s *Settings) SecretProvider() SecretProvider {
	if s.SecretsFile != "" {
		return &FileSecrets{Path: s.SecretsFile}
	}
	return EnvSecrets{}
}

// ResolveCredentials fills an empty ClientID or ClientSecret from p.
// Missing secrets are left empty for Validate to report.
func (s *Settings) ResolveCredentials(ctx context.Context, p SecretProvider) error {
	fill := func(dst *string, name string) error {
		if *dst != "" || p == nil {
			return nil
		}
		v, err := p.Secret(ctx, name)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				return nil
			}
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*dst = v
		return nil
	}
	if err := fill(&s.ClientID, SecretClientID); err != nil {
		return err
	}
	return fill(&s.ClientSecret, SecretClientSecret)
}

// Validate reports every missing or malformed value at once.
func (s *Settings) Validate() error {
	var errs []error
	required := []struct{ name, val string }{
		{"AZURE_TENANT_ID", s.TenantID},
		{"AZURE_CLIENT_ID", s.ClientID},
		{"AZURE_CLIENT_SECRET", s.ClientSecret},
		{"FPRIME_GROUP_ID", s.PrivilegedGroupID},
		{"SESSION_SECRET_KEY", s.SessionSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d is out of range", s.Port))
	}
	if s.SessionExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_EXPIRE_MINUTES must be positive"))
	}
	if s.IdPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IDP_HTTP_TIMEOUT must be positive"))
	}
	if s.PublicURL != "" {
		if u, err := url.Parse(s.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SERVER_PUBLIC_URL %q must be an absolute URL", s.PublicURL))
		}
	}
	if _, err := s.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Issuer is the tenant's v2.0 token issuer.
func (s *Settings) Issuer() string {
	return authorityBase + "/" + s.TenantID + "/v2.0"
}

// DiscoveryURL is the tenant's OpenID configuration document.
func (s *Settings) DiscoveryURL() string {
	return s.Issuer() + "/.well-known/openid-configuration"
}

// IsProduction reports whether SERVER_ENV is production.
func (s *Settings) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

// SessionTTL is the session expiry window.
func (s *Settings) SessionTTL() time.Duration {
	return time.Duration(s.SessionExpireMinutes) * time.Minute
}

// Addr is the listen address.
func (s *Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// CORSOrigins splits CORS_ORIGINS into trimmed, non-empty origins.
func (s *Settings) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOriginList, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SlogLevel parses LOG_LEVEL.
func (s *Settings) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s.LogLevel)))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s.LogLevel, err)
	}
	return lvl, nil
}
