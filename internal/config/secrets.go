package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrSecretNotFound is returned when a provider has no value for a name.
var ErrSecretNotFound = errors.New("config: secret not found")

// SecretProvider is an opaque key-value secret source.
type SecretProvider interface {
	Secret(ctx context.Context, name string) (string, error)
}

// EnvSecrets resolves a secret from the environment variable named by the
// upper-cased secret name.
type EnvSecrets struct{}

func (EnvSecrets) Secret(_ context.Context, name string) (string, error) {
	if v, ok := os.LookupEnv(strings.ToUpper(name)); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// FileSecrets resolves secrets from a flat JSON object on disk, the shape
// of a cloud secret-manager secret string. The file is read once.
type FileSecrets struct {
	Path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *FileSecrets) Secret(_ context.Context, name string) (string, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.values[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

func (f *FileSecrets) load() {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		f.err = fmt.Errorf("read secrets file: %w", err)
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		f.err = fmt.Errorf("parse secrets file: %w", err)
		return
	}
	f.values = make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			f.values[k] = s
		}
	}
}
