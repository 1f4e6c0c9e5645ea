package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret is not set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables. When KEY is
// unset, KEY_FILE may name a file holding the value (Docker/Kubernetes secrets).
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	if path, ok := os.LookupEnv(key + "_FILE"); ok && path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied secret path
		if err != nil {
			return "", fmt.Errorf("read %s_FILE: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credentials from the environment secret store.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets fills the redis password, SQL DSN and API keys from store.
// Unset secrets keep their configured values.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	lookup := func(name string) (string, bool, error) {
		v, err := store.Get(ctx, EnvPrefix+"_"+name)
		if errors.Is(err, ErrSecretNotFound) {
			return "", false, nil
		}
		return v, err == nil, err
	}

	if v, ok, err := lookup("REDIS_PASSWORD"); err != nil {
		return err
	} else if ok {
		c.Storage.Redis.Password = v
	}
	if v, ok, err := lookup("SQL_DSN"); err != nil {
		return err
	} else if ok {
		c.Storage.SQL.DSN = v
	}
	if v, ok, err := lookup("API_KEYS"); err != nil {
		return err
	} else if ok {
		c.Security.APIKeys = splitList(v)
	}
	return nil
}
