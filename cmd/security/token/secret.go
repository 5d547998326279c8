package token

import (
	"os"
	"strings"
)

const (
	// SecretEnvKey is the env var name for the token signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "LOYALTY_TOKEN_SECRET"

	// MinSecretBytes is the minimum secret size accepted in production.
	MinSecretBytes = 32

	// #nosec G101 -- development-only fallback, rejected in production by Validate.
	developmentSecret = "loyalty-development-only-secret-change-me"
)

// SecretConfig carries the process-wide signing secret.
type SecretConfig struct {
	Secret      []byte
	Environment string

	// UsingFallback is true when Secret is the built-in development secret.
	UsingFallback bool
}

// IsProduction reports whether environment names a production deployment.
func IsProduction(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "production", "prod":
		return true
	}
	return false
}

// LoadSecretConfig reads LOYALTY_TOKEN_SECRET for the given environment.
func LoadSecretConfig(environment string) (SecretConfig, error) {
	return NewSecretConfig(environment, os.Getenv(SecretEnvKey))
}

// NewSecretConfig builds a SecretConfig from a raw secret.
// A blank secret selects the development fallback, which is refused in production.
func NewSecretConfig(environment, raw string) (SecretConfig, error) {
	cfg := SecretConfig{Environment: environment}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		if IsProduction(environment) {
			return SecretConfig{}, ErrSecretMissing
		}
		cfg.Secret = []byte(developmentSecret)
		cfg.UsingFallback = true
		return cfg, nil
	}

	cfg.Secret = []byte(raw)
	if err := cfg.Validate(); err != nil {
		return SecretConfig{}, err
	}
	return cfg, nil
}

// Validate enforces the secret policy. Length is measured in bytes because the
// secret is used as a raw HMAC key.
func (c SecretConfig) Validate() error {
	if len(c.Secret) == 0 {
		return ErrSecretMissing
	}
	if !IsProduction(c.Environment) {
		return nil
	}
	if c.UsingFallback || string(c.Secret) == developmentSecret {
		return ErrFallbackInProduction
	}
	if len(c.Secret) < MinSecretBytes {
		return ErrSecretTooShort
	}
	return nil
}
