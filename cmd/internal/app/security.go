package app

import (
	"errors"
	"fmt"

	"loyalty/cmd/security/token"
)

// LoadSecret enforces the token secret policy at startup.
//
// Production refuses a missing, short or fallback secret. Other environments
// fall back to a fixed development secret and log a warning.
func LoadSecret(cfg Config, log Logger) (token.SecretConfig, error) {
	sc, err := token.LoadSecretConfig(cfg.Environment)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return token.SecretConfig{}, fmt.Errorf("security policy: %s must be set when LOYALTY_ENV=%s", token.SecretEnvKey, cfg.Environment)
		case errors.Is(err, token.ErrSecretTooShort):
			return token.SecretConfig{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes)
		default:
			return token.SecretConfig{}, fmt.Errorf("security policy: %w", err)
		}
	}

	if sc.UsingFallback {
		log.Warn("security.token_secret.fallback",
			"env", cfg.Environment,
			"hint", "set "+token.SecretEnvKey+" before deploying",
		)
	}
	return sc, nil
}
