package qr

import (
	"crypto/rand"
	"io"
	"strings"
	"time"

	"loyalty/cmd/internal/metrics"
	"loyalty/cmd/security/token"
)

// Signer is the subset of token.Codec used by the issuers.
type Signer interface {
	Sign(claims map[string]any, opts token.SignOptions) (string, error)
	Now() time.Time
}

type issuerConfig struct {
	issuer    string
	imageSize int
	entropy   io.Reader
	metrics   *metrics.Metrics
}

// IssuerOption configures IdentityIssuer and RedemptionIssuer.
type IssuerOption func(*issuerConfig) error

// WithIssuer overrides the issuer claim (default DefaultIssuer).
func WithIssuer(issuer string) IssuerOption {
	return func(c *issuerConfig) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return ErrInvalidInput
		}
		c.issuer = issuer
		return nil
	}
}

// WithImageSize overrides the rendered QR size in pixels.
func WithImageSize(px int) IssuerOption {
	return func(c *issuerConfig) error {
		if px < 64 || px > 2048 {
			return ErrInvalidInput
		}
		c.imageSize = px
		return nil
	}
}

// WithEntropy overrides the nonce source (default crypto/rand).
func WithEntropy(r io.Reader) IssuerOption {
	return func(c *issuerConfig) error {
		if r == nil {
			return ErrInvalidInput
		}
		c.entropy = r
		return nil
	}
}

// WithIssuerMetrics counts issued tokens.
func WithIssuerMetrics(m *metrics.Metrics) IssuerOption {
	return func(c *issuerConfig) error {
		c.metrics = m
		return nil
	}
}

func newIssuerConfig(opts []IssuerOption) (issuerConfig, error) {
	cfg := issuerConfig{
		issuer:    DefaultIssuer,
		imageSize: DefaultImageSize,
		entropy:   rand.Reader,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return issuerConfig{}, err
		}
	}
	return cfg, nil
}
