package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxTokenBytes bounds the input accepted by Verify.
const maxTokenBytes = 4096

// SignOptions controls Sign.
type SignOptions struct {
	// ExpiresIn sets the exp claim relative to now. Zero means non-expiring.
	ExpiresIn time.Duration
}

// Codec signs and verifies HS256 tokens with a single shared secret.
// It is safe for concurrent use.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for exp/iat handling.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec builds a Codec from an explicit secret configuration.
func NewCodec(cfg SecretConfig, opts ...Option) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	c := &Codec{
		secret: secret,
		method: jwt.SigningMethodHS256,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// Now returns the codec's current time.
func (c *Codec) Now() time.Time {
	return c.now()
}

// Sign serializes claims into a signed token. The input map is not modified.
func (c *Codec) Sign(claims map[string]any, opts SignOptions) (string, error) {
	mc := make(jwt.MapClaims, len(claims)+1)
	for k, v := range claims {
		mc[k] = v
	}

	// Non-expiring means no exp at all, even if the caller passed one.
	delete(mc, "exp")
	if opts.ExpiresIn > 0 {
		mc["exp"] = jwt.NewNumericDate(c.now().Add(opts.ExpiresIn))
	}

	return jwt.NewWithClaims(c.method, mc).SignedString(c.secret)
}

// Verify checks the signature and expiry of tok and returns its claims.
// Failures are always a *DecodeError.
func (c *Codec) Verify(tok string) (map[string]any, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("empty token")}
	}
	if len(tok) > maxTokenBytes {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("token too long")}
	}

	// A fresh parser per call keeps verification free of shared mutable state.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)

	claims := jwt.MapClaims{}
	parsed, err := p.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("token not valid")}
	}

	return map[string]any(claims), nil
}

func classify(err error) *DecodeError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &DecodeError{Kind: KindExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &DecodeError{Kind: KindSignatureMismatch, Err: err}
	default:
		return &DecodeError{Kind: KindMalformed, Err: err}
	}
}
