package token

import (
	"errors"
	"fmt"
)

// Public, stable errors for callers.
var (
	ErrSecretMissing        = errors.New("token secret missing")
	ErrSecretTooShort       = errors.New("token secret too short")
	ErrFallbackInProduction = errors.New("token development secret used in production")

	// ErrInvalidOrExpired is the umbrella for every verification failure.
	ErrInvalidOrExpired = errors.New("token invalid or expired")
)

// Kind tags the reason a token failed to decode.
type Kind uint8

const (
	KindMalformed Kind = iota + 1
	KindSignatureMismatch
	KindExpired
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindSignatureMismatch:
		return "signature_mismatch"
	case KindExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Codec.Verify.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token %s", e.Kind)
	}
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes every DecodeError match ErrInvalidOrExpired.
func (e *DecodeError) Is(target error) bool { return target == ErrInvalidOrExpired }

// KindOf returns the Kind carried by err, or 0 if err is not a DecodeError.
func KindOf(err error) Kind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
