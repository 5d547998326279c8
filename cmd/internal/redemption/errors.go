package redemption

import (
	"errors"

	"loyalty/cmd/internal/qr"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("voucher instance not found")
	ErrAlreadyUsed     = errors.New("voucher instance already used")
	ErrInstanceExpired = errors.New("voucher instance expired")

	// ErrTokenRejected wraps every *RejectedError.
	ErrTokenRejected = errors.New("redemption token rejected")
)

// RejectedError reports a redemption token that failed verification.
type RejectedError struct {
	Reason qr.Reason
}

func (e *RejectedError) Error() string {
	return "redemption token rejected: " + string(e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrTokenRejected }

// ReasonOf returns the verification reason carried by err, if any.
func ReasonOf(err error) (qr.Reason, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
