package expiration

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrSweepInProgress means another expiration sweep holds the run lock.
	ErrSweepInProgress = errors.New("expiration sweep already in progress")
)
