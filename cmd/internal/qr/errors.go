package qr

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound means the customer exists but has no stored identity credential.
	ErrNotFound = errors.New("identity credential not found")

	// ErrCustomerNotFound means there is no such customer row.
	ErrCustomerNotFound = errors.New("customer not found")
)
