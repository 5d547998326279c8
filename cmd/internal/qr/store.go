package qr

import "context"

// CredentialStore persists the current identity credential per customer.
// Saving overwrites whatever was stored before.
type CredentialStore interface {
	SaveIdentity(ctx context.Context, customerID int64, cred IdentityCredential) error
	GetIdentity(ctx context.Context, customerID int64) (IdentityCredential, error)
}
