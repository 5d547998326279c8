package qr

import (
	"context"
	"errors"
	"log/slog"
)

// IdentityService issues identity credentials and keeps the latest one stored.
type IdentityService struct {
	issuer *IdentityIssuer
	store  CredentialStore
	log    *slog.Logger
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(issuer *IdentityIssuer, store CredentialStore, log *slog.Logger) (*IdentityService, error) {
	if issuer == nil || store == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &IdentityService{issuer: issuer, store: store, log: log}, nil
}

// IssueAndStore issues a new credential and makes it the customer's current one.
// Previously issued tokens stay cryptographically valid.
func (s *IdentityService) IssueAndStore(ctx context.Context, customerID int64) (IdentityCredential, error) {
	if err := ctx.Err(); err != nil {
		return IdentityCredential{}, err
	}

	cred, err := s.issuer.Issue(customerID)
	if err != nil {
		return IdentityCredential{}, err
	}
	if err := s.store.SaveIdentity(ctx, customerID, cred); err != nil {
		return IdentityCredential{}, err
	}

	s.log.Info("qr.identity.issued", "customer_id", customerID)
	return cred, nil
}

// Current returns the stored credential, issuing one on first use.
func (s *IdentityService) Current(ctx context.Context, customerID int64) (IdentityCredential, error) {
	cred, err := s.store.GetIdentity(ctx, customerID)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return IdentityCredential{}, err
	}
	return s.IssueAndStore(ctx, customerID)
}
