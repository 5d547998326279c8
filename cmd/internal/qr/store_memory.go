package qr

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory CredentialStore for dev mode and tests.
// Unknown customers are created on first save.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[int64]IdentityCredential
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[int64]IdentityCredential)}
}

func (s *MemoryStore) SaveIdentity(ctx context.Context, customerID int64, cred IdentityCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if customerID <= 0 || cred.Token == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	s.creds[customerID] = cred
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetIdentity(ctx context.Context, customerID int64) (IdentityCredential, error) {
	if err := ctx.Err(); err != nil {
		return IdentityCredential{}, err
	}
	if customerID <= 0 {
		return IdentityCredential{}, ErrInvalidInput
	}
	s.mu.RLock()
	cred, ok := s.creds[customerID]
	s.mu.RUnlock()
	if !ok {
		return IdentityCredential{}, ErrNotFound
	}
	return cred, nil
}
