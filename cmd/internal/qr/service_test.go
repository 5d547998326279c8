package qr

import (
	"context"
	"errors"
	"testing"
)

func TestIdentityService_CurrentIssuesOnceThenReturnsStored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := newTestClock()
	codec := newTestCodec(t, clk)
	iss, err := NewIdentityIssuer(codec)
	if err != nil {
		t.Fatalf("NewIdentityIssuer: %v", err)
	}
	store := NewMemoryStore()
	svc, err := NewIdentityService(iss, store, nil)
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}

	first, err := svc.Current(ctx, 5)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	again, err := svc.Current(ctx, 5)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if first.Token != again.Token {
		t.Fatalf("expected stored credential to be returned")
	}

	reissued, err := svc.IssueAndStore(ctx, 5)
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}
	if reissued.Token == first.Token {
		t.Fatalf("expected a new token on re-issue")
	}
	stored, err := store.GetIdentity(ctx, 5)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if stored.Token != reissued.Token {
		t.Fatalf("re-issue did not overwrite stored credential")
	}
}

type failingStore struct{ err error }

func (f failingStore) SaveIdentity(context.Context, int64, IdentityCredential) error { return f.err }
func (f failingStore) GetIdentity(context.Context, int64) (IdentityCredential, error) {
	return IdentityCredential{}, f.err
}

func TestIdentityService_StoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	clk := newTestClock()
	iss, err := NewIdentityIssuer(newTestCodec(t, clk))
	if err != nil {
		t.Fatalf("NewIdentityIssuer: %v", err)
	}
	svc, err := NewIdentityService(iss, failingStore{err: ErrCustomerNotFound}, nil)
	if err != nil {
		t.Fatalf("NewIdentityService: %v", err)
	}

	if _, err := svc.Current(context.Background(), 1); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if _, err := svc.IssueAndStore(context.Background(), 1); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	if err := s.SaveIdentity(ctx, 1, IdentityCredential{Token: "t"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
