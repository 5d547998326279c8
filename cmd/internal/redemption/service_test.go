package redemption

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loyalty/cmd/internal/qr"
	"loyalty/cmd/security/token"
)

type fixture struct {
	now   time.Time
	store *MemoryStore
	svc   *Service
	pub   *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishRedemption(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		now:   time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
		store: NewMemoryStore(),
		pub:   &recordingPublisher{},
	}
	clock := func() time.Time { return f.now }

	cfg, err := token.NewSecretConfig("test", "redemption-test-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("NewSecretConfig: %v", err)
	}
	codec, err := token.NewCodec(cfg, token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	issuer, err := qr.NewRedemptionIssuer(codec)
	if err != nil {
		t.Fatalf("NewRedemptionIssuer: %v", err)
	}
	verifier, err := qr.NewVerifier(codec)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	f.svc, err = NewService(f.store, issuer, verifier, WithClock(clock), WithPublisher(f.pub))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f
}

func TestService_IssueAndRedeemOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	inst := f.store.Add(Instance{CustomerID: 42, VoucherID: 9})

	tok, _, err := f.svc.IssueToken(ctx, inst.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !tok.ExpiresAt.Equal(f.now.Add(qr.DefaultRedemptionTTL)) {
		t.Fatalf("expires_at=%v", tok.ExpiresAt)
	}

	f.now = f.now.Add(30 * time.Second)
	got, err := f.svc.Redeem(ctx, RedeemInput{Token: tok.Token, Outlet: "siam", StaffID: "staff-7"})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got.Instance.Status != StatusUsed || got.Instance.Outlet == nil || *got.Instance.Outlet != "siam" {
		t.Fatalf("instance=%+v", got.Instance)
	}
	if got.Verification.CustomerID != "000042" || got.Verification.VoucherID != "9" {
		t.Fatalf("verification=%+v", got.Verification)
	}

	if last, ok := f.store.LastActivity(42); !ok || !last.Equal(f.now) {
		t.Fatalf("last activity=%v ok=%v", last, ok)
	}
	if l := f.store.Ledger(); len(l) != 1 || l[0].InstanceID != inst.ID {
		t.Fatalf("ledger=%+v", l)
	}
	if ev := f.pub.all(); len(ev) != 1 || ev[0].Outlet != "siam" || ev[0].CustomerID != 42 {
		t.Fatalf("events=%+v", ev)
	}

	// The token is still within its TTL but the instance is spent.
	if _, err := f.svc.Redeem(ctx, RedeemInput{Token: tok.Token, Outlet: "siam"}); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
	if _, _, err := f.svc.IssueToken(ctx, inst.ID); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed on issue, got %v", err)
	}
}

func TestService_RedeemExpiredToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	inst := f.store.Add(Instance{CustomerID: 1, VoucherID: 1})

	tok, _, err := f.svc.IssueToken(ctx, inst.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	f.now = f.now.Add(121 * time.Second)
	_, err = f.svc.Redeem(ctx, RedeemInput{Token: tok.Token, Outlet: "siam"})
	if !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("expected ErrTokenRejected, got %v", err)
	}
	if r, ok := ReasonOf(err); !ok || r != qr.ReasonExpired {
		t.Fatalf("reason=%q ok=%v", r, ok)
	}

	still, _ := f.store.Get(ctx, inst.ID)
	if still.Status != StatusActive {
		t.Fatalf("status=%s want=active", still.Status)
	}
}

func TestService_RedeemRejectsIdentityToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	cfg, _ := token.NewSecretConfig("test", "redemption-test-secret-0123456789abcdef")
	codec, _ := token.NewCodec(cfg, token.WithClock(func() time.Time { return f.now }))
	ids, err := qr.NewIdentityIssuer(codec)
	if err != nil {
		t.Fatalf("NewIdentityIssuer: %v", err)
	}
	cred, err := ids.Issue(42)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = f.svc.Redeem(context.Background(), RedeemInput{Token: cred.Token, Outlet: "siam"})
	if r, _ := ReasonOf(err); r != qr.ReasonInvalidType {
		t.Fatalf("expected invalid_type, got %v", err)
	}
}

func TestService_InstanceExpiryIsLazy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	until := f.now.Add(time.Minute)
	inst := f.store.Add(Instance{CustomerID: 3, VoucherID: 2, ExpiresAt: &until})

	tok, _, err := f.svc.IssueToken(ctx, inst.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	f.now = f.now.Add(90 * time.Second)
	if _, err := f.svc.Redeem(ctx, RedeemInput{Token: tok.Token, Outlet: "siam"}); !errors.Is(err, ErrInstanceExpired) {
		t.Fatalf("expected ErrInstanceExpired, got %v", err)
	}
	got, _ := f.store.Get(ctx, inst.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status=%s want=expired", got.Status)
	}
	if _, _, err := f.svc.IssueToken(ctx, inst.ID); !errors.Is(err, ErrInstanceExpired) {
		t.Fatalf("expected ErrInstanceExpired on issue, got %v", err)
	}
	if len(f.pub.all()) != 0 {
		t.Fatalf("expired redemption was published")
	}
}

func TestService_ConcurrentRedeemSucceedsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	inst := f.store.Add(Instance{CustomerID: 5, VoucherID: 5})

	tok, _, err := f.svc.IssueToken(ctx, inst.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	const n = 16
	var (
		wg   sync.WaitGroup
		ok   atomic.Int32
		used atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Redeem(ctx, RedeemInput{Token: tok.Token, Outlet: "siam"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyUsed):
				used.Add(1)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || used.Load() != n-1 {
		t.Fatalf("ok=%d already_used=%d", ok.Load(), used.Load())
	}
}

func TestService_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Redeem(ctx, RedeemInput{Token: "x", Outlet: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank outlet: %v", err)
	}
	if _, _, err := f.svc.IssueToken(ctx, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero id: %v", err)
	}
	if _, _, err := f.svc.IssueToken(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
	if _, err := NewService(nil, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NewService(nil): %v", err)
	}
}

func TestMemoryStore_CustomerMismatchReadsAsNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	inst := s.Add(Instance{CustomerID: 10, VoucherID: 1})

	_, err := s.Redeem(context.Background(), RedeemRecord{InstanceID: inst.ID, CustomerID: 11, Outlet: "siam"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
