package expiration

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestJob(t *testing.T, store Store) *Job {
	t.Helper()

	j, err := New(store, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return j
}

func TestExpirationSweep_ZeroesIdleBalanceAndWritesLedger(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutCustomer(Customer{ID: 1, Balance: 150, LastActivity: testNow.AddDate(0, -13, 0), NotifyRewards: true})
	store.PutCustomer(Customer{ID: 2, Balance: 80, LastActivity: testNow.AddDate(0, -2, 0), NotifyRewards: true})

	sum, err := newTestJob(t, store).RunExpirationSweep(context.Background())
	if err != nil {
		t.Fatalf("RunExpirationSweep: %v", err)
	}
	if sum.UsersAffected != 1 || sum.TotalPointsExpired != 150 {
		t.Fatalf("summary=%+v", sum)
	}

	c, _ := store.Customer(1)
	if c.Balance != 0 {
		t.Fatalf("balance=%d want=0", c.Balance)
	}
	active, _ := store.Customer(2)
	if active.Balance != 80 {
		t.Fatalf("active customer touched: balance=%d", active.Balance)
	}

	ledger := store.Ledger()
	if len(ledger) != 1 {
		t.Fatalf("ledger rows=%d want=1", len(ledger))
	}
	if e := ledger[0]; e.CustomerID != 1 || e.Type != LedgerTypeExpire || e.Delta != -150 || e.Outlet != SystemOutlet {
		t.Fatalf("ledger row=%+v", e)
	}

	notes := store.Notifications()
	if len(notes) != 1 || notes[0].Type != NotificationExpired || notes[0].CustomerID != 1 {
		t.Fatalf("notifications=%+v", notes)
	}
	if notes[0].Category != NotificationCategory || notes[0].Status != NotificationPending {
		t.Fatalf("notification attrs=%+v", notes[0])
	}
}

func TestWarningSweep_QueuesOneWarningAndKeepsBalance(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	last := testNow.AddDate(0, -11, -15)
	store.PutCustomer(Customer{ID: 7, Balance: 150, LastActivity: last, NotifyRewards: true})

	job := newTestJob(t, store)
	sum, err := job.RunWarningSweep(context.Background())
	if err != nil {
		t.Fatalf("RunWarningSweep: %v", err)
	}
	if sum.Enqueued != 1 {
		t.Fatalf("summary=%+v", sum)
	}

	c, _ := store.Customer(7)
	if c.Balance != 150 {
		t.Fatalf("balance changed: %d", c.Balance)
	}

	notes := store.Notifications()
	if len(notes) != 1 || notes[0].Type != NotificationWarning {
		t.Fatalf("notifications=%+v", notes)
	}
	wantExpiry := last.AddDate(0, 12, 0).Format("2006-01-02")
	if got := notes[0].Data["expiry_date"]; got != wantExpiry {
		t.Fatalf("expiry_date=%v want=%s", got, wantExpiry)
	}
	if got := notes[0].Data["points_balance"]; got != int64(150) {
		t.Fatalf("points_balance=%v", got)
	}

	// A second run inside the guard window adds nothing.
	sum, err = job.RunWarningSweep(context.Background())
	if err != nil {
		t.Fatalf("RunWarningSweep (rerun): %v", err)
	}
	if sum.Candidates != 0 || len(store.Notifications()) != 1 {
		t.Fatalf("rerun queued again: summary=%+v notes=%d", sum, len(store.Notifications()))
	}
}

func TestWarningSweep_GuardExpiresAfterThirtyDays(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutCustomer(Customer{ID: 3, Balance: 10, LastActivity: testNow.AddDate(0, -11, -3), NotifyRewards: true})
	_ = store.Enqueue(context.Background(), Notification{
		CustomerID: 3,
		Type:       NotificationWarning,
		CreatedAt:  testNow.Add(-31 * 24 * time.Hour),
	})

	sum, err := newTestJob(t, store).RunWarningSweep(context.Background())
	if err != nil {
		t.Fatalf("RunWarningSweep: %v", err)
	}
	if sum.Enqueued != 1 {
		t.Fatalf("expected a fresh warning after the guard window, got %+v", sum)
	}
}

func TestSweeps_WindowBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		last      time.Time
		balance   int64
		wantWarn  bool
		wantExpir bool
	}{
		{name: "exactly eleven months", last: testNow.AddDate(0, -11, 0), balance: 5, wantWarn: true},
		{name: "just under eleven months", last: testNow.AddDate(0, -11, 0).Add(time.Second), balance: 5},
		{name: "exactly twelve months", last: testNow.AddDate(0, -12, 0), balance: 5},
		{name: "just over twelve months", last: testNow.AddDate(0, -12, 0).Add(-time.Second), balance: 5, wantExpir: true},
		{name: "zero balance", last: testNow.AddDate(0, -13, 0), balance: 0},
		{name: "no activity recorded", last: time.Time{}, balance: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := NewMemoryStore()
			store.PutCustomer(Customer{ID: 1, Balance: tc.balance, LastActivity: tc.last, NotifyRewards: true})

			rep, err := newTestJob(t, store).Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := rep.Warnings.Enqueued == 1; got != tc.wantWarn {
				t.Fatalf("warned=%v want=%v", got, tc.wantWarn)
			}
			if got := rep.Expiration.UsersAffected == 1; got != tc.wantExpir {
				t.Fatalf("expired=%v want=%v", got, tc.wantExpir)
			}
		})
	}
}

func TestSweeps_RespectRewardsPreference(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutCustomer(Customer{ID: 1, Balance: 40, LastActivity: testNow.AddDate(0, -11, -10), NotifyRewards: false})
	store.PutCustomer(Customer{ID: 2, Balance: 60, LastActivity: testNow.AddDate(0, -14, 0), NotifyRewards: false})

	rep, err := newTestJob(t, store).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Warnings.OptedOut != 1 || rep.Warnings.Enqueued != 0 {
		t.Fatalf("warnings=%+v", rep.Warnings)
	}
	if rep.Expiration.UsersAffected != 1 || rep.Expiration.TotalPointsExpired != 60 {
		t.Fatalf("expiration=%+v", rep.Expiration)
	}
	if n := len(store.Notifications()); n != 0 {
		t.Fatalf("opted-out customers got %d notifications", n)
	}
	if n := len(store.Ledger()); n != 1 {
		t.Fatalf("ledger rows=%d want=1", n)
	}
	if rep.RunID == "" {
		t.Fatalf("missing run id")
	}
}

// faultyStore fails the Nth ledger insert of an expiration transaction.
type faultyStore struct {
	*MemoryStore
	failLedgerAt int
	failWarnings bool
}

func (f *faultyStore) ListWarnable(ctx context.Context, w WarningWindow) ([]Customer, error) {
	if f.failWarnings {
		return nil, errors.New("warning query failed")
	}
	return f.MemoryStore.ListWarnable(ctx, w)
}

func (f *faultyStore) BeginExpiration(ctx context.Context) (ExpirationTx, error) {
	tx, err := f.MemoryStore.BeginExpiration(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{ExpirationTx: tx, failAt: f.failLedgerAt}, nil
}

type faultyTx struct {
	ExpirationTx
	failAt int
	n      int
}

var errLedgerWrite = errors.New("ledger write failed")

func (t *faultyTx) InsertLedger(ctx context.Context, e LedgerEntry) error {
	t.n++
	if t.n == t.failAt {
		return errLedgerWrite
	}
	return t.ExpirationTx.InsertLedger(ctx, e)
}

func TestExpirationSweep_FailureRollsBackWholeRun(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	for id := int64(1); id <= 3; id++ {
		mem.PutCustomer(Customer{ID: id, Balance: 100 * id, LastActivity: testNow.AddDate(-2, 0, 0), NotifyRewards: true})
	}
	store := &faultyStore{MemoryStore: mem, failLedgerAt: 2}

	sum, err := newTestJob(t, store).RunExpirationSweep(context.Background())
	if !errors.Is(err, errLedgerWrite) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if sum != (Summary{}) {
		t.Fatalf("expected empty summary on failure, got %+v", sum)
	}

	for id := int64(1); id <= 3; id++ {
		c, _ := mem.Customer(id)
		if c.Balance != 100*id {
			t.Fatalf("customer %d balance=%d want=%d", id, c.Balance, 100*id)
		}
	}
	if n := len(mem.Ledger()); n != 0 {
		t.Fatalf("ledger rows=%d want=0", n)
	}
	if n := len(mem.Notifications()); n != 0 {
		t.Fatalf("notifications=%d want=0", n)
	}

	// The lock was released; a clean retry expires everyone.
	store.failLedgerAt = 0
	sum, err = newTestJob(t, store).RunExpirationSweep(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sum.UsersAffected != 3 || sum.TotalPointsExpired != 600 {
		t.Fatalf("retry summary=%+v", sum)
	}
}

func TestRun_WarningFailureDoesNotBlockExpiration(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	mem.PutCustomer(Customer{ID: 1, Balance: 150, LastActivity: testNow.AddDate(0, -13, 0), NotifyRewards: true})
	store := &faultyStore{MemoryStore: mem, failWarnings: true}

	rep, err := newTestJob(t, store).Run(context.Background())
	if err == nil {
		t.Fatalf("expected warning sweep error")
	}
	if rep.Expiration.UsersAffected != 1 {
		t.Fatalf("expiration did not run: %+v", rep.Expiration)
	}
	c, _ := mem.Customer(1)
	if c.Balance != 0 {
		t.Fatalf("balance=%d want=0", c.Balance)
	}
}

func TestExpirationSweep_RefusesOverlappingRun(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutCustomer(Customer{ID: 1, Balance: 5, LastActivity: testNow.AddDate(-2, 0, 0), NotifyRewards: true})

	held, err := store.BeginExpiration(context.Background())
	if err != nil {
		t.Fatalf("BeginExpiration: %v", err)
	}
	defer func() { _ = held.Rollback(context.Background()) }()

	_, err = newTestJob(t, store).RunExpirationSweep(context.Background())
	if !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}
}

func TestNew_RejectsNilStore(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// touchingStore runs touch after the candidate list is read, the way a scan
// landing mid-sweep would.
type touchingStore struct {
	*MemoryStore
	touch func(*MemoryStore)
}

func (s *touchingStore) BeginExpiration(ctx context.Context) (ExpirationTx, error) {
	tx, err := s.MemoryStore.BeginExpiration(ctx)
	if err != nil {
		return nil, err
	}
	return &touchingTx{ExpirationTx: tx, store: s.MemoryStore, touch: s.touch}, nil
}

type touchingTx struct {
	ExpirationTx
	store *MemoryStore
	touch func(*MemoryStore)
}

func (t *touchingTx) ListExpirable(ctx context.Context, cutoff time.Time) ([]Customer, error) {
	out, err := t.ExpirationTx.ListExpirable(ctx, cutoff)
	if err == nil && t.touch != nil {
		t.touch(t.store)
	}
	return out, err
}

func TestExpirationSweep_CustomerActiveAfterListingIsNotExpired(t *testing.T) {
	t.Parallel()

	mem := NewMemoryStore()
	mem.PutCustomer(Customer{ID: 1, Balance: 150, LastActivity: testNow.AddDate(0, -13, 0), NotifyRewards: true})
	mem.PutCustomer(Customer{ID: 2, Balance: 40, LastActivity: testNow.AddDate(0, -14, 0), NotifyRewards: true})
	store := &touchingStore{MemoryStore: mem, touch: func(s *MemoryStore) {
		s.PutCustomer(Customer{ID: 1, Balance: 500, LastActivity: testNow, NotifyRewards: true})
	}}

	sum, err := newTestJob(t, store).RunExpirationSweep(context.Background())
	if err != nil {
		t.Fatalf("RunExpirationSweep: %v", err)
	}
	if sum.UsersAffected != 1 || sum.TotalPointsExpired != 40 {
		t.Fatalf("summary=%+v", sum)
	}

	if c, _ := mem.Customer(1); c.Balance != 500 {
		t.Fatalf("active customer balance=%d want=500", c.Balance)
	}
	if c, _ := mem.Customer(2); c.Balance != 0 {
		t.Fatalf("idle customer balance=%d want=0", c.Balance)
	}

	ledger := mem.Ledger()
	if len(ledger) != 1 || ledger[0].CustomerID != 2 || ledger[0].Delta != -40 {
		t.Fatalf("ledger=%+v", ledger)
	}
	notes := mem.Notifications()
	if len(notes) != 1 || notes[0].CustomerID != 2 {
		t.Fatalf("notifications=%+v", notes)
	}
}

func TestMemoryExpirationTx_CommitSkipsRowChangedAfterZeroing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cutoff := testNow.AddDate(0, -InactivityMonths, 0)

	mem := NewMemoryStore()
	mem.PutCustomer(Customer{ID: 1, Balance: 150, LastActivity: testNow.AddDate(0, -13, 0)})

	tx, err := mem.BeginExpiration(ctx)
	if err != nil {
		t.Fatalf("BeginExpiration: %v", err)
	}
	removed, err := tx.ZeroBalance(ctx, 1, cutoff)
	if err != nil || removed != 150 {
		t.Fatalf("ZeroBalance=%d err=%v want=150", removed, err)
	}
	if err := tx.InsertLedger(ctx, LedgerEntry{CustomerID: 1, Type: LedgerTypeExpire, Delta: -removed, Outlet: SystemOutlet, CreatedAt: testNow}); err != nil {
		t.Fatalf("InsertLedger: %v", err)
	}

	mem.PutCustomer(Customer{ID: 1, Balance: 500, LastActivity: testNow})

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c, _ := mem.Customer(1); c.Balance != 500 {
		t.Fatalf("balance=%d want=500", c.Balance)
	}
	if ledger := mem.Ledger(); len(ledger) != 0 {
		t.Fatalf("ledger=%+v want empty", ledger)
	}
}
