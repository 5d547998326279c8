package expiration

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for dev mode and tests.
//
// An expiration transaction lists candidates from a snapshot taken at begin,
// decides each zeroing against the live row, and applies its writes only on
// Commit. A customer whose row changed after it was zeroed is left alone on
// Commit along with its ledger and notification rows. One transaction may be
// open at a time.
type MemoryStore struct {
	mu            sync.Mutex
	customers     map[int64]Customer
	notifications []Notification
	ledger        []LedgerEntry
	sweeping      bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{customers: make(map[int64]Customer)}
}

// PutCustomer inserts or replaces a customer.
func (s *MemoryStore) PutCustomer(c Customer) {
	s.mu.Lock()
	s.customers[c.ID] = c
	s.mu.Unlock()
}

// Customer returns the stored customer.
func (s *MemoryStore) Customer(id int64) (Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	return c, ok
}

// Notifications returns a copy of every queued notification.
func (s *MemoryStore) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// Ledger returns a copy of every ledger row.
func (s *MemoryStore) Ledger() []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LedgerEntry(nil), s.ledger...)
}

func (s *MemoryStore) ListWarnable(ctx context.Context, w WarningWindow) ([]Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !w.After.Before(w.NotAfter) {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	warned := make(map[int64]bool)
	for _, n := range s.notifications {
		if n.Type == NotificationWarning && !n.CreatedAt.Before(w.GuardSince) {
			warned[n.CustomerID] = true
		}
	}

	var out []Customer
	for _, c := range sortedCustomers(s.customers) {
		if c.Balance <= 0 || c.LastActivity.IsZero() || warned[c.ID] {
			continue
		}
		if c.LastActivity.After(w.After) && !c.LastActivity.After(w.NotAfter) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) Enqueue(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.CustomerID <= 0 || n.Type == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) BeginExpiration(ctx context.Context) (ExpirationTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeping {
		return nil, ErrSweepInProgress
	}
	s.sweeping = true

	return &memExpirationTx{
		store:    s,
		snapshot: maps.Clone(s.customers),
		zeroed:   make(map[int64]Customer),
	}, nil
}

type memExpirationTx struct {
	store    *MemoryStore
	snapshot map[int64]Customer

	zeroed        map[int64]Customer
	ledger        []LedgerEntry
	notifications []Notification
	done          bool
}

func (t *memExpirationTx) ListExpirable(ctx context.Context, cutoff time.Time) ([]Customer, error) {
	if err := t.usable(ctx); err != nil {
		return nil, err
	}
	var out []Customer
	for _, c := range sortedCustomers(t.snapshot) {
		if c.Balance > 0 && !c.LastActivity.IsZero() && c.LastActivity.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memExpirationTx) ZeroBalance(ctx context.Context, customerID int64, cutoff time.Time) (int64, error) {
	if err := t.usable(ctx); err != nil {
		return 0, err
	}
	if _, ok := t.zeroed[customerID]; ok {
		return 0, nil
	}

	t.store.mu.Lock()
	c, ok := t.store.customers[customerID]
	t.store.mu.Unlock()
	if !ok || c.Balance <= 0 || c.LastActivity.IsZero() || !c.LastActivity.Before(cutoff) {
		return 0, nil
	}
	t.zeroed[customerID] = c
	return c.Balance, nil
}

func (t *memExpirationTx) InsertLedger(ctx context.Context, e LedgerEntry) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	t.ledger = append(t.ledger, e)
	return nil
}

func (t *memExpirationTx) Enqueue(ctx context.Context, n Notification) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	if n.CustomerID <= 0 || n.Type == "" {
		return ErrInvalidInput
	}
	t.notifications = append(t.notifications, n)
	return nil
}

func (t *memExpirationTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		_ = t.Rollback(ctx)
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make(map[int64]bool)
	for id, seen := range t.zeroed {
		c, ok := s.customers[id]
		if !ok || c.Balance != seen.Balance || !c.LastActivity.Equal(seen.LastActivity) {
			changed[id] = true
			continue
		}
		c.Balance = 0
		s.customers[id] = c
	}
	for _, e := range t.ledger {
		if !changed[e.CustomerID] {
			s.ledger = append(s.ledger, e)
		}
	}
	for _, n := range t.notifications {
		if !changed[n.CustomerID] {
			s.notifications = append(s.notifications, n)
		}
	}
	s.sweeping = false
	t.done = true
	return nil
}

func (t *memExpirationTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.sweeping = false
	t.store.mu.Unlock()
	return nil
}

func (t *memExpirationTx) usable(ctx context.Context) error {
	if t.done {
		return ErrInvalidInput
	}
	return ctx.Err()
}

func sortedCustomers(m map[int64]Customer) []Customer {
	out := make([]Customer, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
