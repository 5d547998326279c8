package redemption

import (
	"context"
	"strings"
	"sync"
	"time"
)

// LedgerEntry is a redeem row recorded by MemoryStore.
type LedgerEntry struct {
	CustomerID int64
	InstanceID int64
	Outlet     string
	At         time.Time
}

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[int64]Instance
	ledger    []LedgerEntry
	activity  map[int64]time.Time
	nextID    int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[int64]Instance),
		activity:  make(map[int64]time.Time),
	}
}

// Add stores in, assigning an ID when in.ID is zero, and returns it.
func (s *MemoryStore) Add(in Instance) Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ID == 0 {
		s.nextID++
		in.ID = s.nextID
	} else if in.ID > s.nextID {
		s.nextID = in.ID
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	s.instances[in.ID] = in
	return in
}

// Ledger returns a copy of the recorded redeem rows.
func (s *MemoryStore) Ledger() []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LedgerEntry(nil), s.ledger...)
}

// LastActivity returns the last activity recorded for a customer.
func (s *MemoryStore) LastActivity(customerID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.activity[customerID]
	return t, ok
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if id <= 0 {
		return Instance{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.instances[id]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return in, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, rec RedeemRecord) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if rec.InstanceID <= 0 || strings.TrimSpace(rec.Outlet) == "" {
		return Instance{}, ErrInvalidInput
	}
	if rec.Now.IsZero() {
		rec.Now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.instances[rec.InstanceID]
	if !ok || (rec.CustomerID > 0 && cur.CustomerID != rec.CustomerID) {
		return Instance{}, ErrNotFound
	}
	switch cur.Status {
	case StatusUsed:
		return Instance{}, ErrAlreadyUsed
	case StatusExpired:
		return Instance{}, ErrInstanceExpired
	}
	if cur.expiredAt(rec.Now) {
		cur.Status = StatusExpired
		s.instances[cur.ID] = cur
		return Instance{}, ErrInstanceExpired
	}

	outlet := strings.TrimSpace(rec.Outlet)
	usedAt := rec.Now
	cur.Status = StatusUsed
	cur.UsedAt = &usedAt
	cur.Outlet = &outlet
	if staff := strings.TrimSpace(rec.StaffID); staff != "" {
		cur.UsedBy = &staff
	}
	s.instances[cur.ID] = cur

	s.ledger = append(s.ledger, LedgerEntry{CustomerID: cur.CustomerID, InstanceID: cur.ID, Outlet: outlet, At: rec.Now})
	s.activity[cur.CustomerID] = rec.Now
	return cur, nil
}
