package expiration

import (
	"context"
	"time"
)

// Notification types and fixed attributes written to the notification queue.
const (
	NotificationWarning = "points_expiring_warning"
	NotificationExpired = "points_expired"

	NotificationCategory = "rewards"
	NotificationPending  = "pending"

	// LedgerTypeExpire is the transactions.type of an expiration row.
	LedgerTypeExpire = "expire"

	// SystemOutlet is recorded as the outlet of ledger rows the job writes.
	SystemOutlet = "system"
)

// Customer is the slice of a customer row the sweeps read.
type Customer struct {
	ID           int64
	Balance      int64
	LastActivity time.Time

	// NotifyRewards mirrors notification_prefs.points_rewards; absent means true.
	NotifyRewards bool
}

// Notification is one notification_queue row.
type Notification struct {
	CustomerID   int64
	Type         string
	Title        string
	Body         string
	Data         map[string]any
	Category     string
	Status       string
	ScheduledFor time.Time
	CreatedAt    time.Time
}

// LedgerEntry is one transactions row.
type LedgerEntry struct {
	CustomerID  int64
	Type        string
	Delta       int64
	Outlet      string
	Description string
	CreatedAt   time.Time
}

// WarningWindow selects warning candidates: last activity in (After, NotAfter]
// and no warning queued at or after GuardSince.
type WarningWindow struct {
	After      time.Time
	NotAfter   time.Time
	GuardSince time.Time
}

// Store is the job's view of the relational store.
type Store interface {
	ListWarnable(ctx context.Context, w WarningWindow) ([]Customer, error)
	Enqueue(ctx context.Context, n Notification) error

	// BeginExpiration opens the single transaction an expiration sweep runs in.
	// It returns ErrSweepInProgress if another sweep holds it.
	BeginExpiration(ctx context.Context) (ExpirationTx, error)
}

// ExpirationTx is an open expiration sweep. Nothing it writes is visible until
// Commit; Rollback after Commit is a no-op.
type ExpirationTx interface {
	// ListExpirable returns customers with a positive balance and last activity
	// strictly before cutoff.
	ListExpirable(ctx context.Context, cutoff time.Time) ([]Customer, error)

	// ZeroBalance sets the customer's balance to 0 and returns the balance removed.
	// It re-checks the expirable predicate against the current row and returns 0
	// without writing when the customer no longer qualifies.
	ZeroBalance(ctx context.Context, customerID int64, cutoff time.Time) (int64, error)

	InsertLedger(ctx context.Context, e LedgerEntry) error
	Enqueue(ctx context.Context, n Notification) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
