package redemption

import (
	"context"
	"time"
)

// Status is a voucher instance lifecycle state: active -> used | expired.
type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// LedgerTypeRedeem is the transactions.type written for a redemption.
const LedgerTypeRedeem = "redeem"

// Instance is one voucher_instances row.
type Instance struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	VoucherID  int64      `json:"voucher_id"`
	Status     Status     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	UsedBy     *string    `json:"used_by,omitempty"`
	Outlet     *string    `json:"outlet,omitempty"`
}

// expiredAt reports whether the instance's own expiry has passed at now.
func (in Instance) expiredAt(now time.Time) bool {
	return in.ExpiresAt != nil && !in.ExpiresAt.After(now)
}

// RedeemRecord describes one redemption attempt at the store boundary.
type RedeemRecord struct {
	InstanceID int64

	// CustomerID, when > 0, must own the instance; a mismatch reads as ErrNotFound.
	CustomerID int64

	Outlet  string
	StaffID string
	Now     time.Time
}

// Store persists voucher instance transitions.
type Store interface {
	Get(ctx context.Context, id int64) (Instance, error)

	// Redeem moves an active instance to used, writes the redeem ledger row and
	// bumps the customer's last activity, atomically. An active instance past its
	// expiry is moved to expired and ErrInstanceExpired returned.
	Redeem(ctx context.Context, in RedeemRecord) (Instance, error)
}
