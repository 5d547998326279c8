// Package expiration runs the inactivity sweeps over customer point balances.
//
// A run is two independent sweeps:
//   - warning: customers whose last activity falls in (now-12mo, now-11mo] get a
//     "points_expiring_warning" notification, at most once per 30 days.
//   - expiration: customers idle for more than 12 months have their balance
//     zeroed, an "expire" ledger row written and a "points_expired" notification
//     queued. The whole sweep is one transaction: any failure rolls back every
//     customer in the run.
//
// A failing warning sweep does not stop the expiration sweep. Overlapping
// expiration sweeps are refused with ErrSweepInProgress.
package expiration
