// Package redemption owns the voucher instance state machine.
//
// A redemption token proves only that the customer displayed a QR for an
// instance within the token's TTL. Single use comes from the instance row:
// Redeem locks it and moves it active -> used exactly once.
package redemption
