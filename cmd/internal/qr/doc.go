// Package qr issues and verifies the loyalty QR credentials.
//
// Two token classes exist:
//   - identity ("loyalty_id"): one per customer, never expires, rendered as the
//     customer's static QR code.
//   - redemption ("voucher_redemption"): scoped to one voucher instance, expires
//     after a short TTL (120s by default).
//
// A redemption token only bounds the time window in which a captured QR image is
// usable. Single use is enforced by the voucher instance state machine in the
// redemption package, which callers must consult after a token verifies.
//
// Re-issuing an identity credential does not revoke earlier ones: every identity
// token ever issued keeps verifying.
package qr
