package qr

import (
	"fmt"
	"strconv"
)

// Wire-stable claim values.
const (
	TypeIdentity   = "loyalty_id"
	TypeRedemption = "voucher_redemption"

	// CurrentVersion is the payload schema version written by the issuers.
	CurrentVersion = 1

	// DefaultIssuer is written into the issuer claim.
	DefaultIssuer = "sarnies_loyalty"
)

// Claim names.
const (
	claimVersion           = "version"
	claimType              = "type"
	claimIssuer            = "issuer"
	claimCustomerID        = "customer_id"
	claimNonce             = "nonce"
	claimIssuedAt          = "iat"
	claimExpiresAt         = "exp"
	claimVoucherInstanceID = "voucher_instance_id"
	claimVoucherID         = "voucher_id"
)

var reservedClaims = map[string]struct{}{
	claimVersion:           {},
	claimType:              {},
	claimIssuer:            {},
	claimCustomerID:        {},
	claimNonce:             {},
	claimIssuedAt:          {},
	claimExpiresAt:         {},
	claimVoucherInstanceID: {},
	claimVoucherID:         {},
}

// FormatCustomerID renders a customer ID zero-padded to 6 digits.
func FormatCustomerID(id int64) string {
	return fmt.Sprintf("%06d", id)
}

// ParseCustomerID parses a (possibly zero-padded) customer ID.
func ParseCustomerID(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidInput
	}
	return n, nil
}

// stringClaim reads a claim that may have been encoded as a string or a number.
func stringClaim(claims map[string]any, key string) (string, bool) {
	switch v := claims[key].(type) {
	case string:
		return v, v != ""
	case float64:
		if v != float64(int64(v)) {
			return "", false
		}
		return strconv.FormatInt(int64(v), 10), true
	default:
		return "", false
	}
}
