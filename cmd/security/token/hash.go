package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprint returns a stable 64-char identifier for a token that can be stored
// or logged without exposing the token itself.
func (c *Codec) Fingerprint(tok string) string {
	return HashHMACSHA256Hex(tok, c.secret)
}
