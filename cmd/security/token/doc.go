// Package token signs and verifies the compact signed-claims tokens used by the
// loyalty QR codes.
//
// Tokens are HS256 JWS strings (header.payload.signature, base64url). The signing
// secret is passed in explicitly through SecretConfig; the codec never reads the
// environment on its own.
//
// Verification failures are reported as *DecodeError with a Kind tag:
//   - KindExpired: signature is valid but the exp claim has lapsed.
//   - KindSignatureMismatch: the token was not signed with this secret or was altered.
//   - KindMalformed: anything else (bad segments, bad JSON, wrong algorithm).
//
// Every DecodeError matches ErrInvalidOrExpired with errors.Is.
//
// Environment:
//   - LOYALTY_TOKEN_SECRET: the shared HMAC secret. Required in production (>= 32 bytes).
package token
