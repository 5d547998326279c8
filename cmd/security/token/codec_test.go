package token

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testCodec(t *testing.T, now *time.Time) *Codec {
	t.Helper()

	cfg, err := NewSecretConfig("test", "unit-test-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("NewSecretConfig: %v", err)
	}
	c, err := NewCodec(cfg, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	cases := []map[string]any{
		{"type": "loyalty_id", "customer_id": "000123", "version": float64(1)},
		{"voucher_instance_id": "vi_42", "nested": map[string]any{"a": "b"}, "flag": true},
		{},
	}

	for _, in := range cases {
		tok, err := c.Sign(in, SignOptions{})
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if n := strings.Count(tok, "."); n != 2 {
			t.Fatalf("expected 3 segments, got %d dots in %q", n+1, tok)
		}

		got, err := c.Verify(tok)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !reflect.DeepEqual(got, in) {
			t.Fatalf("round trip mismatch: got=%v want=%v", got, in)
		}
	}
}

func TestCodec_SignDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	in := map[string]any{"a": "b", "exp": float64(1)}
	if _, err := c.Sign(in, SignOptions{ExpiresIn: time.Minute}); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(in) != 2 || in["exp"] != float64(1) {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestCodec_NonExpiringDropsCallerExp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	tok, err := c.Sign(map[string]any{"exp": float64(now.Add(-time.Hour).Unix())}, SignOptions{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := c.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, ok := got["exp"]; ok {
		t.Fatalf("expected no exp claim, got %v", got["exp"])
	}
}

func TestCodec_ExpiryIsReportedAsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	tok, err := c.Sign(map[string]any{"k": "v"}, SignOptions{ExpiresIn: time.Second})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	now = now.Add(2 * time.Second)
	_, err = c.Verify(tok)
	if err == nil {
		t.Fatalf("expected expiry error")
	}
	if !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
	if KindOf(err) != KindExpired {
		t.Fatalf("expected KindExpired, got %v", KindOf(err))
	}
}

func TestCodec_TTLBoundary(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := issued
	c := testCodec(t, &now)

	tok, err := c.Sign(map[string]any{"k": "v"}, SignOptions{ExpiresIn: 120 * time.Second})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	now = issued.Add(119 * time.Second)
	if _, err := c.Verify(tok); err != nil {
		t.Fatalf("expected valid at 119s, got %v", err)
	}

	now = issued.Add(121 * time.Second)
	if _, err := c.Verify(tok); KindOf(err) != KindExpired {
		t.Fatalf("expected expired at 121s, got %v", err)
	}
}

func TestCodec_TamperedSignature(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	tok, err := c.Sign(map[string]any{"customer_id": "000001"}, SignOptions{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sigStart := strings.LastIndexByte(tok, '.') + 1
	for i := sigStart; i < len(tok); i++ {
		b := []byte(tok)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := c.Verify(string(b))
		if err == nil {
			t.Fatalf("tampered signature at %d accepted", i)
		}
		if !errors.Is(err, ErrInvalidOrExpired) {
			t.Fatalf("expected ErrInvalidOrExpired at %d, got %v", i, err)
		}
	}
}

func TestCodec_TamperedPayload(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	tok, err := c.Sign(map[string]any{"customer_id": "000001"}, SignOptions{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	other, err := c.Sign(map[string]any{"customer_id": "999999"}, SignOptions{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(tok, ".")
	otherParts := strings.Split(other, ".")
	forged := parts[0] + "." + otherParts[1] + "." + parts[2]

	if _, err := c.Verify(forged); KindOf(err) != KindSignatureMismatch {
		t.Fatalf("expected KindSignatureMismatch, got %v", err)
	}
}

func TestCodec_WrongSecret(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	cfg, err := NewSecretConfig("test", "a-completely-different-secret-value!!")
	if err != nil {
		t.Fatalf("NewSecretConfig: %v", err)
	}
	other, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	tok, err := other.Sign(map[string]any{"a": "b"}, SignOptions{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := c.Verify(tok); KindOf(err) != KindSignatureMismatch {
		t.Fatalf("expected KindSignatureMismatch, got %v", err)
	}
}

func TestCodec_Malformed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	cases := []string{
		"",
		"   ",
		"not-a-token",
		"a.b",
		"a.b.c",
		strings.Repeat("x", maxTokenBytes+1),
	}
	for _, in := range cases {
		_, err := c.Verify(in)
		if err == nil {
			t.Fatalf("Verify(%q) accepted", in)
		}
		if KindOf(err) != KindMalformed {
			t.Fatalf("Verify(%q): expected KindMalformed, got %v", in, err)
		}
	}

	// alg=none with an empty signature must never be accepted.
	if _, err := c.Verify("eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJhIjoiYiJ9."); err == nil {
		t.Fatalf("alg=none token accepted")
	}
}

func TestCodec_FingerprintStable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCodec(t, &now)

	a := c.Fingerprint("tok")
	if a != c.Fingerprint("tok") {
		t.Fatalf("fingerprint not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == c.Fingerprint("tok2") {
		t.Fatalf("fingerprints collide")
	}
}
