package qr

import (
	"testing"
	"time"

	"loyalty/cmd/security/token"
)

const testSecret = "qr-test-secret-0123456789abcdefghij"

// clock is a mutable test clock shared with the codec.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestCodec(t *testing.T, c *clock) *token.Codec {
	t.Helper()

	cfg, err := token.NewSecretConfig("test", testSecret)
	if err != nil {
		t.Fatalf("NewSecretConfig: %v", err)
	}
	codec, err := token.NewCodec(cfg, token.WithClock(c.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func newTestClock() *clock {
	return &clock{t: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
}
