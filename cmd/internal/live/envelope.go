package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty/cmd/internal/ids"
)

const (
	Version = 1

	TypeHelloAck   = "hello.ack"
	TypeRedemption = "redemption"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// Envelope is the frame exchanged on the live feed.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks an inbound envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	Outlet    string `json:"outlet"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newEnvelope builds a server envelope with a ULID id.
func newEnvelope(typ string, payload any, ts time.Time) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      ids.New(ts),
		TS:      ts,
		Payload: raw,
	}
}
