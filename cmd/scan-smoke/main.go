// Command scan-smoke is a CI-friendly end-to-end check against a running loyalty server.
//
// It validates:
//   - identity QR issuance and a valid identity scan
//   - live feed handshake, subprotocol, hello.ack and ping/pong
//   - with --voucher-instance: redemption token issuance, a single successful
//     redeem, the live redemption event and a 409 on replay
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	"loyalty/cmd/internal/live"
	"loyalty/cmd/internal/redemption"
)

const maxReadBytes = 1 << 20

type feedClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox chan live.Envelope
	errCh chan error
}

type scanResult struct {
	Valid             bool   `json:"valid"`
	Class             string `json:"class"`
	Error             string `json:"error"`
	CustomerID        string `json:"customer_id"`
	VoucherInstanceID string `json:"voucher_instance_id"`
}

func main() {
	var (
		baseURL   = pflag.String("url", "http://127.0.0.1:8080", "server base URL")
		origin    = pflag.String("origin", "http://localhost", "Origin header for the live feed handshake")
		outlet    = pflag.String("outlet", "smoke-outlet", "outlet to subscribe to and redeem at")
		customer  = pflag.Int64("customer", 1, "customer id for the identity QR check")
		voucherID = pflag.Int64("voucher-instance", 0, "active voucher instance to redeem (0 skips the redemption steps)")
		timeout   = pflag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose   = pflag.BoolP("verbose", "v", false, "verbose output")
	)
	pflag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid --url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	var identity struct {
		CustomerID string `json:"customer_id"`
		Token      string `json:"token"`
	}
	mustPost(httpc, base, fmt.Sprintf("/v1/customers/%d/identity-qr", *customer), nil, http.StatusCreated, &identity)

	var scan scanResult
	mustPost(httpc, base, "/v1/scan/verify", map[string]string{"token": identity.Token, "class": "identity"}, http.StatusOK, &scan)
	if !scan.Valid || scan.Class != "identity" || scan.CustomerID != identity.CustomerID {
		fatalf("identity scan: unexpected result %+v", scan)
	}

	feed := mustConnect(root, feedURL(base, *outlet), *origin, *timeout)
	defer closeWS(feed.conn)

	if *verbose {
		fmt.Printf("identity ok: customer=%s session=%s outlet=%s\n", identity.CustomerID, feed.sessionID, *outlet)
	}

	mustPingPong(root, feed, *timeout)

	if *voucherID <= 0 {
		fmt.Printf("OK: customer=%s session=%s (redemption skipped)\n", identity.CustomerID, feed.sessionID)
		return
	}

	var tok struct {
		Token string `json:"token"`
	}
	mustPost(httpc, base, fmt.Sprintf("/v1/voucher-instances/%d/redemption-token", *voucherID), nil, http.StatusCreated, &tok)

	redeem := map[string]string{"token": tok.Token, "outlet": *outlet, "staff_id": "scan-smoke"}
	mustPost(httpc, base, "/v1/scan/redeem", redeem, http.StatusOK, nil)

	env := feed.mustReadUntilType(root, live.TypeRedemption, *timeout)
	var ev redemption.Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		fatalf("unmarshal redemption payload: %v", err)
	}
	if ev.InstanceID != *voucherID || ev.Outlet != *outlet {
		fatalf("redemption event mismatch: got instance=%d outlet=%q", ev.InstanceID, ev.Outlet)
	}

	mustPost(httpc, base, "/v1/scan/redeem", redeem, http.StatusConflict, nil)

	fmt.Printf("OK: customer=%s session=%s voucher_instance=%d outlet=%s\n", identity.CustomerID, feed.sessionID, *voucherID, *outlet)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func feedURL(base *url.URL, outlet string) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/live/outlets/" + outlet
	u.RawPath = ""
	return u.String()
}

func mustPost(c *http.Client, base *url.URL, path string, body any, wantStatus int, dst any) {
	var rd io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s: %v", path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(http.MethodPost, base.String()+path, rd)
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("POST %s: status=%d want=%d body=%s", path, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("decode %s: %v", path, err)
		}
	}
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *feedClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{live.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect live feed: %v", err)
	}
	if got := conn.Subprotocol(); got != live.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, live.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &feedClient{
		conn:  conn,
		inbox: make(chan live.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustReadUntilType(parent, live.TypeHelloAck, stepTimeout)
	var p live.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id")
	}
	c.sessionID = p.SessionID
	return c
}

func (c *feedClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env live.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *feedClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustPingPong(parent context.Context, c *feedClient, stepTimeout time.Duration) {
	ping := live.Envelope{
		V:       live.Version,
		Type:    live.TypePing,
		ID:      fmt.Sprintf("smoke-ping-%d", time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: json.RawMessage(`{}`),
	}
	raw, err := json.Marshal(ping)
	if err != nil {
		fatalf("marshal ping: %v", err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		fatalf("write ping: %v", err)
	}

	c.mustReadUntilType(parent, live.TypePong, stepTimeout)
}

// mustReadUntilType skips unrelated envelopes until want arrives.
func (c *feedClient) mustReadUntilType(parent context.Context, want string, stepTimeout time.Duration) live.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s", want)
		case err := <-c.errCh:
			fatalf("live feed read: %v", err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("live feed closed while waiting for %s", want)
			}
			if env.Type == live.TypeError {
				var p live.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				fatalf("server error while waiting for %s: %s %s", want, p.Code, p.Message)
			}
			if env.Type == want {
				return env
			}
		}
	}
}

func closeWS(c *websocket.Conn) {
	_ = c.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
