package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"loyalty/cmd/internal/ids"
)

const (
	Subprotocol = "loyalty.scans.v1"

	maxFrameBytes = 8 << 10

	defaultSendQueueSize = 64
	minSendQueueSize     = 8

	defaultWriteTimeout     = 5 * time.Second
	defaultReadIdle         = 2 * time.Minute
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	closeGrace              = time.Second
	maxPingFailures         = 3

	defaultRateEvents = 30
	defaultRateWindow = 10 * time.Second

	maxOutletLen = 64
)

// GatewayConfig is the websocket policy. Zero values take defaults.
type GatewayConfig struct {
	// AllowedOrigins are full origins or bare hosts; "*" allows any.
	AllowedOrigins []string
	OriginRequired bool

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// Gateway upgrades outlet subscriptions and runs each connection.
type Gateway struct {
	log *slog.Logger
	hub *Hub
	cfg GatewayConfig

	// Derived for websocket.Accept, which only authorizes same-host origins
	// unless cross-origin hosts are listed.
	originPatterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = defaultReadIdle
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = minSendQueueSize
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = defaultHeartbeatEvery
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}

	return &Gateway{
		log:            log,
		hub:            hub,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP expects the outlet as the chi URL parameter "outlet".
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outlet := strings.TrimSpace(chi.URLParam(r, "outlet"))
	if outlet == "" || len(outlet) > maxOutletLen {
		http.Error(w, "invalid outlet", http.StatusBadRequest)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("live.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("live.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("live.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.run(r.Context(), conn, outlet)
}

func (g *Gateway) run(parent context.Context, conn *websocket.Conn, outlet string) {
	sessionID := ids.New(time.Time{})
	client := NewClient(sessionID, outlet, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(outlet, sessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Queue the ack before joining so it is always the first frame.
	g.enqueue(ctx, client, newEnvelope(TypeHelloAck, HelloAckPayload{SessionID: sessionID, Outlet: outlet}, time.Now().UTC()))
	g.hub.Join(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("live.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					g.log.Info("live.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			switch {
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("live.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case TypePing:
			g.enqueue(ctx, client, newEnvelope(TypePong, struct{}{}, now))
		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	g.enqueue(ctx, client, newEnvelope(TypeError, ErrorPayload{Code: code, Message: msg}, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
