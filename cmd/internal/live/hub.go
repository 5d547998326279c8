package live

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"loyalty/cmd/internal/metrics"
	"loyalty/cmd/internal/redemption"
)

// Hub fans events out to the dashboards subscribed to each outlet.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	outlets map[string]map[string]*Client
}

// NewHub constructs a Hub. m may be nil.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		outlets: make(map[string]map[string]*Client),
	}
}

// Join subscribes client to its outlet.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.SessionID == "" || client.Outlet == "" {
		return
	}

	h.mu.Lock()
	members := h.outlets[client.Outlet]
	if members == nil {
		members = make(map[string]*Client)
		h.outlets[client.Outlet] = members
	}
	_, existed := members[client.SessionID]
	members[client.SessionID] = client
	h.mu.Unlock()

	if !existed {
		h.metrics.LiveClientDelta(1)
	}
	h.log.Info("live.client.join", "outlet", client.Outlet, "session_id", client.SessionID)
}

// Leave unsubscribes a session and signals it to shut down.
func (h *Hub) Leave(outlet, sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	members := h.outlets[outlet]
	cl := members[sessionID]
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.outlets, outlet)
	}
	h.mu.Unlock()

	// Remove before closing so broadcasters never hold a closing client.
	if cl != nil {
		cl.Close()
		h.metrics.LiveClientDelta(-1)
	}

	h.log.Info("live.client.leave", "outlet", outlet, "session_id", sessionID)
}

// Subscribers returns the number of clients on an outlet.
func (h *Hub) Subscribers(outlet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.outlets[outlet])
}

// Broadcast sends env to every client on outlet without blocking. It returns
// the number of clients the envelope was queued for.
func (h *Hub) Broadcast(outlet string, env Envelope) int {
	if h == nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, m := range h.outlets[outlet] {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			sent++
		default:
			// Queue full: drop for this client only.
		}
	}
	return sent
}

// PublishRedemption implements redemption.Publisher.
func (h *Hub) PublishRedemption(ev redemption.Event) {
	outlet := strings.TrimSpace(ev.Outlet)
	if outlet == "" {
		return
	}
	ts := ev.At
	if ts.IsZero() {
		ts = h.now()
	}
	n := h.Broadcast(outlet, newEnvelope(TypeRedemption, ev, ts))
	h.log.Debug("live.redemption.published", "outlet", outlet, "voucher_instance_id", ev.InstanceID, "delivered", n)
}
