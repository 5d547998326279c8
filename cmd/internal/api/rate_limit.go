package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ipLimiter is a sliding-window limiter keyed by client IP.
type ipLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
	swept  time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow records an event for key at now. When denied it returns how long until
// the oldest event in the window ages out.
func (l *ipLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	if now.Sub(l.swept) > l.window {
		l.sweep(cut)
		l.swept = now
	}

	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false, kept[0].Add(l.window).Sub(now)
	}
	l.events[key] = append(kept, now)
	return true, 0
}

// sweep drops keys with no events after cut.
func (l *ipLimiter) sweep(cut time.Time) {
	for k, ts := range l.events {
		if len(ts) == 0 || !ts[len(ts)-1].After(cut) {
			delete(l.events, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many scans")
}
