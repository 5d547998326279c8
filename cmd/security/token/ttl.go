package token

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadTTL = errors.New("invalid ttl")

// ParseTTL parses an expiry such as "120s", "15m", "2h30m" or "7d".
// The "d" suffix means 24h days and cannot be combined with other units.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errBadTTL
	}

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, errBadTTL
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, errBadTTL
	}
	return d, nil
}
