// Package ids mints the sortable identifiers used for run ids, live sessions,
// live envelopes and scan audit rows.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string (26 chars) stamped with now. A zero now uses the current time.
func New(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// Time returns the timestamp encoded in id.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
