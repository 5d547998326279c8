package expiration

import (
	"context"
	"time"
)

// NextRun returns the first instant strictly after now at hour:00 in now's location.
func NextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunDaily runs the job once a day at hour until ctx is cancelled. Failed runs
// are logged and retried at the next slot.
func (j *Job) RunDaily(ctx context.Context, hour int) error {
	if hour < 0 || hour > 23 {
		return ErrInvalidInput
	}

	for {
		next := NextRun(j.now(), hour)
		j.log.Info("expiration.schedule.next", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(j.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// Run already logs failures with the run id.
		_, _ = j.Run(ctx)
	}
}
