package expiration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loyalty/cmd/internal/ids"
	"loyalty/cmd/internal/metrics"
)

const (
	// InactivityMonths is how long a balance survives without activity.
	InactivityMonths = 12

	// WarningLeadMonths is how long before expiry the warning goes out.
	WarningLeadMonths = 1

	// WarningGuard suppresses a second warning for the same customer.
	WarningGuard = 30 * 24 * time.Hour

	expiryDateLayout = "2006-01-02"
)

// Sweep names used in logs and metrics.
const (
	SweepWarning    = "warning"
	SweepExpiration = "expiration"
)

// Summary is the outcome of one expiration sweep.
type Summary struct {
	UsersAffected      int   `json:"usersAffected"`
	TotalPointsExpired int64 `json:"totalPointsExpired"`
}

// WarningSummary is the outcome of one warning sweep.
type WarningSummary struct {
	Candidates int `json:"candidates"`
	Enqueued   int `json:"enqueued"`
	OptedOut   int `json:"optedOut"`
}

// Report is the outcome of a full run.
type Report struct {
	RunID      string         `json:"runId"`
	Warnings   WarningSummary `json:"warnings"`
	Expiration Summary        `json:"expiration"`
}

// Job runs the warning and expiration sweeps against a Store.
type Job struct {
	store   Store
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Job.
type Option func(*Job) error

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(j *Job) error {
		if now == nil {
			return ErrInvalidInput
		}
		j.now = now
		return nil
	}
}

// WithLogger sets the job logger.
func WithLogger(log *slog.Logger) Option {
	return func(j *Job) error {
		if log != nil {
			j.log = log
		}
		return nil
	}
}

// WithMetrics records sweep outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) error {
		j.metrics = m
		return nil
	}
}

// New constructs a Job.
func New(store Store, opts ...Option) (*Job, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	j := &Job{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Run executes the warning sweep and then the expiration sweep. The sweeps are
// independent: both always run and their errors are joined.
func (j *Job) Run(ctx context.Context) (Report, error) {
	runID := ids.New(j.now())
	log := j.log.With("run_id", runID)

	start := j.now()
	log.Info("expiration.run.start")

	rep := Report{RunID: runID}

	warnings, warnErr := j.runWarningSweep(ctx, log)
	rep.Warnings = warnings

	expired, expErr := j.runExpirationSweep(ctx, log)
	rep.Expiration = expired

	err := errors.Join(warnErr, expErr)
	if err != nil {
		log.Error("expiration.run.fail", "err", err)
		return rep, err
	}

	log.Info("expiration.run.done",
		"users_affected", expired.UsersAffected,
		"points_expired", expired.TotalPointsExpired,
		"warnings_enqueued", warnings.Enqueued,
		"duration_ms", j.now().Sub(start).Milliseconds(),
	)
	return rep, nil
}

// RunWarningSweep queues a warning for every customer about to lose points.
func (j *Job) RunWarningSweep(ctx context.Context) (WarningSummary, error) {
	return j.runWarningSweep(ctx, j.log)
}

// RunExpirationSweep zeroes every balance idle past the inactivity limit, all
// in one transaction.
func (j *Job) RunExpirationSweep(ctx context.Context) (Summary, error) {
	return j.runExpirationSweep(ctx, j.log)
}

func (j *Job) runWarningSweep(ctx context.Context, log *slog.Logger) (sum WarningSummary, err error) {
	now := j.now()
	defer func() { j.observe(SweepWarning, err, now) }()

	window := WarningWindow{
		After:      now.AddDate(0, -InactivityMonths, 0),
		NotAfter:   now.AddDate(0, -(InactivityMonths - WarningLeadMonths), 0),
		GuardSince: now.Add(-WarningGuard),
	}

	customers, err := j.store.ListWarnable(ctx, window)
	if err != nil {
		return sum, fmt.Errorf("warning sweep: list candidates: %w", err)
	}
	sum.Candidates = len(customers)

	for _, c := range customers {
		if !c.NotifyRewards {
			sum.OptedOut++
			continue
		}
		if err := j.store.Enqueue(ctx, warningNotification(c, now)); err != nil {
			return sum, fmt.Errorf("warning sweep: enqueue customer %d: %w", c.ID, err)
		}
		sum.Enqueued++
	}

	j.metrics.AddWarnings(sum.Enqueued)
	log.Info("expiration.warning.done",
		"candidates", sum.Candidates,
		"enqueued", sum.Enqueued,
		"opted_out", sum.OptedOut,
	)
	return sum, nil
}

func (j *Job) runExpirationSweep(ctx context.Context, log *slog.Logger) (sum Summary, err error) {
	now := j.now()
	defer func() { j.observe(SweepExpiration, err, now) }()

	tx, err := j.store.BeginExpiration(ctx)
	if err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			log.Warn("expiration.sweep.locked")
		}
		return Summary{}, fmt.Errorf("expiration sweep: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Error("expiration.sweep.rollback.fail", "err", rbErr)
			}
		}
	}()

	cutoff := now.AddDate(0, -InactivityMonths, 0)
	customers, err := tx.ListExpirable(ctx, cutoff)
	if err != nil {
		return Summary{}, fmt.Errorf("expiration sweep: list candidates: %w", err)
	}

	var pending Summary
	for _, c := range customers {
		removed, err := tx.ZeroBalance(ctx, c.ID, cutoff)
		if err != nil {
			return Summary{}, fmt.Errorf("expiration sweep: zero balance for customer %d: %w", c.ID, err)
		}
		if removed <= 0 {
			continue
		}

		err = tx.InsertLedger(ctx, LedgerEntry{
			CustomerID:  c.ID,
			Type:        LedgerTypeExpire,
			Delta:       -removed,
			Outlet:      SystemOutlet,
			Description: fmt.Sprintf("Points expired after %d months of inactivity", InactivityMonths),
			CreatedAt:   now,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("expiration sweep: ledger for customer %d: %w", c.ID, err)
		}

		if c.NotifyRewards {
			if err := tx.Enqueue(ctx, expiredNotification(c.ID, removed, now)); err != nil {
				return Summary{}, fmt.Errorf("expiration sweep: enqueue customer %d: %w", c.ID, err)
			}
		}

		pending.UsersAffected++
		pending.TotalPointsExpired += removed
	}

	if err = tx.Commit(ctx); err != nil {
		return Summary{}, fmt.Errorf("expiration sweep: commit: %w", err)
	}

	j.metrics.AddExpired(pending.UsersAffected, pending.TotalPointsExpired)
	log.Info("expiration.sweep.done",
		"users_affected", pending.UsersAffected,
		"points_expired", pending.TotalPointsExpired,
	)
	return pending, nil
}

func (j *Job) observe(sweep string, err error, at time.Time) {
	j.metrics.ObserveSweep(sweep, err == nil, at)
}

func warningNotification(c Customer, now time.Time) Notification {
	expiry := c.LastActivity.AddDate(0, InactivityMonths, 0)
	return Notification{
		CustomerID: c.ID,
		Type:       NotificationWarning,
		Title:      "Your points are expiring soon",
		Body: fmt.Sprintf("Your %d points will expire on %s. Visit us before then to keep them.",
			c.Balance, expiry.Format(expiryDateLayout)),
		Data: map[string]any{
			"points_balance": c.Balance,
			"expiry_date":    expiry.Format(expiryDateLayout),
		},
		Category:     NotificationCategory,
		Status:       NotificationPending,
		ScheduledFor: now,
		CreatedAt:    now,
	}
}

func expiredNotification(customerID, points int64, now time.Time) Notification {
	return Notification{
		CustomerID: customerID,
		Type:       NotificationExpired,
		Title:      "Your points have expired",
		Body: fmt.Sprintf("%d points expired after %d months without activity.",
			points, InactivityMonths),
		Data: map[string]any{
			"points_expired": points,
			"expired_at":     now.Format(time.RFC3339),
		},
		Category:     NotificationCategory,
		Status:       NotificationPending,
		ScheduledFor: now,
		CreatedAt:    now,
	}
}
