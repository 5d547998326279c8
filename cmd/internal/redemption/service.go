package redemption

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"loyalty/cmd/internal/metrics"
	"loyalty/cmd/internal/qr"
)

// Event is published after a successful redemption.
type Event struct {
	InstanceID int64     `json:"voucher_instance_id"`
	CustomerID int64     `json:"customer_id"`
	VoucherID  int64     `json:"voucher_id"`
	Outlet     string    `json:"outlet"`
	StaffID    string    `json:"staff_id,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher receives redemption events. Publish must not block.
type Publisher interface {
	PublishRedemption(ev Event)
}

// RedeemInput is one staff redemption request.
type RedeemInput struct {
	Token   string
	Outlet  string
	StaffID string
}

// Redeemed is a successful redemption.
type Redeemed struct {
	Instance     Instance  `json:"instance"`
	Verification qr.Result `json:"verification"`
}

// Service issues redemption tokens for active instances and redeems them.
type Service struct {
	store    Store
	issuer   *qr.RedemptionIssuer
	verifier *qr.Verifier

	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
	pub     Publisher
}

// Option configures the Service.
type Option func(*Service) error

// WithTTL sets the redemption token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return ErrInvalidInput
		}
		s.ttl = ttl
		return nil
	}
}

// WithClock overrides the clock used for instance expiry and redemption stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithMetrics counts redemption outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// WithPublisher sends successful redemptions to pub.
func WithPublisher(pub Publisher) Option {
	return func(s *Service) error {
		s.pub = pub
		return nil
	}
}

// NewService constructs a Service.
func NewService(store Store, issuer *qr.RedemptionIssuer, verifier *qr.Verifier, opts ...Option) (*Service, error) {
	if store == nil || issuer == nil || verifier == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:    store,
		issuer:   issuer,
		verifier: verifier,
		ttl:      qr.DefaultRedemptionTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueToken issues a redemption token for an active, unexpired instance.
func (s *Service) IssueToken(ctx context.Context, instanceID int64) (qr.RedemptionToken, Instance, error) {
	if instanceID <= 0 {
		return qr.RedemptionToken{}, Instance{}, ErrInvalidInput
	}

	in, err := s.store.Get(ctx, instanceID)
	if err != nil {
		return qr.RedemptionToken{}, Instance{}, err
	}
	switch {
	case in.Status == StatusUsed:
		return qr.RedemptionToken{}, Instance{}, ErrAlreadyUsed
	case in.Status == StatusExpired, in.expiredAt(s.now()):
		return qr.RedemptionToken{}, Instance{}, ErrInstanceExpired
	}

	tok, err := s.issuer.Issue(qr.RedemptionPayload{
		VoucherInstanceID: in.ID,
		CustomerID:        in.CustomerID,
		VoucherID:         in.VoucherID,
	}, s.ttl)
	if err != nil {
		return qr.RedemptionToken{}, Instance{}, err
	}

	s.log.Info("redemption.token.issued", "voucher_instance_id", in.ID, "expires_at", tok.ExpiresAt)
	return tok, in, nil
}

// Redeem verifies a scanned redemption token and consumes its instance.
// Token failures return *RejectedError; state failures return ErrNotFound,
// ErrAlreadyUsed or ErrInstanceExpired.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (Redeemed, error) {
	outlet := strings.TrimSpace(in.Outlet)
	if outlet == "" {
		return Redeemed{}, ErrInvalidInput
	}

	res := s.verifier.VerifyRedemption(in.Token)
	if !res.Valid {
		s.metrics.ObserveRedemption("rejected")
		s.log.Info("redemption.rejected", "reason", string(res.Error), "outlet", outlet)
		return Redeemed{Verification: res}, &RejectedError{Reason: res.Error}
	}

	instanceID, err := strconv.ParseInt(res.VoucherInstanceID, 10, 64)
	if err != nil || instanceID <= 0 {
		s.metrics.ObserveRedemption("rejected")
		return Redeemed{Verification: res}, &RejectedError{Reason: qr.ReasonMissingIdentifier}
	}
	var customerID int64
	if res.CustomerID != "" {
		if customerID, err = qr.ParseCustomerID(res.CustomerID); err != nil {
			s.metrics.ObserveRedemption("rejected")
			return Redeemed{Verification: res}, &RejectedError{Reason: qr.ReasonInvalidToken}
		}
	}

	inst, err := s.store.Redeem(ctx, RedeemRecord{
		InstanceID: instanceID,
		CustomerID: customerID,
		Outlet:     outlet,
		StaffID:    in.StaffID,
		Now:        s.now(),
	})
	if err != nil {
		s.metrics.ObserveRedemption(outcome(err))
		s.log.Info("redemption.refused", "voucher_instance_id", instanceID, "outlet", outlet, "err", err)
		return Redeemed{Verification: res}, err
	}

	s.metrics.ObserveRedemption("redeemed")
	s.log.Info("redemption.done",
		"voucher_instance_id", inst.ID,
		"customer_id", inst.CustomerID,
		"outlet", outlet,
	)

	if s.pub != nil {
		ev := Event{
			InstanceID: inst.ID,
			CustomerID: inst.CustomerID,
			VoucherID:  inst.VoucherID,
			Outlet:     outlet,
			StaffID:    strings.TrimSpace(in.StaffID),
		}
		if inst.UsedAt != nil {
			ev.At = *inst.UsedAt
		}
		s.pub.PublishRedemption(ev)
	}

	return Redeemed{Instance: inst, Verification: res}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrInstanceExpired):
		return "instance_expired"
	default:
		return "error"
	}
}
