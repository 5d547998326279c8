package qr

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"loyalty/cmd/internal/metrics"
	"loyalty/cmd/security/token"
)

// Class is the kind of credential a scan is checked against.
type Class string

const (
	ClassIdentity   Class = "identity"
	ClassRedemption Class = "redemption"
)

func (c Class) tokenType() string {
	switch c {
	case ClassIdentity:
		return TypeIdentity
	case ClassRedemption:
		return TypeRedemption
	default:
		return ""
	}
}

func (c Class) identifierClaim() string {
	if c == ClassRedemption {
		return claimVoucherInstanceID
	}
	return claimCustomerID
}

// ParseClass parses a class name; "" means auto-detect.
func ParseClass(s string) (Class, bool) {
	switch Class(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", true
	case ClassIdentity:
		return ClassIdentity, true
	case ClassRedemption:
		return ClassRedemption, true
	}
	return "", false
}

// Reason is the closed set of scan rejection reasons.
type Reason string

const (
	ReasonExpired            Reason = "expired"
	ReasonInvalidToken       Reason = "invalid_token"
	ReasonInvalidType        Reason = "invalid_type"
	ReasonMissingIdentifier  Reason = "missing_identifier"
	ReasonUnsupportedVersion Reason = "unsupported_version"
	ReasonInvalidIssuer      Reason = "invalid_issuer"
	ReasonVerificationFailed Reason = "verification_failed"
)

// Message is the short text shown to staff for a failed scan.
func (r Reason) Message() string {
	switch r {
	case ReasonExpired:
		return "QR code expired"
	case ReasonInvalidToken, ReasonInvalidType, ReasonMissingIdentifier, ReasonInvalidIssuer:
		return "Invalid QR code"
	case ReasonUnsupportedVersion:
		return "QR code version not supported"
	default:
		return "QR verification failed"
	}
}

// Result is the outcome of verifying one scanned string.
type Result struct {
	Valid bool   `json:"valid"`
	Class Class  `json:"class,omitempty"`
	Error Reason `json:"error,omitempty"`

	CustomerID        string     `json:"customer_id,omitempty"`
	VoucherInstanceID string     `json:"voucher_instance_id,omitempty"`
	VoucherID         string     `json:"voucher_id,omitempty"`
	Version           int        `json:"version,omitempty"`
	IssuedAt          *time.Time `json:"issued_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`

	// Payload holds every decoded claim on success.
	Payload map[string]any `json:"-"`
}

func reject(class Class, r Reason) Result {
	return Result{Valid: false, Class: class, Error: r}
}

// Decoder is the subset of token.Codec used by the Verifier.
type Decoder interface {
	Verify(tok string) (map[string]any, error)
}

// Verifier turns scanned strings into typed results. It performs no I/O.
type Verifier struct {
	codec      Decoder
	issuer     string
	maxVersion int
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithExpectedIssuer overrides the issuer literal accepted (default DefaultIssuer).
func WithExpectedIssuer(issuer string) VerifierOption {
	return func(v *Verifier) {
		if s := strings.TrimSpace(issuer); s != "" {
			v.issuer = s
		}
	}
}

// WithMaxVersion overrides the highest payload version understood.
func WithMaxVersion(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.maxVersion = n
		}
	}
}

// WithVerifierLogger sets the logger used for unexpected failures.
func WithVerifierLogger(log *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// WithVerifierMetrics counts outcomes.
func WithVerifierMetrics(m *metrics.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier constructs a Verifier.
func NewVerifier(codec Decoder, opts ...VerifierOption) (*Verifier, error) {
	if codec == nil {
		return nil, ErrInvalidInput
	}
	v := &Verifier{
		codec:      codec,
		issuer:     DefaultIssuer,
		maxVersion: CurrentVersion,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(v)
	}
	return v, nil
}

// VerifyIdentity checks tok as a customer identity credential.
func (v *Verifier) VerifyIdentity(tok string) Result {
	return v.verify(tok, ClassIdentity)
}

// VerifyRedemption checks tok as a voucher redemption credential.
func (v *Verifier) VerifyRedemption(tok string) Result {
	return v.verify(tok, ClassRedemption)
}

// Verify checks tok against the class named by its own type claim.
func (v *Verifier) Verify(tok string) Result {
	return v.verify(tok, "")
}

// VerifyAs dispatches on class; "" auto-detects.
func (v *Verifier) VerifyAs(tok string, class Class) Result {
	return v.verify(tok, class)
}

func (v *Verifier) verify(tok string, want Class) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("scan.verify.panic", "panic", fmt.Sprint(r), "class", string(want))
			res = reject(want, ReasonVerificationFailed)
		}
		v.observe(res, want)
	}()

	claims, err := v.codec.Verify(tok)
	if err != nil {
		switch {
		case token.KindOf(err) == token.KindExpired:
			return reject(want, ReasonExpired)
		case errors.Is(err, token.ErrInvalidOrExpired):
			return reject(want, ReasonInvalidToken)
		default:
			v.log.Error("scan.verify.decode.fail", "err", err, "class", string(want))
			return reject(want, ReasonVerificationFailed)
		}
	}

	return v.check(claims, want)
}

// check applies the structural checks in order; the first failure wins.
func (v *Verifier) check(claims map[string]any, want Class) Result {
	typ, _ := claims[claimType].(string)

	class := want
	if class == "" {
		switch typ {
		case TypeIdentity:
			class = ClassIdentity
		case TypeRedemption:
			class = ClassRedemption
		}
	}

	if class == "" || typ != class.tokenType() {
		return reject(want, ReasonInvalidType)
	}

	id, ok := stringClaim(claims, class.identifierClaim())
	if !ok || strings.TrimSpace(id) == "" {
		return reject(class, ReasonMissingIdentifier)
	}

	version, ok := versionClaim(claims)
	if !ok || version > v.maxVersion {
		return reject(class, ReasonUnsupportedVersion)
	}

	if raw, present := claims[claimIssuer]; present {
		if iss, _ := raw.(string); iss != v.issuer {
			return reject(class, ReasonInvalidIssuer)
		}
	}

	res := Result{
		Valid:     true,
		Class:     class,
		Version:   version,
		IssuedAt:  timeClaim(claims, claimIssuedAt),
		ExpiresAt: timeClaim(claims, claimExpiresAt),
		Payload:   claims,
	}
	switch class {
	case ClassIdentity:
		res.CustomerID = id
	case ClassRedemption:
		res.VoucherInstanceID = id
		res.CustomerID, _ = stringClaim(claims, claimCustomerID)
		res.VoucherID, _ = stringClaim(claims, claimVoucherID)
	}
	return res
}

func (v *Verifier) observe(res Result, want Class) {
	class := res.Class
	if class == "" {
		class = want
	}
	if class == "" {
		class = "unknown"
	}
	result := "valid"
	if !res.Valid {
		result = string(res.Error)
	}
	v.metrics.ObserveVerification(string(class), result)
}

// versionClaim returns the payload version. A missing version is accepted as 0
// (payloads written before versioning); a non-integer version is rejected.
func versionClaim(claims map[string]any) (int, bool) {
	raw, present := claims[claimVersion]
	if !present {
		return 0, true
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) || f < 0 {
		return 0, false
	}
	return int(f), true
}

func timeClaim(claims map[string]any, key string) *time.Time {
	f, ok := claims[key].(float64)
	if !ok {
		return nil
	}
	t := time.Unix(int64(f), 0).UTC()
	return &t
}
