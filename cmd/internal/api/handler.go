package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"loyalty/cmd/internal/qr"
	"loyalty/cmd/internal/redemption"
)

// Handler wires the loyalty HTTP endpoints to the QR and redemption services.
type Handler struct {
	log *slog.Logger
	cfg Config

	identity    *qr.IdentityService
	verifier    *qr.Verifier
	redemptions *redemption.Service
	live        http.Handler

	auditor     ScanAuditor
	fingerprint func(string) string
	limiter     *ipLimiter
	now         func() time.Time
}

// Deps are the services behind the endpoints.
type Deps struct {
	Identity    *qr.IdentityService
	Verifier    *qr.Verifier
	Redemptions *redemption.Service

	// Live serves the outlet feed; nil leaves the route unmounted.
	Live http.Handler

	// Fingerprint derives the audit identifier of a scanned token.
	Fingerprint func(string) string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor overrides the default no-op scan auditor.
func WithAuditor(a ScanAuditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

// WithClock overrides the clock used for rate limiting and audit stamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps, opts ...HandlerOption) (*Handler, error) {
	if deps.Identity == nil || deps.Verifier == nil || deps.Redemptions == nil || deps.Fingerprint == nil {
		return nil, errors.New("api: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		log:         log,
		cfg:         cfg,
		identity:    deps.Identity,
		verifier:    deps.Verifier,
		redemptions: deps.Redemptions,
		live:        deps.Live,
		auditor:     NoopAuditor{},
		fingerprint: deps.Fingerprint,
		limiter:     newIPLimiter(cfg.ScanIPMax, cfg.ScanIPWindow),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/customers/{id}/identity-qr", h.handleIdentityGet)
		r.Post("/customers/{id}/identity-qr", h.handleIdentityIssue)
		r.Post("/voucher-instances/{id}/redemption-token", h.handleRedemptionToken)

		r.Group(func(r chi.Router) {
			r.Use(h.scanRateLimit)
			r.Post("/scan/verify", h.handleScanVerify)
			r.Post("/scan/redeem", h.handleScanRedeem)
		})

		if h.live != nil {
			r.Handle("/live/outlets/{outlet}", h.live)
		}
	})
}

// ---- identity ----

func (h *Handler) handleIdentityGet(w http.ResponseWriter, r *http.Request) {
	id, ok := customerIDParam(w, r)
	if !ok {
		return
	}
	cred, err := h.identity.Current(r.Context(), id)
	if err != nil {
		h.writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(id, cred))
}

func (h *Handler) handleIdentityIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := customerIDParam(w, r)
	if !ok {
		return
	}
	cred, err := h.identity.IssueAndStore(r.Context(), id)
	if err != nil {
		h.writeIdentityError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIdentityResponse(id, cred))
}

func (h *Handler) writeIdentityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qr.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer_not_found", "customer not found")
	case errors.Is(err, qr.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid customer")
	default:
		h.log.Error("api.identity.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func toIdentityResponse(id int64, cred qr.IdentityCredential) identityQRResponse {
	return identityQRResponse{
		CustomerID:   qr.FormatCustomerID(id),
		Token:        cred.Token,
		ImageDataURI: cred.ImageDataURI,
		CreatedAt:    cred.CreatedAt,
	}
}

// ---- redemption token ----

func (h *Handler) handleRedemptionToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_voucher_instance_id", "voucher instance id must be a positive integer")
		return
	}

	tok, _, err := h.redemptions.IssueToken(r.Context(), id)
	if err != nil {
		h.writeRedemptionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, redemptionTokenResponse{
		VoucherInstanceID: id,
		Token:             tok.Token,
		ImageDataURI:      tok.ImageDataURI,
		ExpiresAt:         tok.ExpiresAt,
		TTLSeconds:        int64(tok.ExpiresAt.Sub(h.now()).Round(time.Second) / time.Second),
	})
}

// ---- scans ----

func (h *Handler) handleScanVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	class, ok := qr.ParseClass(req.Class)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_class", "class must be identity or redemption")
		return
	}

	res := h.verifier.VerifyAs(req.Token, class)

	h.auditScan(r.Context(), ScanRecord{
		Action:      ActionVerify,
		Class:       classLabel(res.Class, class),
		Valid:       res.Valid,
		Reason:      string(res.Error),
		Fingerprint: h.fingerprint(req.Token),
		IP:          clientIP(r, h.cfg.TrustProxy),
	})
	if !res.Valid {
		h.log.Info("scan.verify.rejected", "reason", string(res.Error), "class", string(res.Class))
	}

	writeJSON(w, http.StatusOK, toScanResponse(res))
}

func (h *Handler) handleScanRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Outlet) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "outlet is required")
		return
	}

	out, err := h.redemptions.Redeem(r.Context(), redemption.RedeemInput{
		Token:   req.Token,
		Outlet:  req.Outlet,
		StaffID: req.StaffID,
	})

	rec := ScanRecord{
		Action:      ActionRedeem,
		Class:       string(qr.ClassRedemption),
		Valid:       err == nil,
		Fingerprint: h.fingerprint(req.Token),
		Outlet:      req.Outlet,
		StaffID:     req.StaffID,
		IP:          clientIP(r, h.cfg.TrustProxy),
	}
	if reason, ok := redemption.ReasonOf(err); ok {
		rec.Reason = string(reason)
	} else if err != nil {
		rec.Reason = errorCode(err)
	}
	h.auditScan(r.Context(), rec)

	if err != nil {
		if reason, ok := redemption.ReasonOf(err); ok {
			res := out.Verification
			res.Valid, res.Error = false, reason
			writeJSON(w, http.StatusUnprocessableEntity, redeemResponse{scanResponse: toScanResponse(res)})
			return
		}
		h.writeRedemptionError(w, err)
		return
	}

	inst := out.Instance
	writeJSON(w, http.StatusOK, redeemResponse{
		scanResponse: toScanResponse(out.Verification),
		Instance:     &inst,
	})
}

func (h *Handler) writeRedemptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, redemption.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "voucher instance not found")
	case errors.Is(err, redemption.ErrAlreadyUsed):
		writeError(w, http.StatusConflict, "already_used", "voucher already redeemed")
	case errors.Is(err, redemption.ErrInstanceExpired):
		writeError(w, http.StatusGone, "instance_expired", "voucher expired")
	case errors.Is(err, redemption.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	default:
		h.log.Error("api.redemption.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, redemption.ErrNotFound):
		return "not_found"
	case errors.Is(err, redemption.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, redemption.ErrInstanceExpired):
		return "instance_expired"
	case errors.Is(err, redemption.ErrInvalidInput):
		return "invalid_request"
	default:
		return "server_error"
	}
}

func (h *Handler) scanRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "unknown"
		if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
			key = ip.String()
		}
		if ok, retryAfter := h.limiter.Allow(key, h.now()); !ok {
			h.log.Info("scan.rate_limited", "ip", key)
			writeRateLimited(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- helpers ----

func customerIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := qr.ParseCustomerID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer id must be a positive integer")
		return 0, false
	}
	return id, true
}

func classLabel(got, want qr.Class) string {
	switch {
	case got != "":
		return string(got)
	case want != "":
		return string(want)
	default:
		return "unknown"
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
