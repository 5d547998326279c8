package qr

import (
	"fmt"
	"strconv"
	"time"

	"loyalty/cmd/security/token"
)

// DefaultRedemptionTTL bounds how long a displayed redemption QR stays usable.
const DefaultRedemptionTTL = 120 * time.Second

// RedemptionPayload describes one redemption event.
type RedemptionPayload struct {
	VoucherInstanceID int64
	CustomerID        int64
	VoucherID         int64

	// Extra claims; reserved claim names are ignored.
	Extra map[string]any
}

// RedemptionToken is a signed, short-lived redemption credential.
type RedemptionToken struct {
	Token        string    `json:"token"`
	ImageDataURI string    `json:"image_data_uri"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RedemptionIssuer builds short-lived redemption tokens.
type RedemptionIssuer struct {
	signer Signer
	cfg    issuerConfig
}

// NewRedemptionIssuer constructs a RedemptionIssuer.
func NewRedemptionIssuer(signer Signer, opts ...IssuerOption) (*RedemptionIssuer, error) {
	if signer == nil {
		return nil, ErrInvalidInput
	}
	cfg, err := newIssuerConfig(opts)
	if err != nil {
		return nil, err
	}
	return &RedemptionIssuer{signer: signer, cfg: cfg}, nil
}

// Issue signs p with an expiry of ttl from now; ttl <= 0 uses DefaultRedemptionTTL.
func (i *RedemptionIssuer) Issue(p RedemptionPayload, ttl time.Duration) (RedemptionToken, error) {
	if p.VoucherInstanceID <= 0 {
		return RedemptionToken{}, ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = DefaultRedemptionTTL
	}

	now := i.signer.Now().UTC()

	claims := make(map[string]any, len(p.Extra)+6)
	for k, v := range p.Extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	claims[claimVersion] = CurrentVersion
	claims[claimType] = TypeRedemption
	claims[claimIssuer] = i.cfg.issuer
	claims[claimVoucherInstanceID] = strconv.FormatInt(p.VoucherInstanceID, 10)
	claims[claimIssuedAt] = now.Unix()
	if p.CustomerID > 0 {
		claims[claimCustomerID] = FormatCustomerID(p.CustomerID)
	}
	if p.VoucherID > 0 {
		claims[claimVoucherID] = strconv.FormatInt(p.VoucherID, 10)
	}

	tok, err := i.signer.Sign(claims, token.SignOptions{ExpiresIn: ttl})
	if err != nil {
		return RedemptionToken{}, fmt.Errorf("redemption sign: %w", err)
	}

	img, err := RenderPNGDataURI(tok, i.cfg.imageSize)
	if err != nil {
		return RedemptionToken{}, fmt.Errorf("redemption render: %w", err)
	}

	i.cfg.metrics.ObserveIssued(string(ClassRedemption))

	return RedemptionToken{
		Token:        tok,
		ImageDataURI: img,
		// Matches the second-precision exp claim written by the codec.
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}, nil
}
