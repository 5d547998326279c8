package qr

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"loyalty/cmd/security/token"
)

const nonceBytes = 8

// IdentityCredential is a customer's static QR credential.
type IdentityCredential struct {
	Token        string    `json:"token"`
	ImageDataURI string    `json:"image_data_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

// IdentityIssuer builds non-expiring identity tokens.
type IdentityIssuer struct {
	signer Signer
	cfg    issuerConfig
}

// NewIdentityIssuer constructs an IdentityIssuer.
func NewIdentityIssuer(signer Signer, opts ...IssuerOption) (*IdentityIssuer, error) {
	if signer == nil {
		return nil, ErrInvalidInput
	}
	cfg, err := newIssuerConfig(opts)
	if err != nil {
		return nil, err
	}
	return &IdentityIssuer{signer: signer, cfg: cfg}, nil
}

// Issue signs a fresh identity token for customerID and renders its QR image.
// Every call yields a different token because of the random nonce.
func (i *IdentityIssuer) Issue(customerID int64) (IdentityCredential, error) {
	if customerID <= 0 {
		return IdentityCredential{}, ErrInvalidInput
	}

	nonce := make([]byte, nonceBytes)
	if _, err := io.ReadFull(i.cfg.entropy, nonce); err != nil {
		return IdentityCredential{}, fmt.Errorf("identity nonce: %w", err)
	}

	now := i.signer.Now().UTC()
	claims := map[string]any{
		claimVersion:    CurrentVersion,
		claimType:       TypeIdentity,
		claimCustomerID: FormatCustomerID(customerID),
		claimIssuer:     i.cfg.issuer,
		claimNonce:      hex.EncodeToString(nonce),
		claimIssuedAt:   now.Unix(),
	}

	tok, err := i.signer.Sign(claims, token.SignOptions{})
	if err != nil {
		return IdentityCredential{}, fmt.Errorf("identity sign: %w", err)
	}

	img, err := RenderPNGDataURI(tok, i.cfg.imageSize)
	if err != nil {
		return IdentityCredential{}, fmt.Errorf("identity render: %w", err)
	}

	i.cfg.metrics.ObserveIssued(string(ClassIdentity))

	return IdentityCredential{
		Token:        tok,
		ImageDataURI: img,
		CreatedAt:    now,
	}, nil
}
