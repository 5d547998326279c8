package api

import (
	"time"

	"loyalty/cmd/internal/qr"
	"loyalty/cmd/internal/redemption"
)

type identityQRResponse struct {
	CustomerID   string    `json:"customer_id"`
	Token        string    `json:"token"`
	ImageDataURI string    `json:"image_data_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

type redemptionTokenResponse struct {
	VoucherInstanceID int64     `json:"voucher_instance_id"`
	Token             string    `json:"token"`
	ImageDataURI      string    `json:"image_data_uri"`
	ExpiresAt         time.Time `json:"expires_at"`
	TTLSeconds        int64     `json:"ttl_seconds"`
}

type verifyRequest struct {
	Token string `json:"token"`
	Class string `json:"class,omitempty"`
}

type redeemRequest struct {
	Token   string `json:"token"`
	Outlet  string `json:"outlet"`
	StaffID string `json:"staff_id,omitempty"`
}

// scanResponse is the staff-facing verification outcome.
type scanResponse struct {
	qr.Result
	Message string `json:"message,omitempty"`
}

type redeemResponse struct {
	scanResponse
	Instance *redemption.Instance `json:"instance,omitempty"`
}

func toScanResponse(res qr.Result) scanResponse {
	out := scanResponse{Result: res}
	if !res.Valid {
		out.Message = res.Error.Message()
	}
	return out
}
