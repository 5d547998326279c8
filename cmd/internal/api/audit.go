package api

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyalty/cmd/internal/ids"
)

// Scan audit actions.
const (
	ActionVerify = "verify"
	ActionRedeem = "redeem"
)

// ScanRecord is one scan_log row. Raw tokens are never recorded; Fingerprint
// identifies a token without revealing it.
type ScanRecord struct {
	ID          string
	Action      string
	Class       string
	Valid       bool
	Reason      string
	Fingerprint string
	Outlet      string
	StaffID     string
	IP          net.IP
	At          time.Time
}

// ScanAuditor records scans.
type ScanAuditor interface {
	RecordScan(ctx context.Context, rec ScanRecord) error
}

// NoopAuditor discards scan records.
type NoopAuditor struct{}

func (NoopAuditor) RecordScan(context.Context, ScanRecord) error { return nil }

// PostgresAuditor writes scan records to scan_log.
type PostgresAuditor struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresAuditor constructs a PostgresAuditor. Empty schema means "public".
func NewPostgresAuditor(pool *pgxpool.Pool, schema string) *PostgresAuditor {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	return &PostgresAuditor{pool: pool, schema: schema}
}

func (a *PostgresAuditor) RecordScan(ctx context.Context, rec ScanRecord) error {
	if a == nil || a.pool == nil {
		return nil
	}

	var ipVal any
	if rec.IP != nil {
		ipVal = rec.IP.String()
	}

	table := pgx.Identifier{a.schema, "scan_log"}.Sanitize()
	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+table+` (
		     id, action, class, valid, reason, token_fingerprint, outlet, staff_id, ip, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Action, rec.Class, rec.Valid, trimOrNil(rec.Reason), rec.Fingerprint,
		trimOrNil(rec.Outlet), trimOrNil(rec.StaffID), ipVal, rec.At,
	)
	return err
}

func (h *Handler) auditScan(ctx context.Context, rec ScanRecord) {
	if rec.At.IsZero() {
		rec.At = h.now()
	}
	if rec.ID == "" {
		rec.ID = ids.New(rec.At)
	}
	if err := h.auditor.RecordScan(ctx, rec); err != nil {
		h.log.Error("scan.audit.insert.fail", "err", err, "action", rec.Action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
