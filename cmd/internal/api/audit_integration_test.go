package api

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"loyalty/cmd/internal/ids"
	"loyalty/cmd/internal/pgtest"
)

func TestPostgresAuditor_RecordScan(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.NewSchema(t, pool)
	a := NewPostgresAuditor(pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	recs := []ScanRecord{
		{
			ID: ids.New(at), Action: ActionRedeem, Class: "redemption", Valid: true,
			Fingerprint: strings.Repeat("a", 64), Outlet: "thonglor", StaffID: "s-9", IP: net.ParseIP("203.0.113.5"), At: at,
		},
		{
			ID: ids.New(at), Action: ActionVerify, Class: "unknown", Valid: false,
			Reason: "invalid_token", Fingerprint: strings.Repeat("c", 64), At: at,
		},
	}
	for _, rec := range recs {
		if err := a.RecordScan(ctx, rec); err != nil {
			t.Fatalf("RecordScan(%s): %v", rec.ID, err)
		}
	}

	var (
		valid       bool
		outlet, ip  *string
		reason      *string
		fingerprint string
	)
	if err := pool.QueryRow(ctx,
		`SELECT valid, outlet, host(ip), reason, token_fingerprint FROM `+pgtest.Table(schema, "scan_log")+` WHERE id = $1`,
		recs[0].ID,
	).Scan(&valid, &outlet, &ip, &reason, &fingerprint); err != nil {
		t.Fatalf("select: %v", err)
	}
	if !valid || outlet == nil || *outlet != "thonglor" || ip == nil || *ip != "203.0.113.5" || reason != nil || fingerprint != strings.Repeat("a", 64) {
		t.Fatalf("unexpected row: valid=%v outlet=%v ip=%v reason=%v fp=%q", valid, outlet, ip, reason, fingerprint)
	}

	if err := pool.QueryRow(ctx,
		`SELECT valid, outlet, host(ip), reason, token_fingerprint FROM `+pgtest.Table(schema, "scan_log")+` WHERE id = $1`,
		recs[1].ID,
	).Scan(&valid, &outlet, &ip, &reason, &fingerprint); err != nil {
		t.Fatalf("select: %v", err)
	}
	if valid || outlet != nil || ip != nil || reason == nil || *reason != "invalid_token" {
		t.Fatalf("unexpected row: valid=%v outlet=%v ip=%v reason=%v", valid, outlet, ip, reason)
	}

	bad := recs[0]
	bad.ID = ids.New(at)
	bad.Action = "refund"
	if err := a.RecordScan(ctx, bad); err == nil {
		t.Fatalf("expected check constraint violation for unknown action")
	}
}
