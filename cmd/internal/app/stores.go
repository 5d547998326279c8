package app

import (
	"context"

	"loyalty/cmd/internal/api"
	"loyalty/cmd/internal/expiration"
	"loyalty/cmd/internal/qr"
	"loyalty/cmd/internal/redemption"
)

type stores struct {
	credentials qr.CredentialStore
	vouchers    redemption.Store
	points      expiration.Store
	auditor     api.ScanAuditor
}

// openStores picks Postgres when a database URL is configured and in-memory
// stores otherwise. The app owns the pool; stores never close it.
func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return stores{
			credentials: qr.NewMemoryStore(),
			vouchers:    redemption.NewMemoryStore(),
			points:      expiration.NewMemoryStore(),
			auditor:     api.NoopAuditor{},
		}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, err
	}
	a.pool = pool
	a.dbEnabled = true

	schema := a.cfg.DatabaseSchema
	creds, err := qr.NewPostgresStore(pool, qr.WithSchema(schema))
	if err != nil {
		a.close()
		return stores{}, err
	}
	vouchers, err := redemption.NewPostgresStore(pool, redemption.WithSchema(schema))
	if err != nil {
		a.close()
		return stores{}, err
	}
	points, err := expiration.NewPostgresStore(pool, expiration.WithSchema(schema))
	if err != nil {
		a.close()
		return stores{}, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", schema)
	return stores{
		credentials: creds,
		vouchers:    vouchers,
		points:      points,
		auditor:     api.NewPostgresAuditor(pool, schema),
	}, nil
}
