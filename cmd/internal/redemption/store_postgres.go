package redemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists voucher instance transitions in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "public").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const instanceColumns = `id, user_id, voucher_id, status, expires_at, used_at, used_by, redeemed_outlet`

// Get loads one voucher instance.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if id <= 0 {
		return Instance{}, ErrInvalidInput
	}

	instances := pgIdent(s.schema, "voucher_instances")
	out, err := scanInstance(s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+`
		   FROM `+instances+`
		  WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, err
	}
	return out, nil
}

// Redeem runs the active -> used transition under a row lock.
func (s *PostgresStore) Redeem(ctx context.Context, in RedeemRecord) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}
	if in.InstanceID <= 0 || strings.TrimSpace(in.Outlet) == "" {
		return Instance{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	instances := pgIdent(s.schema, "voucher_instances")
	transactions := pgIdent(s.schema, "transactions")
	users := pgIdent(s.schema, "users")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Instance{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanInstance(tx.QueryRow(ctx,
		`SELECT `+instanceColumns+`
		   FROM `+instances+`
		  WHERE id = $1
		  FOR UPDATE`,
		in.InstanceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, err
	}
	if in.CustomerID > 0 && cur.CustomerID != in.CustomerID {
		return Instance{}, ErrNotFound
	}

	switch cur.Status {
	case StatusUsed:
		return Instance{}, ErrAlreadyUsed
	case StatusExpired:
		return Instance{}, ErrInstanceExpired
	}

	if cur.expiredAt(in.Now) {
		if _, err := tx.Exec(ctx,
			`UPDATE `+instances+` SET status = $2 WHERE id = $1`,
			cur.ID, string(StatusExpired),
		); err != nil {
			return Instance{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Instance{}, err
		}
		return Instance{}, ErrInstanceExpired
	}

	var usedBy *string
	if staff := strings.TrimSpace(in.StaffID); staff != "" {
		usedBy = &staff
	}
	outlet := strings.TrimSpace(in.Outlet)

	if _, err := tx.Exec(ctx,
		`UPDATE `+instances+`
		    SET status = $2,
		        used_at = $3,
		        used_by = $4,
		        redeemed_outlet = $5
		  WHERE id = $1`,
		cur.ID, string(StatusUsed), in.Now, usedBy, outlet,
	); err != nil {
		return Instance{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+transactions+` (user_id, type, points_delta, outlet, voucher_instance_id, created_at)
		 VALUES ($1, $2, 0, $3, $4, $5)`,
		cur.CustomerID, LedgerTypeRedeem, outlet, cur.ID, in.Now,
	); err != nil {
		return Instance{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+users+` SET last_activity_date = $2 WHERE id = $1`,
		cur.CustomerID, in.Now,
	); err != nil {
		return Instance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Instance{}, err
	}

	cur.Status = StatusUsed
	usedAt := in.Now
	cur.UsedAt = &usedAt
	cur.UsedBy = usedBy
	cur.Outlet = &outlet
	return cur, nil
}

func scanInstance(row pgx.Row) (Instance, error) {
	var (
		out    Instance
		status string
	)
	err := row.Scan(
		&out.ID,
		&out.CustomerID,
		&out.VoucherID,
		&status,
		&out.ExpiresAt,
		&out.UsedAt,
		&out.UsedBy,
		&out.Outlet,
	)
	if err != nil {
		return Instance{}, err
	}
	out.Status = Status(status)
	return out, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
