package expiration

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sweepLockPrefix names the transaction-scoped advisory lock held by an
// expiration sweep; the schema is appended so schemas do not contend.
const sweepLockPrefix = "loyalty.expiration:"

// PostgresStore runs the sweeps against the loyalty tables.
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

// ListWarnable returns customers inside the warning window with no recent warning.
func (s *PostgresStore) ListWarnable(ctx context.Context, w WarningWindow) ([]Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !w.After.Before(w.NotAfter) {
		return nil, ErrInvalidInput
	}

	users := pgIdent(s.schema, "users")
	queue := pgIdent(s.schema, "notification_queue")

	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.points_balance, u.last_activity_date, `+rewardsPrefExpr+`
		   FROM `+users+` u
		  WHERE u.points_balance > 0
		    AND u.last_activity_date > $1
		    AND u.last_activity_date <= $2
		    AND NOT EXISTS (
		          SELECT 1
		            FROM `+queue+` n
		           WHERE n.user_id = u.id
		             AND n.notification_type = $3
		             AND n.created_at >= $4
		        )`,
		w.After, w.NotAfter, NotificationWarning, w.GuardSince,
	)
	if err != nil {
		return nil, err
	}
	return scanCustomers(rows)
}

// Enqueue inserts a notification outside any sweep transaction.
func (s *PostgresStore) Enqueue(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return insertNotification(ctx, s.pool, s.schema, n)
}

// BeginExpiration starts the sweep transaction and takes the run lock.
func (s *PostgresStore) BeginExpiration(ctx context.Context) (ExpirationTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`, sweepLockPrefix+s.schema).Scan(&locked); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if !locked {
		_ = tx.Rollback(ctx)
		return nil, ErrSweepInProgress
	}

	return &pgExpirationTx{tx: tx, schema: s.schema}, nil
}

type pgExpirationTx struct {
	tx     pgx.Tx
	schema string
}

func (t *pgExpirationTx) ListExpirable(ctx context.Context, cutoff time.Time) ([]Customer, error) {
	users := pgIdent(t.schema, "users")

	rows, err := t.tx.Query(ctx,
		`SELECT u.id, u.points_balance, u.last_activity_date, `+rewardsPrefExpr+`
		   FROM `+users+` u
		  WHERE u.points_balance > 0
		    AND u.last_activity_date < $1`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	return scanCustomers(rows)
}

func (t *pgExpirationTx) ZeroBalance(ctx context.Context, customerID int64, cutoff time.Time) (int64, error) {
	users := pgIdent(t.schema, "users")

	// Row lock first so the removed amount is the balance actually zeroed. A
	// customer active since the candidate list was read matches no row.
	var prev int64
	err := t.tx.QueryRow(ctx,
		`WITH prev AS (
		     SELECT id, points_balance
		       FROM `+users+`
		      WHERE id = $1
		        AND points_balance > 0
		        AND last_activity_date < $2
		      FOR UPDATE
		   )
		 UPDATE `+users+` u
		    SET points_balance = 0
		   FROM prev
		  WHERE u.id = prev.id
		RETURNING prev.points_balance`,
		customerID, cutoff,
	).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return prev, nil
}

func (t *pgExpirationTx) InsertLedger(ctx context.Context, e LedgerEntry) error {
	transactions := pgIdent(t.schema, "transactions")

	var desc *string
	if e.Description != "" {
		desc = &e.Description
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO `+transactions+` (user_id, type, points_delta, outlet, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.CustomerID, e.Type, e.Delta, e.Outlet, desc, e.CreatedAt,
	)
	return err
}

func (t *pgExpirationTx) Enqueue(ctx context.Context, n Notification) error {
	return insertNotification(ctx, t.tx, t.schema, n)
}

func (t *pgExpirationTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgExpirationTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// rewardsPrefExpr is true unless notification_prefs.points_rewards is JSON false.
const rewardsPrefExpr = `COALESCE(u.notification_prefs->'points_rewards' <> 'false'::jsonb, true)`

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertNotification(ctx context.Context, db execer, schema string, n Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	queue := pgIdent(schema, "notification_queue")
	_, err = db.Exec(ctx,
		`INSERT INTO `+queue+` (
		     user_id, notification_type, title, body, data, category, status, scheduled_for, created_at
		   ) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)`,
		n.CustomerID, n.Type, n.Title, n.Body, string(raw), n.Category, n.Status, n.ScheduledFor, n.CreatedAt,
	)
	return err
}

func scanCustomers(rows pgx.Rows) ([]Customer, error) {
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Balance, &c.LastActivity, &c.NotifyRewards); err != nil {
			return nil, err
		}
		c.LastActivity = c.LastActivity.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
