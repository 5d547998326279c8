package qr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps identity credentials on the users row.
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

// SaveIdentity overwrites the stored credential for customerID.
func (s *PostgresStore) SaveIdentity(ctx context.Context, customerID int64, cred IdentityCredential) error {
	if customerID <= 0 || cred.Token == "" {
		return ErrInvalidInput
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET qr_code_token = $2,
		        qr_code_image = $3,
		        qr_code_created_at = $4
		  WHERE id = $1`,
		customerID, cred.Token, cred.ImageDataURI, cred.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// GetIdentity loads the stored credential for customerID.
func (s *PostgresStore) GetIdentity(ctx context.Context, customerID int64) (IdentityCredential, error) {
	if customerID <= 0 {
		return IdentityCredential{}, ErrInvalidInput
	}

	users := pgIdent(s.schema, "users")
	var (
		tok       *string
		img       *string
		createdAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT qr_code_token, qr_code_image, qr_code_created_at
		   FROM `+users+`
		  WHERE id = $1`,
		customerID,
	).Scan(&tok, &img, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdentityCredential{}, ErrCustomerNotFound
		}
		return IdentityCredential{}, err
	}
	if tok == nil || *tok == "" {
		return IdentityCredential{}, ErrNotFound
	}

	out := IdentityCredential{Token: *tok}
	if img != nil {
		out.ImageDataURI = *img
	}
	if createdAt != nil {
		out.CreatedAt = createdAt.UTC()
	}
	return out, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
