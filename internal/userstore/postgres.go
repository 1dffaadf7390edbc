package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	userExistsQuery = `
SELECT EXISTS (
  SELECT 1 FROM userinfo.user_account
  WHERE user_id = $1 AND user_store_domain = $2 AND tenant_domain = $3
)
`

	userClaimValuesQuery = `
SELECT claim_uri, value
FROM userinfo.user_claim
WHERE user_id = $1 AND user_store_domain = $2 AND tenant_domain = $3
  AND claim_uri = ANY($4)
`

	putUserQuery = `
INSERT INTO userinfo.user_account (user_id, user_store_domain, tenant_domain, username)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, user_store_domain, tenant_domain) DO UPDATE
SET username = EXCLUDED.username
`

	deleteUserClaimsQuery = `
DELETE FROM userinfo.user_claim
WHERE user_id = $1 AND user_store_domain = $2 AND tenant_domain = $3
`

	putUserClaimQuery = `
INSERT INTO userinfo.user_claim (user_id, user_store_domain, tenant_domain, claim_uri, value)
VALUES ($1, $2, $3, $4, $5)
`
)

// PostgresStore reads users of one user store domain of a tenant
type PostgresStore struct {
	db        *sql.DB
	domain    string
	tenant    string
	separator string
}

// NewPostgresStore creates a store for domain in tenant
func NewPostgresStore(db *sql.DB, tenant, domain string, cfg RealmConfig) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("user store: db is nil")
	}
	if domain == "" {
		domain = PrimaryDomain
	}
	return &PostgresStore{db: db, domain: strings.ToUpper(domain), tenant: tenant, separator: cfg.Separator()}, nil
}

func (s *PostgresStore) UserClaimValues(ctx context.Context, userID string, claimURIs []string) (map[string]string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, userExistsQuery, userID, s.domain, s.tenant).Scan(&exists); err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	out := make(map[string]string, len(claimURIs))
	if len(claimURIs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, userClaimValuesQuery, userID, s.domain, s.tenant, claimURIs)
	if err != nil {
		return nil, fmt.Errorf("query user claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var uri, value string
		if err := rows.Scan(&uri, &value); err != nil {
			return nil, fmt.Errorf("scan user claim: %w", err)
		}
		out[uri] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read user claims: %w", err)
	}
	return out, nil
}

// PutUser stores a user and replaces its claims. Multi-valued claims are
// joined with the store's separator.
func (s *PostgresStore) PutUser(ctx context.Context, userID, username string, values map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, putUserQuery, userID, s.domain, s.tenant, username); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteUserClaimsQuery, userID, s.domain, s.tenant); err != nil {
		return fmt.Errorf("delete user claims: %w", err)
	}
	for uri, v := range values {
		if _, err := tx.ExecContext(ctx, putUserClaimQuery, userID, s.domain, s.tenant, uri, strings.Join(v, s.separator)); err != nil {
			return fmt.Errorf("put user claim %s: %w", uri, err)
		}
	}
	return tx.Commit()
}
