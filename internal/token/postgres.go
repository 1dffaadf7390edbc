package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	getAccessTokenQuery = `
SELECT
  token_id, consumer_key, user_id, username, tenant_domain, user_store_domain,
  federated, federated_idp, scope, issued_at, expires_at, active
FROM userinfo.access_token
WHERE token_id = $1
`

	putAccessTokenQuery = `
INSERT INTO userinfo.access_token (
  token_id, consumer_key, user_id, username, tenant_domain, user_store_domain,
  federated, federated_idp, scope, issued_at, expires_at, active
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (token_id) DO UPDATE
SET
  consumer_key = EXCLUDED.consumer_key,
  user_id = EXCLUDED.user_id,
  username = EXCLUDED.username,
  tenant_domain = EXCLUDED.tenant_domain,
  user_store_domain = EXCLUDED.user_store_domain,
  federated = EXCLUDED.federated,
  federated_idp = EXCLUDED.federated_idp,
  scope = EXCLUDED.scope,
  issued_at = EXCLUDED.issued_at,
  expires_at = EXCLUDED.expires_at,
  active = EXCLUDED.active
`
)

// PostgresStore reads access token records from the userinfo schema
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("token store: db is nil")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AccessToken(ctx context.Context, tokenID string) (*AccessToken, error) {
	var (
		t         AccessToken
		scope     string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, getAccessTokenQuery, tokenID).Scan(
		&t.TokenIdentifier,
		&t.ConsumerKey,
		&t.AuthzUser.UserID,
		&t.AuthzUser.Username,
		&t.AuthzUser.TenantDomain,
		&t.AuthzUser.UserStoreDomain,
		&t.AuthzUser.Federated,
		&t.AuthzUser.FederatedIdP,
		&scope,
		&t.IssuedAt,
		&expiresAt,
		&t.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query access token: %w", err)
	}
	if scope != "" {
		t.Scope = strings.Fields(scope)
	}
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) Put(ctx context.Context, t *AccessToken) error {
	issuedAt := t.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	var expiresAt sql.NullTime
	if !t.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: t.ExpiresAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, putAccessTokenQuery,
		t.TokenIdentifier,
		t.ConsumerKey,
		t.AuthzUser.UserID,
		t.AuthzUser.Username,
		t.AuthzUser.TenantDomain,
		t.AuthzUser.UserStoreDomain,
		t.AuthzUser.Federated,
		t.AuthzUser.FederatedIdP,
		strings.Join(t.Scope, " "),
		issuedAt.UTC(),
		expiresAt,
		t.Active,
	)
	if err != nil {
		return fmt.Errorf("put access token: %w", err)
	}
	return nil
}
