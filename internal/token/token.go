// Package token models validated access tokens and the records kept about
// them by the authorization server.
package token

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTokenNotFound is returned when no access token record exists
var ErrTokenNotFound = errors.New("access token not found")

// FederatedDomainPrefix marks user store domains that hold federated users
const FederatedDomainPrefix = "FEDERATED"

// AuthenticatedUser is the subject an access token was issued to
type AuthenticatedUser struct {
	// UserID is the identifier used for user store lookups
	UserID string `json:"user_id"`

	// Username is the username recorded when the token was issued.
	// It may carry a user store domain prefix and a tenant suffix.
	Username string `json:"username"`

	TenantDomain    string `json:"tenant_domain"`
	UserStoreDomain string `json:"user_store_domain,omitempty"`

	// Federated is set when the user was authenticated by an external
	// identity provider
	Federated    bool   `json:"federated,omitempty"`
	FederatedIdP string `json:"federated_idp,omitempty"`
}

// IsFederated reports whether the user came from an external identity source
func (u *AuthenticatedUser) IsFederated() bool {
	if u == nil {
		return false
	}
	return u.Federated || strings.HasPrefix(strings.ToUpper(u.UserStoreDomain), FederatedDomainPrefix)
}

// ValidationResult is the outcome of validating a bearer access token
type ValidationResult struct {
	Valid bool

	// TokenIdentifier keys the authorization grant cache
	TokenIdentifier string

	// AuthorizedUser is the username the token was issued to
	AuthorizedUser string

	// User is the full subject record, when the validator knows it
	User *AuthenticatedUser

	ClientID  string
	Scope     []string
	ExpiresAt time.Time
}

// AccessToken is the server-side record of an issued access token
type AccessToken struct {
	TokenIdentifier string            `json:"token_id"`
	ConsumerKey     string            `json:"consumer_key"`
	AuthzUser       AuthenticatedUser `json:"authz_user"`
	Scope           []string          `json:"scope,omitempty"`
	IssuedAt        time.Time         `json:"issued_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
	Active          bool              `json:"active"`
}

// Usable reports whether the token is active and unexpired at now
func (t *AccessToken) Usable(now time.Time) bool {
	if t == nil || !t.Active {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// Store looks up access token records
type Store interface {
	// AccessToken returns the record for tokenID, or ErrTokenNotFound
	AccessToken(ctx context.Context, tokenID string) (*AccessToken, error)

	// Put stores or replaces a record
	Put(ctx context.Context, t *AccessToken) error
}
