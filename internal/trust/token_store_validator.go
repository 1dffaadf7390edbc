package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/token"
)

// TokenStoreValidator validates tokens against the access token records kept
// by the authorization server. Tokens are looked up by their full value.
type TokenStoreValidator struct {
	store token.Store
	clock clock.Clock
}

// NewTokenStoreValidator creates a validator over store. A nil clock uses the
// system clock.
func NewTokenStoreValidator(store token.Store, clk clock.Clock) *TokenStoreValidator {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &TokenStoreValidator{store: store, clock: clk}
}

// CredentialTypes handles opaque tokens and JWTs, since a stored token id may
// itself be a JWT
func (v *TokenStoreValidator) CredentialTypes() []CredentialType {
	return []CredentialType{CredentialTypeBearer, CredentialTypeJWT}
}

func (v *TokenStoreValidator) Validate(ctx context.Context, credential Credential) (*token.ValidationResult, error) {
	raw, ok := tokenOf(credential)
	if !ok {
		return nil, fmt.Errorf("unsupported credential type for token store validator: %T", credential)
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	at, err := v.store.AccessToken(ctx, raw)
	if errors.Is(err, token.ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	now := v.clock.Now()
	if !at.Active {
		return nil, fmt.Errorf("%w: access token is not active", ErrInvalidToken)
	}
	if !at.Usable(now) {
		return nil, ErrExpiredToken
	}

	user := at.AuthzUser
	return &token.ValidationResult{
		Valid:           true,
		TokenIdentifier: at.TokenIdentifier,
		AuthorizedUser:  user.Username,
		User:            &user,
		ClientID:        at.ConsumerKey,
		Scope:           append([]string(nil), at.Scope...),
		ExpiresAt:       at.ExpiresAt,
	}, nil
}
