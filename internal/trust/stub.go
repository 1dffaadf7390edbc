package trust

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
)

// StubValidator accepts any non-empty token and returns a fixed result
type StubValidator struct {
	credTypes []CredentialType
	result    *token.ValidationResult
	err       error
}

// NewStubValidator creates a stub validator. With no credential types it
// handles bearer and JWT credentials.
func NewStubValidator(credTypes ...CredentialType) *StubValidator {
	if len(credTypes) == 0 {
		credTypes = []CredentialType{CredentialTypeBearer, CredentialTypeJWT}
	}

	return &StubValidator{
		credTypes: credTypes,
		result: &token.ValidationResult{
			Valid:           true,
			TokenIdentifier: "test-token",
			AuthorizedUser:  "test-user",
			User: &token.AuthenticatedUser{
				UserID:       "test-user",
				Username:     "test-user",
				TenantDomain: sp.DefaultTenant,
			},
			ClientID:  "test-client",
			Scope:     []string{"openid"},
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
}

// WithResult configures the stub to return a specific result
func (v *StubValidator) WithResult(result *token.ValidationResult) *StubValidator {
	v.result = result
	return v
}

// WithError configures the stub to return an error
func (v *StubValidator) WithError(err error) *StubValidator {
	v.err = err
	return v
}

func (v *StubValidator) Validate(ctx context.Context, credential Credential) (*token.ValidationResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	if !slices.Contains(v.credTypes, credential.Type()) {
		return nil, fmt.Errorf("credential type %s not supported", credential.Type())
	}
	if raw, _ := tokenOf(credential); raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	result := *v.result
	return &result, nil
}

func (v *StubValidator) CredentialTypes() []CredentialType {
	return v.credTypes
}
