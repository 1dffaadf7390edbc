package trust

import (
	"context"
	"fmt"

	"github.com/project-kessel/userinfo/internal/token"
)

// Store validates credentials with the validators registered for their type
type Store interface {
	Validate(ctx context.Context, credential Credential) (*token.ValidationResult, error)
}

// ValidatorStore indexes validators by credential type and tries them in
// registration order
type ValidatorStore struct {
	validatorsByType map[CredentialType][]Validator
}

// NewValidatorStore creates a store with the given validators
func NewValidatorStore(validators ...Validator) *ValidatorStore {
	s := &ValidatorStore{validatorsByType: make(map[CredentialType][]Validator)}
	for _, v := range validators {
		s.AddValidator(v)
	}
	return s
}

// AddValidator registers v under every credential type it supports
func (s *ValidatorStore) AddValidator(v Validator) *ValidatorStore {
	for _, credType := range v.CredentialTypes() {
		s.validatorsByType[credType] = append(s.validatorsByType[credType], v)
	}
	return s
}

// Validate returns the first successful result. When every validator fails
// the last error is returned.
func (s *ValidatorStore) Validate(ctx context.Context, credential Credential) (*token.ValidationResult, error) {
	credType := credential.Type()

	validators := s.validatorsByType[credType]
	if len(validators) == 0 {
		return nil, fmt.Errorf("%w: no validator for credential type %s", ErrInvalidToken, credType)
	}

	var lastErr error
	for _, v := range validators {
		result, err := v.Validate(ctx, credential)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("all validators failed for credential type %s: %w", credType, lastErr)
}
