package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
)

// NewTrustStore creates a trust store from configuration. With no
// validators configured, opaque tokens are checked against tokens.
func NewTrustStore(ctx context.Context, cfg TrustConfig, tokens token.Store, transport http.RoundTripper, clk clock.Clock) (trust.Store, error) {
	store := trust.NewValidatorStore()

	validators := cfg.Validators
	if len(validators) == 0 {
		validators = []ValidatorConfig{{Type: "token_store"}}
	}
	for i, validatorCfg := range validators {
		validator, err := newValidator(ctx, validatorCfg, tokens, transport, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create validator %d: %w", i, err)
		}
		store.AddValidator(validator)
	}

	return store, nil
}

// newValidator creates a validator from configuration
func newValidator(ctx context.Context, cfg ValidatorConfig, tokens token.Store, transport http.RoundTripper, clk clock.Clock) (trust.Validator, error) {
	switch cfg.Type {
	case "token_store":
		if tokens == nil {
			return nil, fmt.Errorf("token_store validator requires a token store")
		}
		return trust.NewTokenStoreValidator(tokens, clk), nil
	case "jwt":
		return newJWTValidator(ctx, cfg, transport, clk)
	case "stub":
		return newStubValidator(cfg)
	default:
		return nil, fmt.Errorf("unknown validator type: %s (supported: token_store, jwt, stub)", cfg.Type)
	}
}

// newJWTValidator creates a JWT validator
func newJWTValidator(ctx context.Context, cfg ValidatorConfig, transport http.RoundTripper, clk clock.Clock) (trust.Validator, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt validator requires issuer")
	}

	validatorCfg := trust.JWTValidatorConfig{
		Issuer:       cfg.Issuer,
		JWKSURL:      cfg.JWKSURL,
		TenantDomain: cfg.TenantDomain,
		Federated:    cfg.Federated,
		Clock:        clk,
	}

	// Parse refresh interval if provided
	if cfg.RefreshInterval != "" {
		duration, err := time.ParseDuration(cfg.RefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid refresh_interval: %w", err)
		}
		validatorCfg.RefreshInterval = duration
	}

	// Use provided transport if available
	if transport != nil {
		validatorCfg.HTTPClient = &http.Client{
			Transport: transport,
		}
	}

	return trust.NewJWTValidator(ctx, validatorCfg)
}

// newStubValidator creates a stub validator
func newStubValidator(cfg ValidatorConfig) (trust.Validator, error) {
	var credTypes []trust.CredentialType
	for _, typeStr := range cfg.CredentialTypes {
		credType, err := parseCredentialType(typeStr)
		if err != nil {
			return nil, err
		}
		credTypes = append(credTypes, credType)
	}

	return trust.NewStubValidator(credTypes...), nil
}

// parseCredentialType converts a string to a CredentialType
func parseCredentialType(s string) (trust.CredentialType, error) {
	switch s {
	case "bearer":
		return trust.CredentialTypeBearer, nil
	case "jwt":
		return trust.CredentialTypeJWT, nil
	default:
		return "", fmt.Errorf("unknown credential type: %s (supported: bearer, jwt)", s)
	}
}
