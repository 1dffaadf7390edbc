package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/keys"
	"github.com/project-kessel/userinfo/internal/oauth"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
)

// Resolver resolves the claims of a validated token
type Resolver interface {
	Resolve(ctx context.Context, result *token.ValidationResult) (claims.Claims, error)
}

// UserInfo is the response to a UserInfo request
type UserInfo struct {
	Claims   claims.Claims
	ClientID string

	// JWT is the compact signed response, set when the client's service
	// provider asks for signed UserInfo responses
	JWT string
}

// UserInfoServiceConfig configures a UserInfoService
type UserInfoServiceConfig struct {
	Trust    trust.Store
	Resolver Resolver
	Registry sp.Registry

	// Signer signs responses for service providers that want them signed.
	// Nil always returns plain JSON claims.
	Signer keys.Signer

	// Issuer is the iss of signed responses
	Issuer string

	Clock    clock.Clock
	Observer UserInfoObserver
}

// UserInfoService answers UserInfo requests for bearer access tokens
type UserInfoService struct {
	trust    trust.Store
	resolver Resolver
	registry sp.Registry
	signer   keys.Signer
	issuer   string
	clock    clock.Clock
	observer UserInfoObserver
}

// NewUserInfoService creates a UserInfo service
func NewUserInfoService(cfg UserInfoServiceConfig) (*UserInfoService, error) {
	if cfg.Trust == nil {
		return nil, fmt.Errorf("trust store is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("claim resolver is required")
	}
	if cfg.Signer != nil && cfg.Registry == nil {
		return nil, fmt.Errorf("service provider registry is required for signed responses")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver()
	}
	return &UserInfoService{
		trust:    cfg.Trust,
		resolver: cfg.Resolver,
		registry: cfg.Registry,
		signer:   cfg.Signer,
		issuer:   cfg.Issuer,
		clock:    clk,
		observer: observer,
	}, nil
}

// Validate validates a raw bearer token
func (s *UserInfoService) Validate(ctx context.Context, bearer string) (*token.ValidationResult, error) {
	if bearer == "" {
		return nil, &oauth.Error{
			Kind:        oauth.KindInvalidToken,
			Code:        oauth.CodeInvalidRequest,
			Description: "Bearer token missing",
		}
	}
	result, err := s.trust.Validate(ctx, trust.ParseCredential(bearer))
	if errors.Is(err, trust.ErrInvalidToken) || errors.Is(err, trust.ErrExpiredToken) {
		return nil, oauth.NewInvalidTokenError("Access token validation failed", err)
	}
	if err != nil {
		return nil, oauth.NewUserInfoError(oauth.CodeServerError, "Error while validating access token", err)
	}
	if result == nil || !result.Valid {
		return nil, oauth.NewInvalidTokenError(inactiveTokenDescription, nil)
	}
	return result, nil
}

// UserInfo validates bearer and returns the claims of its subject
func (s *UserInfoService) UserInfo(ctx context.Context, bearer string) (*UserInfo, error) {
	ctx, probe := s.observer.UserInfoRequestStarted(ctx)
	defer probe.End()

	result, err := s.Validate(ctx, bearer)
	if err != nil {
		probe.TokenValidationFailed(err)
		return nil, err
	}
	probe.TokenValidationSucceeded(result)

	resolved, err := s.resolver.Resolve(ctx, result)
	if err != nil {
		return nil, err
	}

	info := &UserInfo{Claims: resolved, ClientID: result.ClientID}

	signed, err := s.wantsSigned(ctx, result.ClientID)
	if err != nil {
		probe.SigningFailed(err)
		return nil, oauth.NewUserInfoError(oauth.CodeServerError, "Error while building the UserInfo response", err)
	}
	if !signed {
		return info, nil
	}

	jwtString, keyID, err := s.sign(ctx, resolved, result.ClientID)
	if err != nil {
		probe.SigningFailed(err)
		return nil, oauth.NewUserInfoError(oauth.CodeServerError, "Error while signing the UserInfo response", err)
	}
	probe.ResponseSigned(keyID)
	info.JWT = jwtString
	return info, nil
}

func (s *UserInfoService) wantsSigned(ctx context.Context, clientID string) (bool, error) {
	if s.signer == nil || clientID == "" {
		return false, nil
	}
	app, err := s.registry.AppByClientID(ctx, clientID)
	if errors.Is(err, sp.ErrInvalidClient) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	tenant := app.TenantDomain
	if tenant == "" {
		tenant = sp.DefaultTenant
	}
	provider, err := s.registry.ServiceProvider(ctx, clientID, tenant)
	if errors.Is(err, sp.ErrInvalidClient) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return provider.UserInfoSigned, nil
}

// sign issues the claims as a JWT for audience clientID
func (s *UserInfoService) sign(ctx context.Context, resolved claims.Claims, clientID string) (string, keys.KeyID, error) {
	signer, keyID, algorithm, err := s.signer.CurrentSigner(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to get signer: %w", err)
	}

	t := jwt.New()
	for name, value := range resolved {
		if err := t.Set(name, value); err != nil {
			return "", "", fmt.Errorf("failed to set claim %s: %w", name, err)
		}
	}
	standard := map[string]any{
		jwt.AudienceKey: []string{clientID},
		jwt.IssuedAtKey: s.clock.Now().Truncate(time.Second),
		jwt.JwtIDKey:    uuid.NewString(),
	}
	if s.issuer != "" {
		standard[jwt.IssuerKey] = s.issuer
	}
	for name, value := range standard {
		if err := t.Set(name, value); err != nil {
			return "", "", fmt.Errorf("failed to set %s: %w", name, err)
		}
	}

	signAlg, ok := jwa.LookupSignatureAlgorithm(string(algorithm))
	if !ok {
		return "", "", fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}
	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, string(keyID)); err != nil {
		return "", "", fmt.Errorf("failed to set kid header: %w", err)
	}

	signed, err := jwt.Sign(t, jwt.WithKey(signAlg, signer, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", "", fmt.Errorf("failed to sign UserInfo response: %w", err)
	}
	return string(signed), keyID, nil
}
