package trust

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
)

// JWTValidator validates self-contained JWT access tokens using JWKS
type JWTValidator struct {
	issuer       string
	jwksURL      string
	cache        *jwk.Cache
	tenantDomain string
	federated    bool
	clock        clock.Clock
}

// JWTValidatorConfig contains configuration for JWT validation
type JWTValidatorConfig struct {
	// Issuer is the expected iss claim
	Issuer string

	// JWKSURL defaults to issuer + "/.well-known/jwks.json"
	JWKSURL string

	// TenantDomain is assigned to users of this issuer. Defaults to
	// carbon.super.
	TenantDomain string

	// Federated marks users of this issuer as authenticated by an external
	// identity provider
	Federated bool

	// RefreshInterval for JWKS cache (default: 15 minutes)
	RefreshInterval time.Duration

	// HTTPClient is used for JWKS fetches; nil uses http.DefaultClient
	HTTPClient *http.Client

	// Clock is the time source for exp/nbf checks
	Clock clock.Clock
}

// NewJWTValidator creates a JWT validator and fetches the issuer's JWKS once
func NewJWTValidator(ctx context.Context, cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	refreshInterval := cfg.RefreshInterval
	if refreshInterval == 0 {
		refreshInterval = 15 * time.Minute
	}
	tenant := cfg.TenantDomain
	if tenant == "" {
		tenant = sp.DefaultTenant
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	registerOpts := []jwk.RegisterOption{jwk.WithMinInterval(refreshInterval)}
	if cfg.HTTPClient != nil {
		registerOpts = append(registerOpts, jwk.WithHTTPClient(cfg.HTTPClient))
	}
	if err := cache.Register(ctx, jwksURL, registerOpts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := cache.Refresh(fetchCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	return &JWTValidator{
		issuer:       cfg.Issuer,
		jwksURL:      jwksURL,
		cache:        cache,
		tenantDomain: tenant,
		federated:    cfg.Federated,
		clock:        clk,
	}, nil
}

// CredentialTypes returns the credential types this validator can handle
func (v *JWTValidator) CredentialTypes() []CredentialType {
	return []CredentialType{CredentialTypeJWT}
}

// Validate verifies the signature, issuer and lifetime of a JWT access token.
// jti identifies the token, falling back to the raw token when absent. The
// client is taken from client_id, then azp, then a single-valued aud.
func (v *JWTValidator) Validate(ctx context.Context, credential Credential) (*token.ValidationResult, error) {
	raw, ok := tokenOf(credential)
	if !ok {
		return nil, fmt.Errorf("unsupported credential type for JWT validator: %T", credential)
	}

	jwks, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	parsed, err := jwt.Parse(
		[]byte(raw),
		jwt.WithKeySet(jwks),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithClock(jwt.ClockFunc(func() time.Time {
			return v.clock.Now()
		})),
	)
	if err != nil {
		if errors.Is(err, jwt.TokenExpiredError()) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, ok := parsed.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	tokenID, ok := parsed.JwtID()
	if !ok || tokenID == "" {
		tokenID = raw
	}

	user := &token.AuthenticatedUser{
		UserID:       subject,
		Username:     subject,
		TenantDomain: v.tenantDomain,
		Federated:    v.federated,
	}
	if v.federated {
		user.FederatedIdP = v.issuer
	}

	expiresAt, _ := parsed.Expiration()

	return &token.ValidationResult{
		Valid:           true,
		TokenIdentifier: tokenID,
		AuthorizedUser:  subject,
		User:            user,
		ClientID:        clientOf(parsed),
		Scope:           scopeOf(parsed),
		ExpiresAt:       expiresAt,
	}, nil
}

func clientOf(t jwt.Token) string {
	for _, name := range []string{"client_id", "azp"} {
		var client string
		if err := t.Get(name, &client); err == nil && client != "" {
			return client
		}
	}
	if aud, ok := t.Audience(); ok && len(aud) == 1 {
		return aud[0]
	}
	return ""
}

func scopeOf(t jwt.Token) []string {
	var scope string
	if err := t.Get("scope", &scope); err == nil {
		return strings.Fields(scope)
	}
	var scp []string
	if err := t.Get("scp", &scp); err == nil {
		return scp
	}
	return nil
}
