package httpfixture

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/project-kessel/userinfo/internal/clock"
)

// JWKSFixture serves a JWKS document for an identity provider and signs
// access tokens with the matching private key.
type JWKSFixture struct {
	issuer  string
	jwksURL string
	signer  jwk.Key
	jwks    jwk.Set
	clock   clock.Clock
}

// JWKSFixtureConfig configures a JWKS fixture
type JWKSFixtureConfig struct {
	Issuer  string
	JWKSURL string

	// KeyID defaults to "test-key-1"
	KeyID string

	// Clock stamps iat and exp; defaults to the system clock
	Clock clock.Clock
}

// NewJWKSFixture creates a JWKS fixture with a fresh RS256 key pair
func NewJWKSFixture(cfg JWKSFixtureConfig) (*JWKSFixture, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = cfg.Issuer + "/.well-known/jwks.json"
	}
	if cfg.KeyID == "" {
		cfg.KeyID = "test-key-1"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystemClock()
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	signer, err := jwk.Import(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to import private key: %w", err)
	}
	if err := signer.Set(jwk.KeyIDKey, cfg.KeyID); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := signer.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}

	public, err := signer.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	jwks := jwk.NewSet()
	if err := jwks.AddKey(public); err != nil {
		return nil, fmt.Errorf("failed to add key to JWKS: %w", err)
	}

	return &JWKSFixture{
		issuer:  cfg.Issuer,
		jwksURL: cfg.JWKSURL,
		signer:  signer,
		jwks:    jwks,
		clock:   cfg.Clock,
	}, nil
}

// GetFixture serves the JWKS document at the configured URL
func (f *JWKSFixture) GetFixture(req *http.Request) *Fixture {
	if req.URL.String() != f.jwksURL {
		return nil
	}
	body, err := json.Marshal(f.jwks)
	if err != nil {
		return &Fixture{StatusCode: http.StatusInternalServerError}
	}
	return &Fixture{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// Issuer returns the iss value of issued tokens
func (f *JWKSFixture) Issuer() string { return f.issuer }

// JWKSURL returns the URL the key set is served at
func (f *JWKSFixture) JWKSURL() string { return f.jwksURL }

func (f *JWKSFixture) Clock() clock.Clock { return f.clock }

// Client returns an http.Client that only resolves the JWKS URL
func (f *JWKSFixture) Client() *http.Client {
	return NewTransport(TransportConfig{Provider: f, Strict: true}).Client()
}

// SignToken issues a token valid for an hour with the given claims.
// iss, iat and exp are set from the fixture unless claims override them.
func (f *JWKSFixture) SignToken(claims map[string]any) (string, error) {
	return f.SignTokenWithExpiry(claims, f.clock.Now().Add(time.Hour))
}

// SignTokenWithExpiry issues a token expiring at exp
func (f *JWKSFixture) SignTokenWithExpiry(claims map[string]any, exp time.Time) (string, error) {
	token := jwt.New()
	standard := map[string]any{
		jwt.IssuerKey:     f.issuer,
		jwt.IssuedAtKey:   f.clock.Now(),
		jwt.ExpirationKey: exp,
	}
	for _, set := range []map[string]any{standard, claims} {
		for name, value := range set {
			if err := token.Set(name, value); err != nil {
				return "", fmt.Errorf("failed to set claim %s: %w", name, err)
			}
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), f.signer))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
