package config

import (
	"fmt"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/httpfixture"
)

// BuildHTTPFixtureProvider creates a fixture provider from fixture configurations.
// Returns nil if no fixtures are configured (normal production mode).
// Rules are consulted before JWKS identity providers.
func BuildHTTPFixtureProvider(fixtures []FixtureConfig, clk clock.Clock) (httpfixture.FixtureProvider, error) {
	if len(fixtures) == 0 {
		return nil, nil
	}

	if clk == nil {
		clk = clock.NewSystemClock()
	}

	routes := make(httpfixture.Routes)
	var jwks httpfixture.Providers
	for i, f := range fixtures {
		switch f.Type {
		case "http_rule":
			if f.URL == "" {
				return nil, fmt.Errorf("http_rule fixture %d missing required field: url", i)
			}
			key := f.URL
			if f.Method != "" {
				key = f.Method + " " + f.URL
			}
			routes[key] = &httpfixture.Fixture{
				StatusCode: f.Status,
				Headers:    f.Headers,
				Body:       f.Body,
			}
		case "jwks":
			if f.Issuer == "" {
				return nil, fmt.Errorf("jwks fixture missing required field: issuer")
			}
			if f.JWKSURL == "" {
				return nil, fmt.Errorf("jwks fixture for issuer %s missing required field: jwks_url", f.Issuer)
			}
			fixture, err := httpfixture.NewJWKSFixture(httpfixture.JWKSFixtureConfig{
				Issuer:  f.Issuer,
				JWKSURL: f.JWKSURL,
				KeyID:   f.KeyID,
				Clock:   clk,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create JWKS fixture for issuer %s: %w", f.Issuer, err)
			}
			jwks = append(jwks, fixture)
		default:
			return nil, fmt.Errorf("unknown fixture type: %s (supported: http_rule, jwks)", f.Type)
		}
	}

	return append(httpfixture.Providers{routes}, jwks...), nil
}
