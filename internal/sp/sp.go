// Package sp models registered relying applications: their OAuth client
// registrations and the service provider configuration that decides which
// claims they receive.
package sp

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidClient is returned when a client id is not registered
var ErrInvalidClient = errors.New("invalid client")

// Claim identifies a claim within a dialect
type Claim struct {
	URI string `json:"uri" koanf:"uri"`
}

// ClaimMapping maps a local claim to the claim name the service provider knows it by
type ClaimMapping struct {
	LocalClaim   Claim  `json:"local_claim" koanf:"local_claim"`
	RemoteClaim  Claim  `json:"remote_claim" koanf:"remote_claim"`
	Requested    bool   `json:"requested" koanf:"requested"`
	Mandatory    bool   `json:"mandatory,omitempty" koanf:"mandatory"`
	DefaultValue string `json:"default_value,omitempty" koanf:"default_value"`
}

// RoleMapping renames a local role for a service provider
type RoleMapping struct {
	LocalRole  string `json:"local_role" koanf:"local_role"`
	RemoteRole string `json:"remote_role" koanf:"remote_role"`
}

// ServiceProvider is the claim configuration of a relying application
type ServiceProvider struct {
	Name         string `koanf:"name"`
	TenantDomain string `koanf:"tenant_domain"`

	ClaimMappings []ClaimMapping `koanf:"claim_mappings"`

	// SubjectClaimURI names the claim used as the subject. It may be a
	// remote claim URI, in which case it is translated through ClaimMappings.
	SubjectClaimURI string `koanf:"subject_claim_uri"`

	RoleMappings []RoleMapping `koanf:"role_mappings"`

	// UserInfoSigned requests UserInfo responses as signed JWTs
	UserInfoSigned bool `koanf:"userinfo_signed"`
}

// App is an OAuth client registration
type App struct {
	ClientID        string `koanf:"client_id"`
	TenantDomain    string `koanf:"tenant_domain"`
	ServiceProvider string `koanf:"service_provider"`
}

// Registry resolves client registrations and service providers
type Registry interface {
	// AppByClientID returns the app registered under clientID, or ErrInvalidClient
	AppByClientID(ctx context.Context, clientID string) (*App, error)

	// ServiceProvider returns the service provider of clientID in tenantDomain
	ServiceProvider(ctx context.Context, clientID, tenantDomain string) (*ServiceProvider, error)
}

// SubjectClaimURI returns the local claim URI holding the subject.
// When a claim mapping's remote claim equals the configured subject claim,
// its local claim is used instead. Empty when no subject claim is configured.
func SubjectClaimURI(s *ServiceProvider) string {
	subject := s.SubjectClaimURI
	if subject == "" {
		return ""
	}
	for _, m := range s.ClaimMappings {
		if m.RemoteClaim.URI == subject {
			return m.LocalClaim.URI
		}
	}
	return subject
}

// RequestedLocalClaims returns the local claim URIs of requested mappings,
// in mapping order.
func RequestedLocalClaims(s *ServiceProvider) []string {
	var uris []string
	for _, m := range s.ClaimMappings {
		if m.Requested {
			uris = append(uris, m.LocalClaim.URI)
		}
	}
	return uris
}

// MappedUserRoles renames roles through the service provider's role
// mappings and joins them with separator. Roles without a mapping keep
// their local name.
func MappedUserRoles(s *ServiceProvider, roles []string, separator string) string {
	if len(roles) == 0 {
		return ""
	}
	remote := make(map[string]string, len(s.RoleMappings))
	for _, m := range s.RoleMappings {
		remote[m.LocalRole] = m.RemoteRole
	}

	seen := make(map[string]struct{}, len(roles))
	mapped := make([]string, 0, len(roles))
	for _, role := range roles {
		name := role
		if r, ok := remote[role]; ok && r != "" {
			name = r
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		mapped = append(mapped, name)
	}
	return strings.Join(mapped, separator)
}
