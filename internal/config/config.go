package config

import (
	"github.com/project-kessel/userinfo/internal/dialect"
	"github.com/project-kessel/userinfo/internal/sp"
)

// Config is the root configuration of a userinfo instance
type Config struct {
	Server ServerConfig `koanf:"server"`

	// Issuer is the iss of signed UserInfo responses
	Issuer string `koanf:"issuer"`

	Claims     ClaimsConfig      `koanf:"claims"`
	GrantCache GrantCacheConfig  `koanf:"grant_cache"`
	TokenStore TokenStoreConfig  `koanf:"token_store"`
	UserStores []UserStoreConfig `koanf:"user_stores"`

	ServiceProviders []sp.ServiceProvider `koanf:"service_providers"`
	Applications     []sp.App             `koanf:"applications"`
	Dialects         []DialectConfig      `koanf:"dialects"`

	Trust   TrustConfig   `koanf:"trust"`
	Signing SigningConfig `koanf:"signing"`

	AuthzServer   *AuthzServerConfig   `koanf:"authz_server"`
	Observability *ObservabilityConfig `koanf:"observability"`
	Database      DatabaseConfig       `koanf:"database"`

	// Fixtures replace outbound HTTP with canned responses for hermetic runs
	Fixtures []FixtureConfig `koanf:"fixtures"`
}

// ServerConfig configures the listeners
type ServerConfig struct {
	GRPCPort int `koanf:"grpc_port"`
	HTTPPort int `koanf:"http_port"`
}

// ClaimsConfig configures claim resolution
type ClaimsConfig struct {
	// MultiAttributeSeparator joins multi-valued attributes held in the
	// grant cache
	MultiAttributeSeparator string `koanf:"multi_attribute_separator"`

	// SPDialect is the dialect claims are returned in
	SPDialect string `koanf:"sp_dialect"`

	RoleClaims []string `koanf:"role_claims"`

	MapFederatedUsersToLocal bool `koanf:"map_federated_users_to_local"`

	Retriever RetrieverConfig `koanf:"retriever"`
}

// RetrieverConfig selects how cached grant attributes become claims
type RetrieverConfig struct {
	// Type is "default" or "cel"
	Type string `koanf:"type"`

	// Script is the CEL expression for the cel retriever
	Script string `koanf:"script"`
}

// GrantCacheConfig configures the authorization grant attribute cache
type GrantCacheConfig struct {
	// Type is "in_memory", "distributed" or "none"
	Type string `koanf:"type"`

	// TTL as a duration string (e.g. "15m")
	TTL string `koanf:"ttl"`

	// CleanupInterval for the in_memory cache (default: TTL)
	CleanupInterval string `koanf:"cleanup_interval"`

	// GroupName of the distributed cache
	GroupName string `koanf:"group_name"`

	// CacheSize of the distributed cache's local share in bytes
	CacheSize int64 `koanf:"cache_size"`

	// Self is this instance's peer URL, e.g. http://10.0.0.1:8080
	Self string `koanf:"self"`

	// Peers are the base URLs of every instance in the group, self included
	Peers []string `koanf:"peers"`

	// Entries seed the cache
	Entries []GrantEntryConfig `koanf:"entries"`
}

// GrantEntryConfig is a cached grant
type GrantEntryConfig struct {
	TokenID    string                 `koanf:"token_id"`
	Subject    string                 `koanf:"subject"`
	Attributes []GrantAttributeConfig `koanf:"attributes"`
}

// GrantAttributeConfig is one cached attribute
type GrantAttributeConfig struct {
	Claim sp.ClaimMapping `koanf:"claim"`
	Value string          `koanf:"value"`
}

// TokenStoreConfig configures where access token records are read from
type TokenStoreConfig struct {
	// Type is "memory" or "postgres"
	Type string `koanf:"type"`

	// Tokens seed the memory store
	Tokens []AccessTokenConfig `koanf:"tokens"`
}

// AccessTokenConfig is an access token record
type AccessTokenConfig struct {
	TokenID     string   `koanf:"token_id"`
	ConsumerKey string   `koanf:"consumer_key"`
	Scope       []string `koanf:"scope"`

	UserID          string `koanf:"user_id"`
	Username        string `koanf:"username"`
	TenantDomain    string `koanf:"tenant_domain"`
	UserStoreDomain string `koanf:"user_store_domain"`
	Federated       bool   `koanf:"federated"`
	FederatedIdP    string `koanf:"federated_idp"`

	// ExpiresIn as a duration string; empty never expires
	ExpiresIn string `koanf:"expires_in"`

	// Inactive marks a revoked token
	Inactive bool `koanf:"inactive"`
}

// UserStoreConfig configures one user store of a tenant's realm
type UserStoreConfig struct {
	TenantDomain string `koanf:"tenant_domain"`

	// Domain is the user store domain; empty is the primary store
	Domain string `koanf:"domain"`

	// Type is "memory", "postgres" or "lua"
	Type string `koanf:"type"`

	MultiAttributeSeparator string `koanf:"multi_attribute_separator"`

	// Users seed a memory store
	Users []UserConfig `koanf:"users"`

	// Script or ScriptFile holds the lua store's fetch_claims script
	Script     string `koanf:"script"`
	ScriptFile string `koanf:"script_file"`

	// Config is exposed to scripts through config.get
	Config map[string]any `koanf:"config"`

	HTTP *LuaHTTPConfig `koanf:"http"`
}

// UserConfig is a user of a memory store
type UserConfig struct {
	ID     string              `koanf:"id"`
	Claims map[string][]string `koanf:"claims"`
}

// LuaHTTPConfig configures the http module of lua scripts
type LuaHTTPConfig struct {
	Timeout      string `koanf:"timeout"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`
}

// DialectConfig adds claim mappings of a dialect for a tenant
type DialectConfig struct {
	TenantDomain string            `koanf:"tenant_domain"`
	Dialect      string            `koanf:"dialect"`
	Mappings     []dialect.Mapping `koanf:"mappings"`
}

// TrustConfig configures bearer token validation
type TrustConfig struct {
	Validators []ValidatorConfig `koanf:"validators"`
}

// ValidatorConfig configures one validator
type ValidatorConfig struct {
	// Type is "token_store", "jwt" or "stub"
	Type string `koanf:"type"`

	// jwt
	Issuer          string `koanf:"issuer"`
	JWKSURL         string `koanf:"jwks_url"`
	TenantDomain    string `koanf:"tenant_domain"`
	Federated       bool   `koanf:"federated"`
	RefreshInterval string `koanf:"refresh_interval"`

	// stub
	CredentialTypes []string `koanf:"credential_types"`
}

// SigningConfig configures signed UserInfo responses
type SigningConfig struct {
	Enabled   bool   `koanf:"enabled"`
	KeyType   string `koanf:"key_type"`
	Algorithm string `koanf:"algorithm"`

	// Retain is how many retired keys stay published
	Retain int `koanf:"retain"`

	// KeyFile persists keys across restarts; empty keeps them in memory
	KeyFile string `koanf:"key_file"`

	// RotationInterval as a duration string; empty disables rotation
	RotationInterval string `koanf:"rotation_interval"`

	// JWKSRefreshInterval is how often the published key set is rebuilt
	JWKSRefreshInterval string `koanf:"jwks_refresh_interval"`
}

// AuthzServerConfig configures the ext_authz server
type AuthzServerConfig struct {
	ClaimsHeader string   `koanf:"claims_header"`
	AllowClaims  []string `koanf:"allow_claims"`
	DenyClaims   []string `koanf:"deny_claims"`
}

// ObservabilityConfig configures logging and observers
type ObservabilityConfig struct {
	// Type is "logging", "noop" or "composite"
	Type string `koanf:"type"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// LogUserClaims logs claim values instead of only claim names
	LogUserClaims bool `koanf:"log_user_claims"`

	ClaimResolution *EventConfig `koanf:"claim_resolution"`
	UserInfoRequest *EventConfig `koanf:"userinfo_request"`
	AuthzCheck      *EventConfig `koanf:"authz_check"`

	// Observers of a composite observer
	Observers []ObservabilityConfig `koanf:"observers"`
}

// EventConfig overrides logging of one event
type EventConfig struct {
	Enabled  *bool  `koanf:"enabled"`
	LogLevel string `koanf:"log_level"`
}

// DatabaseConfig configures the PostgreSQL connection
type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

// FixtureConfig is a canned HTTP response or a JWKS identity provider
type FixtureConfig struct {
	// Type is "http_rule" or "jwks"
	Type string `koanf:"type"`

	// http_rule
	Method  string            `koanf:"method"`
	URL     string            `koanf:"url"`
	Status  int               `koanf:"status"`
	Headers map[string]string `koanf:"headers"`
	Body    string            `koanf:"body"`

	// jwks
	Issuer  string `koanf:"issuer"`
	JWKSURL string `koanf:"jwks_url"`
	KeyID   string `koanf:"key_id"`
}
