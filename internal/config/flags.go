package config

import (
	"github.com/spf13/pflag"
)

// flagSpec describes a command-line flag that overrides a config key
type flagSpec struct {
	name      string
	configKey string
	kind      string // string, int, bool, strings
	usage     string
}

var configFlags = []flagSpec{
	{"server-grpc-port", "server.grpc_port", "int", "gRPC listen port (ext_authz, health)"},
	{"server-http-port", "server.http_port", "int", "HTTP listen port (userinfo, JWKS, health)"},
	{"issuer", "issuer", "string", "iss of signed UserInfo responses"},
	{"claims-multi-attribute-separator", "claims.multi_attribute_separator", "string", "separator of multi-valued attributes in the grant cache"},
	{"claims-sp-dialect", "claims.sp_dialect", "string", "claim dialect of returned claims"},
	{"claims-role-claims", "claims.role_claims", "strings", "local claims remapped through service provider role mappings"},
	{"claims-map-federated-users-to-local", "claims.map_federated_users_to_local", "bool", "read federated users from the local user store"},
	{"claims-retriever-type", "claims.retriever.type", "string", "grant cache claim retriever: default or cel"},
	{"grant-cache-type", "grant_cache.type", "string", "grant cache: in_memory, distributed or none"},
	{"grant-cache-ttl", "grant_cache.ttl", "string", "grant cache entry lifetime"},
	{"grant-cache-self", "grant_cache.self", "string", "this instance's distributed cache peer URL"},
	{"grant-cache-peers", "grant_cache.peers", "strings", "distributed cache peer URLs"},
	{"token-store-type", "token_store.type", "string", "access token store: memory or postgres"},
	{"signing-enabled", "signing.enabled", "bool", "sign UserInfo responses for service providers that request it"},
	{"signing-key-type", "signing.key_type", "string", "signing key type (EC-P256, EC-P384, RSA-2048, RSA-4096)"},
	{"signing-key-file", "signing.key_file", "string", "file persisting signing keys"},
	{"database-dsn", "database.dsn", "string", "PostgreSQL connection string"},
	{"log-level", "observability.log_level", "string", "log level: debug, info, warn or error"},
	{"log-format", "observability.log_format", "string", "log format: json or text"},
}

// RegisterFlags adds a flag for every overridable config key. Defaults are
// left empty so that only explicitly set flags override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, f := range configFlags {
		if fs.Lookup(f.name) != nil {
			continue
		}
		switch f.kind {
		case "int":
			fs.Int(f.name, 0, f.usage)
		case "bool":
			fs.Bool(f.name, false, f.usage)
		case "strings":
			fs.StringSlice(f.name, nil, f.usage)
		default:
			fs.String(f.name, "", f.usage)
		}
	}
}

// GetFlagMapping returns flag name -> config key
func GetFlagMapping() map[string]string {
	m := make(map[string]string, len(configFlags))
	for _, f := range configFlags {
		m[f.name] = f.configKey
	}
	return m
}
