package config

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/dialect"
	"github.com/project-kessel/userinfo/internal/fs"
	luaservices "github.com/project-kessel/userinfo/internal/lua"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/userstore"
)

// DBFunc opens the shared database on first use
type DBFunc func() (*sql.DB, error)

// NewTokenStore creates the access token store
func NewTokenStore(ctx context.Context, cfg TokenStoreConfig, db DBFunc, clk clock.Clock) (token.Store, error) {
	switch cfg.Type {
	case "memory", "":
		store := token.NewMemoryStore()
		if err := seedTokens(ctx, store, cfg.Tokens, clk); err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		conn, err := db()
		if err != nil {
			return nil, err
		}
		store, err := token.NewPostgresStore(conn)
		if err != nil {
			return nil, err
		}
		if err := seedTokens(ctx, store, cfg.Tokens, clk); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown token store type: %s (supported: memory, postgres)", cfg.Type)
	}
}

func seedTokens(ctx context.Context, store token.Store, tokens []AccessTokenConfig, clk clock.Clock) error {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	now := clk.Now()
	for _, t := range tokens {
		if t.TokenID == "" {
			return fmt.Errorf("access token requires token_id")
		}
		tenant := t.TenantDomain
		if tenant == "" {
			tenant = sp.DefaultTenant
		}
		record := &token.AccessToken{
			TokenIdentifier: t.TokenID,
			ConsumerKey:     t.ConsumerKey,
			AuthzUser: token.AuthenticatedUser{
				UserID:          t.UserID,
				Username:        t.Username,
				TenantDomain:    tenant,
				UserStoreDomain: t.UserStoreDomain,
				Federated:       t.Federated,
				FederatedIdP:    t.FederatedIdP,
			},
			Scope:    t.Scope,
			IssuedAt: now,
			Active:   !t.Inactive,
		}
		if t.ExpiresIn != "" {
			d, err := time.ParseDuration(t.ExpiresIn)
			if err != nil {
				return fmt.Errorf("invalid expires_in for token %s: %w", t.TokenID, err)
			}
			record.ExpiresAt = now.Add(d)
		}
		if err := store.Put(ctx, record); err != nil {
			return fmt.Errorf("failed to store token %s: %w", t.TokenID, err)
		}
	}
	return nil
}

// NewRegistry creates the service provider registry
func NewRegistry(providers []sp.ServiceProvider, apps []sp.App) (*sp.MemoryRegistry, error) {
	registry := sp.NewMemoryRegistry()
	for i := range providers {
		s := providers[i]
		if s.Name == "" {
			return nil, fmt.Errorf("service provider %d requires name", i)
		}
		if s.TenantDomain == "" {
			s.TenantDomain = sp.DefaultTenant
		}
		registry.AddServiceProvider(&s)
	}
	for i := range apps {
		a := apps[i]
		if a.TenantDomain == "" {
			a.TenantDomain = sp.DefaultTenant
		}
		if err := registry.AddApp(&a); err != nil {
			return nil, fmt.Errorf("application %s: %w", a.ClientID, err)
		}
	}
	return registry, nil
}

// NewDialectHandler creates the dialect handler. The standard OIDC
// mappings of the default tenant are always present; configured dialects
// add to them or override them.
func NewDialectHandler(dialects []DialectConfig) *dialect.MemoryHandler {
	handler := dialect.NewMemoryHandler()
	handler.Add(dialect.DefaultTenant, dialect.OIDC, dialect.StandardOIDC()...)
	for _, d := range dialects {
		tenant := d.TenantDomain
		if tenant == "" {
			tenant = dialect.DefaultTenant
		}
		name := d.Dialect
		if name == "" {
			name = dialect.OIDC
		}
		handler.Add(tenant, name, d.Mappings...)
	}
	return handler
}

// RealmDeps are shared dependencies of user stores
type RealmDeps struct {
	DB        DBFunc
	Transport http.RoundTripper
	FS        fs.FileSystem
}

// NewRealms builds a realm per tenant from the configured user stores.
// A tenant without a primary store gets an empty in-memory one.
func NewRealms(cfgs []UserStoreConfig, deps RealmDeps) (*userstore.RealmRegistry, error) {
	if deps.FS == nil {
		deps.FS = fs.NewOSFileSystem()
	}

	type domainStore struct {
		domain  string
		manager userstore.Manager
		cfg     userstore.RealmConfig
	}
	byTenant := make(map[string][]domainStore)
	var tenants []string

	for i, c := range cfgs {
		tenant := c.TenantDomain
		if tenant == "" {
			tenant = sp.DefaultTenant
		}
		domain := strings.ToUpper(c.Domain)
		if domain == "" {
			domain = userstore.PrimaryDomain
		}
		realmCfg := userstore.RealmConfig{MultiAttributeSeparator: c.MultiAttributeSeparator}

		manager, err := newUserStore(tenant, domain, c, realmCfg, deps)
		if err != nil {
			return nil, fmt.Errorf("user store %d (%s/%s): %w", i, tenant, domain, err)
		}
		if _, ok := byTenant[tenant]; !ok {
			tenants = append(tenants, tenant)
		}
		byTenant[tenant] = append(byTenant[tenant], domainStore{domain: domain, manager: manager, cfg: realmCfg})
	}

	registry := userstore.NewRealmRegistry()
	for _, tenant := range tenants {
		var realm *userstore.StaticRealm
		for _, s := range byTenant[tenant] {
			if s.domain == userstore.PrimaryDomain {
				realm = userstore.NewStaticRealm(s.manager, s.cfg)
			}
		}
		if realm == nil {
			realm = userstore.NewStaticRealm(userstore.NewMemoryStore(userstore.RealmConfig{}), userstore.RealmConfig{})
		}
		for _, s := range byTenant[tenant] {
			if s.domain != userstore.PrimaryDomain {
				realm.WithSecondary(s.domain, s.manager, s.cfg)
			}
		}
		registry.Register(tenant, realm)
	}
	return registry, nil
}

func newUserStore(tenant, domain string, c UserStoreConfig, realmCfg userstore.RealmConfig, deps RealmDeps) (userstore.Manager, error) {
	switch c.Type {
	case "memory", "":
		users := make([]userstore.User, 0, len(c.Users))
		for _, u := range c.Users {
			if u.ID == "" {
				return nil, fmt.Errorf("user requires id")
			}
			users = append(users, userstore.User{ID: u.ID, Claims: u.Claims})
		}
		return userstore.NewMemoryStore(realmCfg, users...), nil
	case "postgres":
		if deps.DB == nil {
			return nil, fmt.Errorf("postgres user store requires a database")
		}
		db, err := deps.DB()
		if err != nil {
			return nil, err
		}
		return userstore.NewPostgresStore(db, tenant, domain, realmCfg)
	case "lua":
		return newLuaUserStore(c, realmCfg, deps)
	default:
		return nil, fmt.Errorf("unknown user store type: %s (supported: memory, postgres, lua)", c.Type)
	}
}

func newLuaUserStore(c UserStoreConfig, realmCfg userstore.RealmConfig, deps RealmDeps) (userstore.Manager, error) {
	script := c.Script
	if script == "" && c.ScriptFile != "" {
		b, err := deps.FS.ReadFile(c.ScriptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read script_file: %w", err)
		}
		script = string(b)
	}

	httpCfg := luaservices.HTTPServiceConfig{Transport: deps.Transport}
	if c.HTTP != nil {
		if c.HTTP.Timeout != "" {
			d, err := time.ParseDuration(c.HTTP.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid http.timeout: %w", err)
			}
			httpCfg.Timeout = d
		}
		httpCfg.MaxBodyBytes = c.HTTP.MaxBodyBytes
	}

	return userstore.NewLuaStore(userstore.LuaStoreConfig{
		Script:       script,
		ConfigSource: luaservices.NewMapConfigSource(c.Config),
		HTTPConfig:   httpCfg,
		Realm:        realmCfg,
	})
}
