package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/database"
	"github.com/project-kessel/userinfo/internal/dialect"
	"github.com/project-kessel/userinfo/internal/fs"
	"github.com/project-kessel/userinfo/internal/httpfixture"
	"github.com/project-kessel/userinfo/internal/retriever"
	"github.com/project-kessel/userinfo/internal/server"
	"github.com/project-kessel/userinfo/internal/service"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
	"github.com/project-kessel/userinfo/internal/userstore"
)

// Provider constructs all application components from configuration
// This is the main entry point for building a configured userinfo instance
type Provider struct {
	config *Config

	clock  clock.Clock
	fs     fs.FileSystem
	logger *slog.Logger

	// Lazily constructed components (cached after first call)
	db                  *sql.DB
	tokenStore          token.Store
	trustStore          trust.Store
	registry            *sp.MemoryRegistry
	dialects            *dialect.MemoryHandler
	realms              *userstore.RealmRegistry
	grantCache          *GrantCache
	retriever           retriever.Retriever
	resolver            *service.ClaimResolver
	signing             *Signing
	signingBuilt        bool
	userInfoService     *service.UserInfoService
	httpFixtureProvider httpfixture.FixtureProvider
	httpFixtureBuilt    bool
	observer            service.ApplicationObserver
}

// NewProvider creates a new provider from configuration
func NewProvider(config *Config) *Provider {
	return &Provider{
		config: config,
		clock:  clock.NewSystemClock(),
		fs:     fs.NewOSFileSystem(),
	}
}

// SetClock sets the time source of every component. Must be called before
// any component is built.
func (p *Provider) SetClock(clk clock.Clock) {
	p.clock = clk
}

// SetFileSystem sets the filesystem used for key files and scripts
func (p *Provider) SetFileSystem(filesystem fs.FileSystem) {
	p.fs = filesystem
}

// SetLogger sets the logger of components that log directly
func (p *Provider) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

// Logger returns the configured logger
func (p *Provider) Logger() *slog.Logger {
	if p.logger == nil {
		p.logger = NewLogger(p.config.Observability)
	}
	return p.logger
}

// SetObserver sets the application observer for all components built by this provider.
// Must be called before ClaimResolver() or any method that depends on the observer.
func (p *Provider) SetObserver(observer service.ApplicationObserver) {
	p.observer = observer
}

// Observer returns the configured application observer.
// If SetObserver was called, returns that observer.
// Otherwise, creates a default observer from config.
func (p *Provider) Observer() (service.ApplicationObserver, error) {
	if p.observer != nil {
		return p.observer, nil
	}

	// Build from config (fallback when SetObserver was not called)
	observer, err := NewObserverWithLogger(p.config.Observability, p.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}

	p.observer = observer
	return observer, nil
}

// DB returns the shared database connection, opening it on first use
func (p *Provider) DB(ctx context.Context) (*sql.DB, error) {
	if p.db != nil {
		return p.db, nil
	}

	db, err := database.Open(ctx, p.config.Database.DSN)
	if err != nil {
		return nil, err
	}

	p.db = db
	return db, nil
}

func (p *Provider) dbFunc(ctx context.Context) DBFunc {
	return func() (*sql.DB, error) {
		return p.DB(ctx)
	}
}

// Close releases the database connection
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// TokenStore returns the configured access token store
func (p *Provider) TokenStore(ctx context.Context) (token.Store, error) {
	if p.tokenStore != nil {
		return p.tokenStore, nil
	}

	store, err := NewTokenStore(ctx, p.config.TokenStore, p.dbFunc(ctx), p.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	p.tokenStore = store
	return store, nil
}

// TrustStore returns the configured trust store
func (p *Provider) TrustStore(ctx context.Context) (trust.Store, error) {
	if p.trustStore != nil {
		return p.trustStore, nil
	}

	tokens, err := p.TokenStore(ctx)
	if err != nil {
		return nil, err
	}

	store, err := NewTrustStore(ctx, p.config.Trust, tokens, p.HTTPTransport(), p.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create trust store: %w", err)
	}

	p.trustStore = store
	return store, nil
}

// Registry returns the service provider registry
func (p *Provider) Registry() (*sp.MemoryRegistry, error) {
	if p.registry != nil {
		return p.registry, nil
	}

	registry, err := NewRegistry(p.config.ServiceProviders, p.config.Applications)
	if err != nil {
		return nil, fmt.Errorf("failed to create service provider registry: %w", err)
	}

	p.registry = registry
	return registry, nil
}

// Dialects returns the claim dialect handler
func (p *Provider) Dialects() *dialect.MemoryHandler {
	if p.dialects == nil {
		p.dialects = NewDialectHandler(p.config.Dialects)
	}
	return p.dialects
}

// Realms returns the user store realms of every configured tenant
func (p *Provider) Realms(ctx context.Context) (*userstore.RealmRegistry, error) {
	if p.realms != nil {
		return p.realms, nil
	}

	realms, err := NewRealms(p.config.UserStores, RealmDeps{
		DB:        p.dbFunc(ctx),
		Transport: p.HTTPTransport(),
		FS:        p.fs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user stores: %w", err)
	}

	p.realms = realms
	return realms, nil
}

// GrantCache returns the authorization grant cache
func (p *Provider) GrantCache(ctx context.Context) (*GrantCache, error) {
	if p.grantCache != nil {
		return p.grantCache, nil
	}

	cache, err := NewGrantCache(ctx, p.config.GrantCache, p.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant cache: %w", err)
	}

	p.grantCache = cache
	return cache, nil
}

// Retriever returns the claim retriever for cached grants
func (p *Provider) Retriever() (retriever.Retriever, error) {
	if p.retriever != nil {
		return p.retriever, nil
	}

	r, err := NewRetriever(p.config.Claims)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim retriever: %w", err)
	}

	p.retriever = r
	return r, nil
}

// ClaimResolver returns the configured claim resolver
func (p *Provider) ClaimResolver(ctx context.Context) (*service.ClaimResolver, error) {
	if p.resolver != nil {
		return p.resolver, nil
	}

	cache, err := p.GrantCache(ctx)
	if err != nil {
		return nil, err
	}
	ret, err := p.Retriever()
	if err != nil {
		return nil, err
	}
	tokens, err := p.TokenStore(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := p.Registry()
	if err != nil {
		return nil, err
	}
	realms, err := p.Realms(ctx)
	if err != nil {
		return nil, err
	}
	observer, err := p.Observer()
	if err != nil {
		return nil, fmt.Errorf("failed to get observer: %w", err)
	}

	resolver, err := service.NewClaimResolver(service.ClaimResolverConfig{
		GrantCache:               cache.Cache,
		Retriever:                ret,
		Tokens:                   tokens,
		Registry:                 registry,
		Dialects:                 p.Dialects(),
		Realms:                   realms,
		SPDialect:                p.config.Claims.SPDialect,
		RoleClaims:               p.config.Claims.RoleClaims,
		MapFederatedUsersToLocal: p.config.Claims.MapFederatedUsersToLocal,
		Observer:                 observer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create claim resolver: %w", err)
	}

	p.resolver = resolver
	return resolver, nil
}

// Signing returns the signing key ring, or nil when signing is disabled
func (p *Provider) Signing(ctx context.Context) (*Signing, error) {
	if p.signingBuilt {
		return p.signing, nil
	}

	signing, err := NewSigning(ctx, p.config.Signing, p.fs, p.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing keys: %w", err)
	}

	p.signing = signing
	p.signingBuilt = true
	return signing, nil
}

// UserInfoService returns the UserInfo service
func (p *Provider) UserInfoService(ctx context.Context) (*service.UserInfoService, error) {
	if p.userInfoService != nil {
		return p.userInfoService, nil
	}

	trustStore, err := p.TrustStore(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := p.ClaimResolver(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := p.Registry()
	if err != nil {
		return nil, err
	}
	signing, err := p.Signing(ctx)
	if err != nil {
		return nil, err
	}
	observer, err := p.Observer()
	if err != nil {
		return nil, fmt.Errorf("failed to get observer: %w", err)
	}

	cfg := service.UserInfoServiceConfig{
		Trust:    trustStore,
		Resolver: resolver,
		Registry: registry,
		Issuer:   p.config.Issuer,
		Clock:    p.clock,
		Observer: observer,
	}
	if signing != nil {
		cfg.Signer = signing.Ring
	}

	svc, err := service.NewUserInfoService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	p.userInfoService = svc
	return svc, nil
}

// AuthzServer returns the ext_authz server, or nil when it is not configured
func (p *Provider) AuthzServer(ctx context.Context) (*server.AuthzServer, error) {
	cfg := p.config.AuthzServer
	if cfg == nil {
		return nil, nil
	}

	trustStore, err := p.TrustStore(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := p.ClaimResolver(ctx)
	if err != nil {
		return nil, err
	}
	observer, err := p.Observer()
	if err != nil {
		return nil, fmt.Errorf("failed to get observer: %w", err)
	}

	return server.NewAuthzServer(server.AuthzServerConfig{
		TrustStore:   trustStore,
		Resolver:     resolver,
		ClaimsHeader: cfg.ClaimsHeader,
		Filter:       claims.NewFilter(cfg.AllowClaims, cfg.DenyClaims),
		Observer:     observer,
	}), nil
}

// ServerConfig returns the server configuration with every handler wired
func (p *Provider) ServerConfig(ctx context.Context) (server.Config, error) {
	svc, err := p.UserInfoService(ctx)
	if err != nil {
		return server.Config{}, err
	}
	authz, err := p.AuthzServer(ctx)
	if err != nil {
		return server.Config{}, err
	}
	signing, err := p.Signing(ctx)
	if err != nil {
		return server.Config{}, err
	}
	cache, err := p.GrantCache(ctx)
	if err != nil {
		return server.Config{}, err
	}

	cfg := server.Config{
		GRPCPort:    p.config.Server.GRPCPort,
		HTTPPort:    p.config.Server.HTTPPort,
		AuthzServer: authz,
		UserInfo:    server.NewUserInfoHandler(svc, p.Logger()),
		CachePeers:  cache.Peers,
		Logger:      p.Logger(),
	}
	if signing != nil {
		cfg.JWKS = server.NewJWKSHandler(server.JWKSHandlerConfig{
			Signer:          signing.Ring,
			RefreshInterval: signing.JWKSRefreshInterval,
			Clock:           p.clock,
			Logger:          p.Logger(),
		})
	}
	return cfg, nil
}

// HTTPTransport returns an HTTP RoundTripper configured with fixtures if available
// Returns nil if no special transport is needed (caller should use http.DefaultTransport)
func (p *Provider) HTTPTransport() http.RoundTripper {
	fixtureProvider := p.HTTPFixtureProvider()
	if fixtureProvider == nil {
		return nil
	}
	return httpfixture.NewTransport(httpfixture.TransportConfig{
		Provider: fixtureProvider,
		Strict:   true,
	})
}

// HTTPFixtureProvider returns the fixture provider for hermetic testing
// Returns nil if no fixtures are configured (normal production mode)
func (p *Provider) HTTPFixtureProvider() httpfixture.FixtureProvider {
	if p.httpFixtureBuilt {
		return p.httpFixtureProvider
	}

	provider, err := BuildHTTPFixtureProvider(p.config.Fixtures, p.clock)
	if err != nil {
		// In production mode, fixture errors should fail fast
		// This is a configuration error, not a runtime error
		panic(fmt.Sprintf("failed to build HTTP fixture provider: %v", err))
	}

	p.httpFixtureProvider = provider
	p.httpFixtureBuilt = true
	return p.httpFixtureProvider
}
