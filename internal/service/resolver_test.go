package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/dialect"
	"github.com/project-kessel/userinfo/internal/grantcache"
	"github.com/project-kessel/userinfo/internal/oauth"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/userstore"
)

const (
	claimUserID    = "http://wso2.org/claims/userid"
	claimEmail     = "http://wso2.org/claims/emailaddress"
	claimGivenName = "http://wso2.org/claims/givenname"
	claimLastName  = "http://wso2.org/claims/lastname"
	claimRole      = "http://wso2.org/claims/role"
	claimMobile    = "http://wso2.org/claims/mobile"
)

// countingManager counts user store reads
type countingManager struct {
	userstore.Manager
	calls atomic.Int32
}

func (m *countingManager) UserClaimValues(ctx context.Context, userID string, claimURIs []string) (map[string]string, error) {
	m.calls.Add(1)
	return m.Manager.UserClaimValues(ctx, userID, claimURIs)
}

type managerFunc func(ctx context.Context, userID string, claimURIs []string) (map[string]string, error)

func (f managerFunc) UserClaimValues(ctx context.Context, userID string, claimURIs []string) (map[string]string, error) {
	return f(ctx, userID, claimURIs)
}

type failingCache struct{ grantcache.Noop }

func (failingCache) Get(ctx context.Context, tokenID string) (*grantcache.Entry, error) {
	return nil, errors.New("cache unavailable")
}

func mapping(local, remote string, requested bool) sp.ClaimMapping {
	return sp.ClaimMapping{LocalClaim: sp.Claim{URI: local}, RemoteClaim: sp.Claim{URI: remote}, Requested: requested}
}

type resolverFixture struct {
	registry *sp.MemoryRegistry
	realms   *userstore.RealmRegistry
	store    *countingManager
	cache    *grantcache.Memory
	tokens   *token.MemoryStore
	observer *FakeObserver
	config   ClaimResolverConfig
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	registry := sp.NewMemoryRegistry()
	registry.AddServiceProvider(&sp.ServiceProvider{
		Name:            "portal",
		SubjectClaimURI: "email",
		ClaimMappings: []sp.ClaimMapping{
			mapping(claimEmail, "email", true),
			mapping(claimGivenName, "given_name", true),
			mapping(claimRole, "roles", true),
			mapping(claimMobile, "phone_number", true),
			mapping(claimLastName, "family_name", false),
		},
		RoleMappings: []sp.RoleMapping{{LocalRole: "admin", RemoteRole: "portal-admin"}},
	})
	registry.AddServiceProvider(&sp.ServiceProvider{
		Name:            "reports",
		SubjectClaimURI: claimLastName,
		ClaimMappings:   []sp.ClaimMapping{mapping(claimGivenName, "given_name", true)},
	})
	registry.AddServiceProvider(&sp.ServiceProvider{Name: "bare"})
	require.NoError(t, registry.AddApp(&sp.App{ClientID: "portal-client", ServiceProvider: "portal"}))
	require.NoError(t, registry.AddApp(&sp.App{ClientID: "reports-client", ServiceProvider: "reports"}))
	require.NoError(t, registry.AddApp(&sp.App{ClientID: "bare-client", ServiceProvider: "bare"}))

	dialects := dialect.NewMemoryHandler()
	dialects.Add("", dialect.OIDC, dialect.StandardOIDC()...)

	store := &countingManager{Manager: userstore.NewMemoryStore(userstore.RealmConfig{},
		userstore.User{ID: "u-1", Claims: map[string][]string{
			claimEmail:     {"alice@example.com"},
			claimGivenName: {"Alice"},
			claimLastName:  {"Smith"},
			claimRole:      {"admin", "dev"},
			claimMobile:    {"+1-555-0100"},
		}},
		userstore.User{ID: "u-2", Claims: map[string][]string{
			claimGivenName: {"Bob"},
		}},
	)}
	realms := userstore.NewRealmRegistry()
	realms.Register(sp.DefaultTenant, userstore.NewStaticRealm(store, userstore.RealmConfig{}))

	cache := grantcache.NewMemory(time.Hour)
	tokens := token.NewMemoryStore()
	observer := NewFakeObserver(t)

	return &resolverFixture{
		registry: registry,
		realms:   realms,
		store:    store,
		cache:    cache,
		tokens:   tokens,
		observer: observer,
		config: ClaimResolverConfig{
			GrantCache: cache,
			Tokens:     tokens,
			Registry:   registry,
			Dialects:   dialects,
			Realms:     realms,
			Observer:   observer,
		},
	}
}

func (f *resolverFixture) resolver(t *testing.T) *ClaimResolver {
	t.Helper()
	r, err := NewClaimResolver(f.config)
	require.NoError(t, err)
	return r
}

func validResult(userID, clientID string) *token.ValidationResult {
	return &token.ValidationResult{
		Valid:           true,
		TokenIdentifier: "tok-" + userID,
		AuthorizedUser:  "PRIMARY/alice@carbon.super",
		User: &token.AuthenticatedUser{
			UserID:       userID,
			Username:     "PRIMARY/alice",
			TenantDomain: sp.DefaultTenant,
		},
		ClientID: clientID,
	}
}

func TestClaimResolver_UserStore(t *testing.T) {
	ctx := context.Background()

	t.Run("maps requested claims into the OIDC dialect", func(t *testing.T) {
		f := newResolverFixture(t)
		got, err := f.resolver(t).Resolve(ctx, validResult("u-1", "portal-client"))
		require.NoError(t, err)

		assert.Equal(t, claims.Claims{
			"sub":          "alice@example.com",
			"email":        "alice@example.com",
			"given_name":   "Alice",
			"roles":        []string{"portal-admin", "dev"},
			"phone_number": "+1-555-0100",
		}, got)
		assert.Equal(t, int32(1), f.store.calls.Load())

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		probe.AssertProbeSequence(
			"CacheMiss",
			ProbeCall("ClaimsRequested", "portal-client", []string{claimEmail, claimGivenName, claimRole, claimMobile}),
			"ClaimsResolved",
			"End",
		)
	})

	t.Run("unrequested subject claim only sets sub", func(t *testing.T) {
		f := newResolverFixture(t)
		got, err := f.resolver(t).Resolve(ctx, validResult("u-1", "reports-client"))
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "Smith", "given_name": "Alice"}, got)
	})

	t.Run("sub falls back to username without domain and tenant", func(t *testing.T) {
		f := newResolverFixture(t)
		got, err := f.resolver(t).Resolve(ctx, validResult("u-2", "reports-client"))
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice", "given_name": "Bob"}, got)

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		assert.Equal(t, []any{"alice"}, probe.Args("SubjectDefaulted"))
	})

	t.Run("service provider without claim config yields only sub", func(t *testing.T) {
		f := newResolverFixture(t)
		got, err := f.resolver(t).Resolve(ctx, validResult("u-1", "bare-client"))
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice"}, got)
		assert.Zero(t, f.store.calls.Load())
	})

	t.Run("no subject claim configured falls back to the username", func(t *testing.T) {
		f := newResolverFixture(t)
		f.registry.AddServiceProvider(&sp.ServiceProvider{
			Name: "nosub",
			ClaimMappings: []sp.ClaimMapping{
				mapping(claimGivenName, "given_name", true),
				mapping(claimLastName, "", false),
			},
		})
		require.NoError(t, f.registry.AddApp(&sp.App{ClientID: "nosub-client", ServiceProvider: "nosub"}))

		got, err := f.resolver(t).Resolve(ctx, validResult("u-1", "nosub-client"))
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice", "given_name": "Alice"}, got)
	})

	t.Run("missing user is not an error", func(t *testing.T) {
		f := newResolverFixture(t)
		got, err := f.resolver(t).Resolve(ctx, validResult("ghost", "portal-client"))
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice"}, got)

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		probe.AssertProbeSequence(
			"CacheMiss",
			"ClaimsRequested",
			ProbeCall("UserNotFound", "ghost", AnyError()),
			ProbeCall("SubjectDefaulted", "alice"),
			"ClaimsResolved",
			"End",
		)
	})

	t.Run("other user store failures are fatal", func(t *testing.T) {
		f := newResolverFixture(t)
		broken := userstore.NewRealmRegistry()
		broken.Register(sp.DefaultTenant, userstore.NewStaticRealm(managerFunc(func(context.Context, string, []string) (map[string]string, error) {
			return nil, errors.New("ldap connection refused")
		}), userstore.RealmConfig{}))
		f.config.Realms = broken

		_, err := f.resolver(t).Resolve(ctx, validResult("u-1", "portal-client"))
		require.Error(t, err)
		assert.True(t, oauth.IsKind(err, oauth.KindUserInfo))
		assert.Contains(t, err.Error(), "Error while retrieving claims for user: PRIMARY/alice@carbon.super")

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		probe.AssertProbeSequence(
			"CacheMiss",
			"ClaimsRequested",
			ProbeCall("UserStoreFailed", ErrorContaining("connection refused")),
			ProbeCall("ResolutionFailed", AnyError()),
			"End",
		)
	})

	t.Run("realm separator splits values and role claims", func(t *testing.T) {
		f := newResolverFixture(t)
		cfg := userstore.RealmConfig{MultiAttributeSeparator: "|"}
		store := userstore.NewMemoryStore(cfg, userstore.User{ID: "u-3", Claims: map[string][]string{
			claimEmail:     {"carol@example.com"},
			claimGivenName: {"Carol", "Caz"},
			claimRole:      {"admin"},
		}})
		realms := userstore.NewRealmRegistry()
		realms.Register(sp.DefaultTenant, userstore.NewStaticRealm(store, cfg))
		f.config.Realms = realms

		got, err := f.resolver(t).Resolve(ctx, validResult("u-3", "portal-client"))
		require.NoError(t, err)
		assert.Equal(t, []string{"Carol", "Caz"}, got["given_name"])
		assert.Equal(t, "portal-admin", got["roles"])
		assert.Equal(t, "carol@example.com", got["sub"])
	})

	t.Run("unknown client is wrapped as a userinfo error", func(t *testing.T) {
		f := newResolverFixture(t)
		_, err := f.resolver(t).Resolve(ctx, validResult("u-1", "nobody"))
		require.Error(t, err)
		assert.True(t, oauth.IsKind(err, oauth.KindUserInfo))
		assert.ErrorIs(t, err, sp.ErrInvalidClient)
		assert.ErrorIs(t, err, &oauth.Error{Kind: oauth.KindClient, Code: oauth.CodeInvalidClient})
	})

	t.Run("tenant without realm", func(t *testing.T) {
		f := newResolverFixture(t)
		result := validResult("u-1", "portal-client")
		result.User.TenantDomain = "acme.com"

		_, err := f.resolver(t).Resolve(ctx, result)
		require.Error(t, err)
		assert.ErrorIs(t, err, &oauth.Error{Kind: oauth.KindUserInfo, Code: oauth.CodeInvalidUserDomain})
		assert.Contains(t, err.Error(), "Invalid User Domain provided: acme.com")
	})
}

func TestClaimResolver_Federated(t *testing.T) {
	ctx := context.Background()

	federated := func() *token.ValidationResult {
		result := validResult("u-1", "portal-client")
		result.AuthorizedUser = "alice@partner.example"
		result.User.UserStoreDomain = "FEDERATED:partner"
		return result
	}

	t.Run("returns only sub without reading the user store", func(t *testing.T) {
		f := newResolverFixture(t)
		got, err := f.resolver(t).Resolve(ctx, federated())
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice@partner.example"}, got)
		assert.Zero(t, f.store.calls.Load())

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		probe.AssertProbeSequence("CacheMiss", "FederatedUserSkipped", "ClaimsResolved", "End")
	})

	t.Run("federated flag without domain prefix", func(t *testing.T) {
		f := newResolverFixture(t)
		result := validResult("u-1", "portal-client")
		result.User.Federated = true
		got, err := f.resolver(t).Resolve(ctx, result)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, "PRIMARY/alice@carbon.super", got["sub"])
	})

	t.Run("mapped to local users reads the user store", func(t *testing.T) {
		f := newResolverFixture(t)
		f.config.MapFederatedUsersToLocal = true
		result := validResult("u-1", "portal-client")
		result.User.Federated = true

		got, err := f.resolver(t).Resolve(ctx, result)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got["sub"])
		assert.Equal(t, int32(1), f.store.calls.Load())
	})

	t.Run("mapped to local users reads the primary store for federated domains", func(t *testing.T) {
		f := newResolverFixture(t)
		f.config.MapFederatedUsersToLocal = true

		got, err := f.resolver(t).Resolve(ctx, federated())
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got["sub"])
		assert.Equal(t, "Alice", got["given_name"])
		assert.Equal(t, int32(1), f.store.calls.Load())
	})

	t.Run("mapped federated user missing locally keeps only sub", func(t *testing.T) {
		f := newResolverFixture(t)
		f.config.MapFederatedUsersToLocal = true
		result := federated()
		result.User.UserID = "ghost"

		got, err := f.resolver(t).Resolve(ctx, result)
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice@partner.example"}, got)
	})
}

func TestClaimResolver_GrantCache(t *testing.T) {
	ctx := context.Background()

	t.Run("cached attributes bypass the user store", func(t *testing.T) {
		f := newResolverFixture(t)
		result := validResult("u-1", "portal-client")
		require.NoError(t, f.cache.Put(ctx, &grantcache.Entry{
			TokenID: result.TokenIdentifier,
			Subject: "alice-subject",
			Attributes: []grantcache.Attribute{
				{Claim: mapping(claimEmail, "email", true), Value: "cached@example.com"},
				{Claim: mapping(claimRole, "roles", true), Value: "a,,,b"},
				{Claim: mapping(claimLastName, "family_name", false), Value: "Hidden"},
			},
		}))

		got, err := f.resolver(t).Resolve(ctx, result)
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{
			"sub":   "alice-subject",
			"email": "cached@example.com",
			"roles": []string{"a", "b"},
		}, got)
		assert.Zero(t, f.store.calls.Load())

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		probe.AssertProbeSequence(ProbeCall("CacheHit", 3), "ClaimsResolved", "End")
	})

	t.Run("unrequested cached attributes still count as a hit", func(t *testing.T) {
		f := newResolverFixture(t)
		result := validResult("u-1", "portal-client")
		require.NoError(t, f.cache.Put(ctx, &grantcache.Entry{
			TokenID:    result.TokenIdentifier,
			Attributes: []grantcache.Attribute{{Claim: mapping(claimLastName, "family_name", false), Value: "Hidden"}},
		}))

		got, err := f.resolver(t).Resolve(ctx, result)
		require.NoError(t, err)
		assert.Equal(t, claims.Claims{"sub": "alice"}, got)
		assert.Zero(t, f.store.calls.Load())
	})

	t.Run("empty entry falls back to the user store", func(t *testing.T) {
		f := newResolverFixture(t)
		result := validResult("u-1", "portal-client")
		require.NoError(t, f.cache.Put(ctx, &grantcache.Entry{TokenID: result.TokenIdentifier}))

		_, err := f.resolver(t).Resolve(ctx, result)
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.store.calls.Load())
	})

	t.Run("cache failure falls back to the user store", func(t *testing.T) {
		f := newResolverFixture(t)
		f.config.GrantCache = failingCache{}

		got, err := f.resolver(t).Resolve(ctx, validResult("u-1", "portal-client"))
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got["sub"])

		probe := f.observer.AssertSingleProbe("ClaimResolutionStarted")
		probe.AssertProbeSequence(
			ProbeCall("CacheLookupFailed", ErrorContaining("cache unavailable")),
			"CacheMiss",
			"ClaimsRequested",
			"ClaimsResolved",
			"End",
		)
	})
}

func TestClaimResolver_TokenRecord(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	require.NoError(t, f.tokens.Put(ctx, &token.AccessToken{
		TokenIdentifier: "opaque-1",
		ConsumerKey:     "portal-client",
		AuthzUser:       token.AuthenticatedUser{UserID: "u-1", Username: "alice", TenantDomain: sp.DefaultTenant},
		Active:          true,
	}))
	require.NoError(t, f.tokens.Put(ctx, &token.AccessToken{
		TokenIdentifier: "revoked-1",
		ConsumerKey:     "portal-client",
		AuthzUser:       token.AuthenticatedUser{UserID: "u-1", Username: "alice"},
	}))
	r := f.resolver(t)

	t.Run("user and client come from the token record", func(t *testing.T) {
		got, err := r.Resolve(ctx, &token.ValidationResult{Valid: true, TokenIdentifier: "opaque-1", AuthorizedUser: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got["sub"])
	})

	for _, id := range []string{"revoked-1", "missing"} {
		t.Run("inactive token "+id, func(t *testing.T) {
			_, err := r.Resolve(ctx, &token.ValidationResult{Valid: true, TokenIdentifier: id, AuthorizedUser: "alice"})
			require.Error(t, err)
			assert.True(t, oauth.IsKind(err, oauth.KindInvalidToken))
			assert.Contains(t, err.Error(), "Access token is not ACTIVE")
		})
	}

	t.Run("invalid validation result", func(t *testing.T) {
		_, err := r.Resolve(ctx, &token.ValidationResult{TokenIdentifier: "opaque-1"})
		assert.True(t, oauth.IsKind(err, oauth.KindInvalidToken))
		_, err = r.Resolve(ctx, nil)
		assert.True(t, oauth.IsKind(err, oauth.KindInvalidToken))
	})
}

func TestClaimResolver_SubAlwaysPresent(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(f *resolverFixture) *token.ValidationResult{
		"user store":     func(*resolverFixture) *token.ValidationResult { return validResult("u-1", "portal-client") },
		"missing claims": func(*resolverFixture) *token.ValidationResult { return validResult("u-2", "portal-client") },
		"missing user":   func(*resolverFixture) *token.ValidationResult { return validResult("ghost", "reports-client") },
		"no claim config": func(*resolverFixture) *token.ValidationResult {
			return validResult("u-1", "bare-client")
		},
		"cache": func(f *resolverFixture) *token.ValidationResult {
			result := validResult("u-1", "portal-client")
			_ = f.cache.Put(ctx, &grantcache.Entry{
				TokenID:    result.TokenIdentifier,
				Attributes: []grantcache.Attribute{{Claim: mapping(claimEmail, "email", true), Value: "x@example.com"}},
			})
			return result
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newResolverFixture(t)
			got, err := f.resolver(t).Resolve(ctx, setup(f))
			require.NoError(t, err)
			sub, ok := got[claims.Sub].(string)
			require.True(t, ok)
			assert.NotEmpty(t, strings.TrimSpace(sub))
		})
	}
}

func TestClaimResolver_BlankSubject(t *testing.T) {
	f := newResolverFixture(t)
	result := validResult("u-2", "reports-client")
	result.AuthorizedUser = ""

	_, err := f.resolver(t).Resolve(context.Background(), result)
	require.Error(t, err)
	assert.True(t, oauth.IsKind(err, oauth.KindUserInfo))
}

func TestResolveFromUserStore_IgnoresCache(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t)
	result := validResult("u-1", "portal-client")
	require.NoError(t, f.cache.Put(ctx, &grantcache.Entry{
		TokenID:    result.TokenIdentifier,
		Attributes: []grantcache.Attribute{{Claim: mapping(claimEmail, "email", true), Value: "cached@example.com"}},
	}))

	got, err := f.resolver(t).ResolveFromUserStore(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got["email"])
	assert.Equal(t, int32(1), f.store.calls.Load())
}

func TestNewClaimResolver_Validation(t *testing.T) {
	_, err := NewClaimResolver(ClaimResolverConfig{})
	assert.Error(t, err)
}
