// Package service assembles the claims returned for a validated access token
// and serves UserInfo requests on top of that.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/dialect"
	"github.com/project-kessel/userinfo/internal/grantcache"
	"github.com/project-kessel/userinfo/internal/oauth"
	"github.com/project-kessel/userinfo/internal/retriever"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/userstore"
)

const inactiveTokenDescription = "Invalid Access Token. Access token is not ACTIVE."

// DefaultRoleClaims are the local claims holding role and group names
var DefaultRoleClaims = []string{
	"http://wso2.org/claims/role",
	"http://wso2.org/claims/groups",
}

// ClaimResolverConfig configures a ClaimResolver
type ClaimResolverConfig struct {
	// GrantCache holds attributes captured at grant time. Nil disables it.
	GrantCache grantcache.Cache

	// Retriever maps cached attributes to claims. Defaults to
	// retriever.NewDefault with the default separator.
	Retriever retriever.Retriever

	// Tokens is consulted when a validation result does not carry the
	// authorized user
	Tokens token.Store

	Registry sp.Registry
	Dialects dialect.Handler
	Realms   userstore.Realms

	// SPDialect is the dialect claims are returned in. Defaults to dialect.OIDC.
	SPDialect string

	// RoleClaims are remapped through service provider role mappings.
	// Defaults to DefaultRoleClaims.
	RoleClaims []string

	// MapFederatedUsersToLocal reads federated users from the local user
	// store instead of returning only their subject
	MapFederatedUsersToLocal bool

	Observer ClaimResolutionObserver
}

// ClaimResolver assembles the claim map returned for a validated access
// token. The map always holds a non-blank sub.
type ClaimResolver struct {
	cache        grantcache.Cache
	retriever    retriever.Retriever
	tokens       token.Store
	registry     sp.Registry
	dialects     dialect.Handler
	realms       userstore.Realms
	spDialect    string
	roleClaims   map[string]struct{}
	mapFederated bool
	observer     ClaimResolutionObserver
}

// NewClaimResolver creates a resolver
func NewClaimResolver(cfg ClaimResolverConfig) (*ClaimResolver, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("service provider registry is required")
	}
	if cfg.Dialects == nil {
		return nil, fmt.Errorf("dialect handler is required")
	}
	if cfg.Realms == nil {
		return nil, fmt.Errorf("user store realms are required")
	}

	cache := cfg.GrantCache
	if cache == nil {
		cache = grantcache.Noop{}
	}
	ret := cfg.Retriever
	if ret == nil {
		ret = retriever.NewDefault("")
	}
	spDialect := cfg.SPDialect
	if spDialect == "" {
		spDialect = dialect.OIDC
	}
	roleClaims := cfg.RoleClaims
	if roleClaims == nil {
		roleClaims = DefaultRoleClaims
	}
	roles := make(map[string]struct{}, len(roleClaims))
	for _, uri := range roleClaims {
		roles[uri] = struct{}{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver()
	}

	return &ClaimResolver{
		cache:        cache,
		retriever:    ret,
		tokens:       cfg.Tokens,
		registry:     cfg.Registry,
		dialects:     cfg.Dialects,
		realms:       cfg.Realms,
		spDialect:    spDialect,
		roleClaims:   roles,
		mapFederated: cfg.MapFederatedUsersToLocal,
		observer:     observer,
	}, nil
}

// Resolve returns the claims of the token's subject. Attributes cached at
// grant time are used when present; otherwise the user store is read.
func (r *ClaimResolver) Resolve(ctx context.Context, result *token.ValidationResult) (claims.Claims, error) {
	ctx, probe := r.observer.ClaimResolutionStarted(ctx, result)
	defer probe.End()

	if err := checkResult(result); err != nil {
		probe.ResolutionFailed(err)
		return nil, err
	}

	entry, err := r.cache.Get(ctx, result.TokenIdentifier)
	if err != nil {
		probe.CacheLookupFailed(err)
		entry = nil
	}

	var resolved claims.Claims
	if entry != nil && len(entry.Attributes) > 0 {
		probe.CacheHit(len(entry.Attributes))
		resolved, err = r.fromCache(ctx, result, entry, probe)
	} else {
		probe.CacheMiss()
		resolved, err = r.fromUserStore(ctx, result, probe)
	}
	if err != nil {
		probe.ResolutionFailed(err)
		return nil, err
	}

	probe.ClaimsResolved(resolved)
	return resolved, nil
}

// ResolveFromUserStore resolves claims from the user store, ignoring the
// grant cache
func (r *ClaimResolver) ResolveFromUserStore(ctx context.Context, result *token.ValidationResult) (claims.Claims, error) {
	ctx, probe := r.observer.ClaimResolutionStarted(ctx, result)
	defer probe.End()

	if err := checkResult(result); err != nil {
		probe.ResolutionFailed(err)
		return nil, err
	}

	resolved, err := r.fromUserStore(ctx, result, probe)
	if err != nil {
		probe.ResolutionFailed(err)
		return nil, err
	}
	probe.ClaimsResolved(resolved)
	return resolved, nil
}

func checkResult(result *token.ValidationResult) error {
	if result == nil || !result.Valid {
		return oauth.NewInvalidTokenError(inactiveTokenDescription, nil)
	}
	return nil
}

func (r *ClaimResolver) fromCache(ctx context.Context, result *token.ValidationResult, entry *grantcache.Entry, probe ClaimResolutionProbe) (claims.Claims, error) {
	requested := make([]grantcache.Attribute, 0, len(entry.Attributes))
	for _, a := range entry.Attributes {
		if a.Claim.Requested {
			requested = append(requested, a)
		}
	}

	resolved, err := r.retriever.ClaimsMap(ctx, requested)
	if err != nil {
		return nil, userInfoError(result, err)
	}
	if resolved == nil {
		resolved = claims.Claims{}
	}

	if strings.TrimSpace(resolved.GetString(claims.Sub)) == "" {
		subject := entry.Subject
		if strings.TrimSpace(subject) == "" {
			subject = token.DisplayUsername(result.AuthorizedUser, tenantOf(result.User))
			probe.SubjectDefaulted(subject)
		}
		if err := setSubject(resolved, subject, result); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func (r *ClaimResolver) fromUserStore(ctx context.Context, result *token.ValidationResult, probe ClaimResolutionProbe) (claims.Claims, error) {
	user, clientID, err := r.authorizedUser(ctx, result)
	if err != nil {
		return nil, err
	}

	if !r.mapFederated && user.IsFederated() {
		probe.FederatedUserSkipped(user)
		subject := result.AuthorizedUser
		if strings.TrimSpace(subject) == "" {
			subject = user.Username
		}
		resolved := claims.Claims{}
		if err := setSubject(resolved, subject, result); err != nil {
			return nil, err
		}
		return resolved, nil
	}

	provider, err := r.serviceProvider(ctx, clientID, result)
	if err != nil {
		return nil, err
	}

	subjectURI := sp.SubjectClaimURI(provider)
	requestedURIs := sp.RequestedLocalClaims(provider)
	subjectRequested := subjectURI != "" && slices.Contains(requestedURIs, subjectURI)

	requested := make(map[string]struct{}, len(requestedURIs)+1)
	var claimURIs []string
	for _, uri := range append([]string{subjectURI}, requestedURIs...) {
		if _, dup := requested[uri]; uri == "" || dup {
			continue
		}
		requested[uri] = struct{}{}
		claimURIs = append(claimURIs, uri)
	}

	resolved := claims.Claims{}
	var subject string

	if subjectURI != "" || len(provider.ClaimMappings) > 0 {
		probe.ClaimsRequested(clientID, claimURIs)

		localToDialect, err := r.dialects.MappingsToLocal(ctx, r.spDialect, tenantOf(user))
		if err != nil {
			return nil, userInfoError(result, fmt.Errorf("failed to read %s claim mappings: %w", r.spDialect, err))
		}

		values, separator, err := r.userClaimValues(ctx, user, claimURIs, result, probe)
		if err != nil {
			return nil, err
		}

		uris := make([]string, 0, len(values))
		for uri := range values {
			uris = append(uris, uri)
		}
		slices.Sort(uris)

		for _, uri := range uris {
			if _, ok := requested[uri]; !ok {
				continue
			}
			value := values[uri]
			if _, isRole := r.roleClaims[uri]; isRole {
				value = sp.MappedUserRoles(provider, claims.SplitMultiValued(value, separator), separator)
			}

			name, ok := localToDialect[uri]
			if !ok {
				continue
			}
			if uri == subjectURI {
				subject = value
				if !subjectRequested {
					continue
				}
			}
			resolved[name] = claims.ValueOf(value, separator)
		}
	}

	if strings.TrimSpace(subject) == "" {
		subject = token.DisplayUsername(result.AuthorizedUser, tenantOf(user))
		probe.SubjectDefaulted(subject)
	}
	if err := setSubject(resolved, subject, result); err != nil {
		return nil, err
	}
	return resolved, nil
}

// authorizedUser returns the token's user and client, reading the access
// token record when the validator did not supply them
func (r *ClaimResolver) authorizedUser(ctx context.Context, result *token.ValidationResult) (*token.AuthenticatedUser, string, error) {
	if result.User != nil {
		return result.User, result.ClientID, nil
	}
	if r.tokens == nil {
		return nil, "", oauth.NewInvalidTokenError(inactiveTokenDescription, nil)
	}

	at, err := r.tokens.AccessToken(ctx, result.TokenIdentifier)
	if errors.Is(err, token.ErrTokenNotFound) {
		return nil, "", oauth.NewInvalidTokenError(inactiveTokenDescription, err)
	}
	if err != nil {
		return nil, "", userInfoError(result, err)
	}
	if !at.Active {
		return nil, "", oauth.NewInvalidTokenError(inactiveTokenDescription, nil)
	}
	user := at.AuthzUser
	return &user, at.ConsumerKey, nil
}

func (r *ClaimResolver) serviceProvider(ctx context.Context, clientID string, result *token.ValidationResult) (*sp.ServiceProvider, error) {
	app, err := r.registry.AppByClientID(ctx, clientID)
	if err != nil {
		return nil, userInfoError(result, clientError(err))
	}
	tenant := app.TenantDomain
	if tenant == "" {
		tenant = sp.DefaultTenant
	}
	provider, err := r.registry.ServiceProvider(ctx, clientID, tenant)
	if err != nil {
		return nil, userInfoError(result, clientError(err))
	}
	return provider, nil
}

// userClaimValues reads claimURIs of user from its user store. A missing user
// yields no values; any other failure is fatal.
func (r *ClaimResolver) userClaimValues(ctx context.Context, user *token.AuthenticatedUser, claimURIs []string, result *token.ValidationResult, probe ClaimResolutionProbe) (map[string]string, string, error) {
	tenant := tenantOf(user)
	realm, err := r.realms.Realm(ctx, tenant)
	if err != nil {
		probe.UserStoreFailed(err)
		return nil, "", userInfoError(result, err)
	}
	if realm == nil {
		return nil, "", oauth.NewUserInfoError(oauth.CodeInvalidUserDomain,
			fmt.Sprintf("Invalid User Domain provided: %s. Cannot retrieve user claims for user: %s", tenant, result.AuthorizedUser), nil)
	}

	domain := user.UserStoreDomain
	if domain == "" {
		domain = userstore.ExtractDomain(user.Username)
	}
	// Federated users mapped to local users are read from the primary store
	if strings.HasPrefix(strings.ToUpper(domain), token.FederatedDomainPrefix) {
		domain = userstore.PrimaryDomain
	}
	manager, err := realm.Manager(domain)
	if err != nil {
		probe.UserStoreFailed(err)
		return nil, "", userInfoError(result, err)
	}
	cfg, err := realm.Config(domain)
	if err != nil {
		probe.UserStoreFailed(err)
		return nil, "", userInfoError(result, err)
	}

	values, err := manager.UserClaimValues(ctx, user.UserID, claimURIs)
	if errors.Is(err, userstore.ErrUserNotFound) {
		probe.UserNotFound(user.UserID, err)
		return nil, cfg.Separator(), nil
	}
	if err != nil {
		probe.UserStoreFailed(err)
		return nil, "", userInfoError(result, err)
	}
	return values, cfg.Separator(), nil
}

func setSubject(c claims.Claims, subject string, result *token.ValidationResult) error {
	if strings.TrimSpace(subject) == "" {
		return oauth.NewUserInfoError(oauth.CodeServerError,
			"No subject could be determined for user: "+result.AuthorizedUser, nil)
	}
	c[claims.Sub] = subject
	return nil
}

func tenantOf(user *token.AuthenticatedUser) string {
	if user == nil || user.TenantDomain == "" {
		return sp.DefaultTenant
	}
	return user.TenantDomain
}

func clientError(err error) error {
	if errors.Is(err, sp.ErrInvalidClient) {
		return oauth.WrapClientErrorCode(oauth.CodeInvalidClient, err.Error(), err)
	}
	return err
}

func userInfoError(result *token.ValidationResult, cause error) error {
	return oauth.NewUserInfoError(oauth.CodeServerError,
		"Error while retrieving claims for user: "+result.AuthorizedUser, cause)
}
