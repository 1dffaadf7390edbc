package service

import (
	"context"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/keys"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
)

// ClaimResolutionObserver creates request-scoped probes for claim resolution.
//
// Following the pattern from https://martinfowler.com/articles/domain-oriented-observability.html#IncludingExecutionContext,
// the observer captures execution context at the start of an operation and returns a
// request-scoped probe that doesn't require context to be passed to each method.
type ClaimResolutionObserver interface {
	// ClaimResolutionStarted creates a probe for resolving the claims of one validated token.
	ClaimResolutionStarted(ctx context.Context, result *token.ValidationResult) (context.Context, ClaimResolutionProbe)
}

// ClaimResolutionProbe reports the decisions taken while resolving claims.
//
// The probe lifecycle:
//  1. Created by ClaimResolutionObserver.ClaimResolutionStarted()
//  2. Events reported as the resolver takes the cache or user store path
//  3. Terminated with End() - typically deferred
type ClaimResolutionProbe interface {
	// CacheHit is called when the grant cache held attributes for the token.
	CacheHit(attributes int)

	// CacheMiss is called when the grant cache had nothing for the token.
	CacheMiss()

	// CacheLookupFailed is called when the grant cache could not be read.
	// Resolution continues as if the cache missed.
	CacheLookupFailed(err error)

	// FederatedUserSkipped is called when the user store is bypassed for a federated user.
	FederatedUserSkipped(user *token.AuthenticatedUser)

	// ClaimsRequested is called with the local claim URIs about to be read from the user store.
	ClaimsRequested(clientID string, claimURIs []string)

	// UserNotFound is called when the user store has no such user. Resolution continues
	// with no user attributes.
	UserNotFound(userID string, err error)

	// UserStoreFailed is called when the user store lookup fails for any other reason.
	UserStoreFailed(err error)

	// SubjectDefaulted is called when sub falls back to the token's username.
	SubjectDefaulted(subject string)

	// ClaimsResolved is called with the final claim map.
	ClaimsResolved(c claims.Claims)

	// ResolutionFailed is called when resolution ends in an error.
	ResolutionFailed(err error)

	End()
}

// UserInfoObserver creates request-scoped probes for UserInfo requests.
type UserInfoObserver interface {
	UserInfoRequestStarted(ctx context.Context) (context.Context, UserInfoProbe)
}

// UserInfoProbe reports the outcome of a UserInfo request.
type UserInfoProbe interface {
	TokenValidationSucceeded(result *token.ValidationResult)
	TokenValidationFailed(err error)

	// ResponseSigned is called when the response was issued as a signed JWT.
	ResponseSigned(keyID keys.KeyID)

	// SigningFailed is called when a signed response was requested but could not be produced.
	SigningFailed(err error)

	End()
}

// AuthzCheckObserver creates request-scoped probes for ext_authz checks.
type AuthzCheckObserver interface {
	AuthzCheckStarted(ctx context.Context) (context.Context, AuthzCheckProbe)
}

// AuthzCheckProbe reports the outcome of an ext_authz check.
type AuthzCheckProbe interface {
	// SubjectCredentialExtracted is called when a bearer token was found on the request.
	SubjectCredentialExtracted(cred trust.Credential)

	// SubjectCredentialExtractionFailed is called when the request carried no usable token.
	SubjectCredentialExtractionFailed(err error)

	SubjectValidationSucceeded(result *token.ValidationResult)
	SubjectValidationFailed(err error)

	// ClaimsForwarded is called with the header and the claim names injected upstream.
	ClaimsForwarded(header string, names []string)

	// ClaimResolutionFailed is called when claims could not be resolved for a valid token.
	ClaimResolutionFailed(err error)

	End()
}

// ApplicationObserver provides a unified interface for all observability concerns in the application.
// Implementations can embed the NoOp* types to get default behavior for methods they don't care about.
type ApplicationObserver interface {
	ClaimResolutionObserver
	UserInfoObserver
	AuthzCheckObserver
}

// compositeObserver delegates to multiple observers in order.
type compositeObserver struct {
	observers []ApplicationObserver
}

// NewCompositeObserver creates an observer that delegates to multiple observers.
// Observers are called in the order provided.
func NewCompositeObserver(observers ...ApplicationObserver) ApplicationObserver {
	return &compositeObserver{observers: observers}
}

func (c *compositeObserver) ClaimResolutionStarted(ctx context.Context, result *token.ValidationResult) (context.Context, ClaimResolutionProbe) {
	probes := make(compositeClaimResolutionProbe, len(c.observers))
	for i, obs := range c.observers {
		ctx, probes[i] = obs.ClaimResolutionStarted(ctx, result)
	}
	return ctx, probes
}

func (c *compositeObserver) UserInfoRequestStarted(ctx context.Context) (context.Context, UserInfoProbe) {
	probes := make(compositeUserInfoProbe, len(c.observers))
	for i, obs := range c.observers {
		ctx, probes[i] = obs.UserInfoRequestStarted(ctx)
	}
	return ctx, probes
}

func (c *compositeObserver) AuthzCheckStarted(ctx context.Context) (context.Context, AuthzCheckProbe) {
	probes := make(compositeAuthzCheckProbe, len(c.observers))
	for i, obs := range c.observers {
		ctx, probes[i] = obs.AuthzCheckStarted(ctx)
	}
	return ctx, probes
}

type compositeClaimResolutionProbe []ClaimResolutionProbe

func (c compositeClaimResolutionProbe) CacheHit(attributes int) {
	for _, p := range c {
		p.CacheHit(attributes)
	}
}

func (c compositeClaimResolutionProbe) CacheMiss() {
	for _, p := range c {
		p.CacheMiss()
	}
}

func (c compositeClaimResolutionProbe) CacheLookupFailed(err error) {
	for _, p := range c {
		p.CacheLookupFailed(err)
	}
}

func (c compositeClaimResolutionProbe) FederatedUserSkipped(user *token.AuthenticatedUser) {
	for _, p := range c {
		p.FederatedUserSkipped(user)
	}
}

func (c compositeClaimResolutionProbe) ClaimsRequested(clientID string, claimURIs []string) {
	for _, p := range c {
		p.ClaimsRequested(clientID, claimURIs)
	}
}

func (c compositeClaimResolutionProbe) UserNotFound(userID string, err error) {
	for _, p := range c {
		p.UserNotFound(userID, err)
	}
}

func (c compositeClaimResolutionProbe) UserStoreFailed(err error) {
	for _, p := range c {
		p.UserStoreFailed(err)
	}
}

func (c compositeClaimResolutionProbe) SubjectDefaulted(subject string) {
	for _, p := range c {
		p.SubjectDefaulted(subject)
	}
}

func (c compositeClaimResolutionProbe) ClaimsResolved(resolved claims.Claims) {
	for _, p := range c {
		p.ClaimsResolved(resolved)
	}
}

func (c compositeClaimResolutionProbe) ResolutionFailed(err error) {
	for _, p := range c {
		p.ResolutionFailed(err)
	}
}

func (c compositeClaimResolutionProbe) End() {
	for _, p := range c {
		p.End()
	}
}

type compositeUserInfoProbe []UserInfoProbe

func (c compositeUserInfoProbe) TokenValidationSucceeded(result *token.ValidationResult) {
	for _, p := range c {
		p.TokenValidationSucceeded(result)
	}
}

func (c compositeUserInfoProbe) TokenValidationFailed(err error) {
	for _, p := range c {
		p.TokenValidationFailed(err)
	}
}

func (c compositeUserInfoProbe) ResponseSigned(keyID keys.KeyID) {
	for _, p := range c {
		p.ResponseSigned(keyID)
	}
}

func (c compositeUserInfoProbe) SigningFailed(err error) {
	for _, p := range c {
		p.SigningFailed(err)
	}
}

func (c compositeUserInfoProbe) End() {
	for _, p := range c {
		p.End()
	}
}

type compositeAuthzCheckProbe []AuthzCheckProbe

func (c compositeAuthzCheckProbe) SubjectCredentialExtracted(cred trust.Credential) {
	for _, p := range c {
		p.SubjectCredentialExtracted(cred)
	}
}

func (c compositeAuthzCheckProbe) SubjectCredentialExtractionFailed(err error) {
	for _, p := range c {
		p.SubjectCredentialExtractionFailed(err)
	}
}

func (c compositeAuthzCheckProbe) SubjectValidationSucceeded(result *token.ValidationResult) {
	for _, p := range c {
		p.SubjectValidationSucceeded(result)
	}
}

func (c compositeAuthzCheckProbe) SubjectValidationFailed(err error) {
	for _, p := range c {
		p.SubjectValidationFailed(err)
	}
}

func (c compositeAuthzCheckProbe) ClaimsForwarded(header string, names []string) {
	for _, p := range c {
		p.ClaimsForwarded(header, names)
	}
}

func (c compositeAuthzCheckProbe) ClaimResolutionFailed(err error) {
	for _, p := range c {
		p.ClaimResolutionFailed(err)
	}
}

func (c compositeAuthzCheckProbe) End() {
	for _, p := range c {
		p.End()
	}
}

// NoOpClaimResolutionProbe is an exported null object implementation of ClaimResolutionProbe.
// Implementations can embed this to get default no-op behavior, allowing new methods
// to be added to the interface without breaking existing implementations.
type NoOpClaimResolutionProbe struct{}

func (n *NoOpClaimResolutionProbe) CacheHit(attributes int)                             {}
func (n *NoOpClaimResolutionProbe) CacheMiss()                                          {}
func (n *NoOpClaimResolutionProbe) CacheLookupFailed(err error)                         {}
func (n *NoOpClaimResolutionProbe) FederatedUserSkipped(user *token.AuthenticatedUser)  {}
func (n *NoOpClaimResolutionProbe) ClaimsRequested(clientID string, claimURIs []string) {}
func (n *NoOpClaimResolutionProbe) UserNotFound(userID string, err error)               {}
func (n *NoOpClaimResolutionProbe) UserStoreFailed(err error)                           {}
func (n *NoOpClaimResolutionProbe) SubjectDefaulted(subject string)                     {}
func (n *NoOpClaimResolutionProbe) ClaimsResolved(c claims.Claims)                      {}
func (n *NoOpClaimResolutionProbe) ResolutionFailed(err error)                          {}
func (n *NoOpClaimResolutionProbe) End()                                                {}

// NoOpUserInfoProbe is an exported null object implementation of UserInfoProbe.
type NoOpUserInfoProbe struct{}

func (n *NoOpUserInfoProbe) TokenValidationSucceeded(result *token.ValidationResult) {}
func (n *NoOpUserInfoProbe) TokenValidationFailed(err error)                         {}
func (n *NoOpUserInfoProbe) ResponseSigned(keyID keys.KeyID)                         {}
func (n *NoOpUserInfoProbe) SigningFailed(err error)                                 {}
func (n *NoOpUserInfoProbe) End()                                                    {}

// NoOpAuthzCheckProbe is an exported null object implementation of AuthzCheckProbe.
type NoOpAuthzCheckProbe struct{}

func (n *NoOpAuthzCheckProbe) SubjectCredentialExtracted(cred trust.Credential)          {}
func (n *NoOpAuthzCheckProbe) SubjectCredentialExtractionFailed(err error)               {}
func (n *NoOpAuthzCheckProbe) SubjectValidationSucceeded(result *token.ValidationResult) {}
func (n *NoOpAuthzCheckProbe) SubjectValidationFailed(err error)                         {}
func (n *NoOpAuthzCheckProbe) ClaimsForwarded(header string, names []string)             {}
func (n *NoOpAuthzCheckProbe) ClaimResolutionFailed(err error)                           {}
func (n *NoOpAuthzCheckProbe) End()                                                      {}

// NoOpApplicationObserver implements ApplicationObserver with no-op behavior.
type NoOpApplicationObserver struct{}

// NoOpObserver returns an application observer that does nothing.
// Use this as a default when no observability is needed.
func NoOpObserver() ApplicationObserver {
	return &NoOpApplicationObserver{}
}

func (n *NoOpApplicationObserver) ClaimResolutionStarted(ctx context.Context, result *token.ValidationResult) (context.Context, ClaimResolutionProbe) {
	return ctx, &NoOpClaimResolutionProbe{}
}

func (n *NoOpApplicationObserver) UserInfoRequestStarted(ctx context.Context) (context.Context, UserInfoProbe) {
	return ctx, &NoOpUserInfoProbe{}
}

func (n *NoOpApplicationObserver) AuthzCheckStarted(ctx context.Context) (context.Context, AuthzCheckProbe) {
	return ctx, &NoOpAuthzCheckProbe{}
}
