package probe

import (
	"context"
	"log/slog"
	"slices"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/keys"
	"github.com/project-kessel/userinfo/internal/service"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
)

// Event names carried in the "event" attribute of every probe log record
const (
	EventClaimResolution = "claim_resolution"
	EventUserInfoRequest = "userinfo_request"
	EventAuthzCheck      = "authz_check"
)

// loggingObserver creates request-scoped logging probes
type loggingObserver struct {
	service.NoOpApplicationObserver
	logger        *slog.Logger
	logUserClaims bool
}

// LoggingObserverConfig configures the logging observer
type LoggingObserverConfig struct {
	// Logger is the base logger to use. If nil, uses slog.Default()
	Logger *slog.Logger

	// LogUserClaims includes resolved claim values in log records.
	// Otherwise only claim names are logged.
	LogUserClaims bool
}

// NewLoggingObserver creates an application observer that logs all observability events
// using structured logging with slog.
func NewLoggingObserver(logger *slog.Logger) service.ApplicationObserver {
	return NewLoggingObserverWithConfig(LoggingObserverConfig{
		Logger: logger,
	})
}

// NewLoggingObserverWithConfig creates a logging observer with custom configuration
func NewLoggingObserverWithConfig(cfg LoggingObserverConfig) service.ApplicationObserver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &loggingObserver{
		logger:        logger,
		logUserClaims: cfg.LogUserClaims,
	}
}

func (o *loggingObserver) ClaimResolutionStarted(
	ctx context.Context,
	result *token.ValidationResult,
) (context.Context, service.ClaimResolutionProbe) {
	probeLogger := o.logger.With("event", EventClaimResolution)

	var attrs []slog.Attr
	if result != nil {
		attrs = append(attrs,
			slog.String("authorized_user", result.AuthorizedUser),
			slog.String("client_id", result.ClientID),
		)
	}
	probeLogger.LogAttrs(ctx, slog.LevelDebug, "Resolving user claims", attrs...)

	return ctx, &loggingClaimResolutionProbe{
		ctx:           ctx,
		logger:        probeLogger,
		logUserClaims: o.logUserClaims,
	}
}

// loggingClaimResolutionProbe logs the path taken while resolving one token's claims
type loggingClaimResolutionProbe struct {
	service.NoOpClaimResolutionProbe
	ctx           context.Context
	logger        *slog.Logger
	logUserClaims bool
}

func (p *loggingClaimResolutionProbe) CacheHit(attributes int) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"Retrieving claims from the authorization grant cache",
		slog.Int("attributes", attributes),
	)
}

func (p *loggingClaimResolutionProbe) CacheMiss() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "No cached user attributes, reading the user store")
}

func (p *loggingClaimResolutionProbe) CacheLookupFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelWarn,
		"Authorization grant cache lookup failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingClaimResolutionProbe) FederatedUserSkipped(user *token.AuthenticatedUser) {
	var attrs []slog.Attr
	if user != nil {
		attrs = append(attrs,
			slog.String("username", user.Username),
			slog.String("user_store_domain", user.UserStoreDomain),
			slog.String("federated_idp", user.FederatedIdP),
		)
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Federated user is not mapped to a local user, returning sub only", attrs...)
}

func (p *loggingClaimResolutionProbe) ClaimsRequested(clientID string, claimURIs []string) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"Requesting user claims",
		slog.String("client_id", clientID),
		slog.Any("claim_uris", claimURIs),
	)
}

func (p *loggingClaimResolutionProbe) UserNotFound(userID string, err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelWarn,
		"User not found in user store",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
}

func (p *loggingClaimResolutionProbe) UserStoreFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelError,
		"Error while reading user claims",
		slog.String("error", err.Error()),
	)
}

func (p *loggingClaimResolutionProbe) SubjectDefaulted(subject string) {
	var attrs []slog.Attr
	if p.logUserClaims {
		attrs = append(attrs, slog.String("sub", subject))
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Subject claim not found, using the token username", attrs...)
}

func (p *loggingClaimResolutionProbe) ClaimsResolved(c claims.Claims) {
	var attrs []slog.Attr
	if p.logUserClaims {
		attrs = append(attrs, slog.String("sub", c.Subject()), slog.Any("claims", map[string]any(c)))
	} else {
		attrs = append(attrs, slog.Any("claim_names", claimNames(c)))
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "User claims resolved", attrs...)
}

func (p *loggingClaimResolutionProbe) ResolutionFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelError,
		"Claim resolution failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingClaimResolutionProbe) End() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Claim resolution completed")
}

// UserInfoRequestStarted implements service.UserInfoObserver
func (o *loggingObserver) UserInfoRequestStarted(ctx context.Context) (context.Context, service.UserInfoProbe) {
	probeLogger := o.logger.With("event", EventUserInfoRequest)

	probeLogger.LogAttrs(ctx, slog.LevelDebug, "Starting UserInfo request")

	return ctx, &loggingUserInfoProbe{
		ctx:    ctx,
		logger: probeLogger,
	}
}

// loggingUserInfoProbe logs the outcome of one UserInfo request
type loggingUserInfoProbe struct {
	service.NoOpUserInfoProbe
	ctx    context.Context
	logger *slog.Logger
}

func (p *loggingUserInfoProbe) TokenValidationSucceeded(result *token.ValidationResult) {
	var attrs []slog.Attr
	if result != nil {
		attrs = append(attrs,
			slog.String("authorized_user", result.AuthorizedUser),
			slog.String("client_id", result.ClientID),
		)
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Access token validation succeeded", attrs...)
}

func (p *loggingUserInfoProbe) TokenValidationFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelInfo,
		"Access token validation failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingUserInfoProbe) ResponseSigned(keyID keys.KeyID) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"UserInfo response signed",
		slog.String("kid", string(keyID)),
	)
}

func (p *loggingUserInfoProbe) SigningFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelError,
		"UserInfo response signing failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingUserInfoProbe) End() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "UserInfo request completed")
}

// AuthzCheckStarted implements service.AuthzCheckObserver
func (o *loggingObserver) AuthzCheckStarted(ctx context.Context) (context.Context, service.AuthzCheckProbe) {
	probeLogger := o.logger.With("event", EventAuthzCheck)

	probeLogger.LogAttrs(ctx, slog.LevelDebug, "Starting authorization check")

	return ctx, &loggingAuthzCheckProbe{
		ctx:    ctx,
		logger: probeLogger,
	}
}

// loggingAuthzCheckProbe is a request-scoped probe that logs authorization check events
type loggingAuthzCheckProbe struct {
	service.NoOpAuthzCheckProbe
	ctx    context.Context
	logger *slog.Logger
}

func (p *loggingAuthzCheckProbe) SubjectCredentialExtracted(cred trust.Credential) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"Subject credential extracted",
		slog.String("credential_type", string(cred.Type())),
	)
}

func (p *loggingAuthzCheckProbe) SubjectCredentialExtractionFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelInfo,
		"Subject credential extraction failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingAuthzCheckProbe) SubjectValidationSucceeded(result *token.ValidationResult) {
	var attrs []slog.Attr
	if result != nil {
		attrs = append(attrs,
			slog.String("authorized_user", result.AuthorizedUser),
			slog.String("client_id", result.ClientID),
		)
	}
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Subject validation succeeded", attrs...)
}

func (p *loggingAuthzCheckProbe) SubjectValidationFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelInfo,
		"Subject validation failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingAuthzCheckProbe) ClaimsForwarded(header string, names []string) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"Claims forwarded upstream",
		slog.String("header", header),
		slog.Any("claim_names", names),
	)
}

func (p *loggingAuthzCheckProbe) ClaimResolutionFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelError,
		"Claim resolution failed",
		slog.String("error", err.Error()),
	)
}

func (p *loggingAuthzCheckProbe) End() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Authorization check completed")
}

func claimNames(c claims.Claims) []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
