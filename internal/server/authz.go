package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/oauth"
	"github.com/project-kessel/userinfo/internal/service"
	"github.com/project-kessel/userinfo/internal/trust"
)

// DefaultClaimsHeader carries the resolved claims to the upstream service
const DefaultClaimsHeader = "x-userinfo-claims"

// AuthzServerConfig configures an AuthzServer
type AuthzServerConfig struct {
	TrustStore trust.Store
	Resolver   service.Resolver

	// ClaimsHeader is the upstream header holding base64url encoded JSON
	// claims. Defaults to DefaultClaimsHeader.
	ClaimsHeader string

	// Filter narrows the forwarded claims. Defaults to all claims.
	Filter claims.Filter

	Observer service.AuthzCheckObserver
}

// AuthzServer implements Envoy's ext_authz Authorization service. It
// validates the request's bearer token and forwards the subject's claims
// upstream in place of the token.
type AuthzServer struct {
	authv3.UnimplementedAuthorizationServer

	trustStore trust.Store
	resolver   service.Resolver
	header     string
	filter     claims.Filter
	observer   service.AuthzCheckObserver
}

// NewAuthzServer creates a new ext_authz server
func NewAuthzServer(cfg AuthzServerConfig) *AuthzServer {
	header := strings.ToLower(cfg.ClaimsHeader)
	if header == "" {
		header = DefaultClaimsHeader
	}
	filter := cfg.Filter
	if filter == nil {
		filter = claims.Passthrough{}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = service.NoOpObserver()
	}

	return &AuthzServer{
		trustStore: cfg.TrustStore,
		resolver:   cfg.Resolver,
		header:     header,
		filter:     filter,
		observer:   observer,
	}
}

// Check implements the ext_authz check endpoint
func (s *AuthzServer) Check(ctx context.Context, req *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	ctx, probe := s.observer.AuthzCheckStarted(ctx)
	defer probe.End()

	cred, headersUsed, err := s.extractCredential(req)
	if err != nil {
		probe.SubjectCredentialExtractionFailed(err)
		return s.denyResponse(codes.Unauthenticated, fmt.Sprintf("failed to extract credentials: %v", err)), nil
	}
	probe.SubjectCredentialExtracted(cred)

	result, err := s.trustStore.Validate(ctx, cred)
	if err == nil && (result == nil || !result.Valid) {
		err = trust.ErrInvalidToken
	}
	if err != nil {
		probe.SubjectValidationFailed(err)
		return s.denyResponse(codes.Unauthenticated, fmt.Sprintf("validation failed: %v", err)), nil
	}
	probe.SubjectValidationSucceeded(result)

	resolved, err := s.resolver.Resolve(ctx, result)
	if err != nil {
		probe.ClaimResolutionFailed(err)
		if oauth.IsKind(err, oauth.KindInvalidToken) {
			return s.denyResponse(codes.Unauthenticated, err.Error()), nil
		}
		return s.denyResponse(codes.Internal, "failed to resolve claims"), nil
	}

	forwarded := s.filter.Filter(resolved)
	encoded, err := json.Marshal(forwarded)
	if err != nil {
		probe.ClaimResolutionFailed(err)
		return s.denyResponse(codes.Internal, "failed to encode claims"), nil
	}

	names := make([]string, 0, len(forwarded))
	for name := range forwarded {
		names = append(names, name)
	}
	slices.Sort(names)
	probe.ClaimsForwarded(s.header, names)

	// The incoming token is removed so that it never reaches the backend.
	// The claims header is overwritten so that clients cannot inject it.
	return &authv3.CheckResponse{
		Status: &status.Status{
			Code: int32(codes.OK),
		},
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{{
					Header: &corev3.HeaderValue{
						Key:   s.header,
						Value: base64.RawURLEncoding.EncodeToString(encoded),
					},
					AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
				}},
				HeadersToRemove: headersUsed,
			},
		},
	}, nil
}

// extractCredential extracts credentials from the Envoy request
// Returns the credential and the list of headers that were used to extract it
func (s *AuthzServer) extractCredential(req *authv3.CheckRequest) (trust.Credential, []string, error) {
	httpReq := req.GetAttributes().GetRequest().GetHttp()
	if httpReq == nil {
		return nil, nil, fmt.Errorf("no HTTP request attributes")
	}

	authHeader := httpReq.GetHeaders()["authorization"]
	if authHeader == "" {
		return nil, nil, fmt.Errorf("no authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, nil, fmt.Errorf("unsupported authorization scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, fmt.Errorf("empty bearer token")
	}
	return trust.ParseCredential(token), []string{"authorization"}, nil
}

// denyResponse creates a denial response
func (s *AuthzServer) denyResponse(code codes.Code, message string) *authv3.CheckResponse {
	httpStatus := typev3.StatusCode_Forbidden
	switch code {
	case codes.Unauthenticated:
		httpStatus = typev3.StatusCode_Unauthorized
	case codes.Internal:
		httpStatus = typev3.StatusCode_InternalServerError
	}

	return &authv3.CheckResponse{
		Status: &status.Status{
			Code:    int32(code),
			Message: message,
		},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status: &typev3.HttpStatus{Code: httpStatus},
				Body:   message,
			},
		},
	}
}
