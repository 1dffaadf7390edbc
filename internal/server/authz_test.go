package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/grpc/codes"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/oauth"
	"github.com/project-kessel/userinfo/internal/service"
	"github.com/project-kessel/userinfo/internal/token"
	"github.com/project-kessel/userinfo/internal/trust"
)

type resolverFunc func(ctx context.Context, result *token.ValidationResult) (claims.Claims, error)

func (f resolverFunc) Resolve(ctx context.Context, result *token.ValidationResult) (claims.Claims, error) {
	return f(ctx, result)
}

func staticResolver(c claims.Claims) resolverFunc {
	return func(context.Context, *token.ValidationResult) (claims.Claims, error) {
		return c.Copy(), nil
	}
}

func checkRequest(headers map[string]string) *authv3.CheckRequest {
	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Request: &authv3.AttributeContext_Request{
				Http: &authv3.AttributeContext_HttpRequest{
					Method:  "GET",
					Path:    "/api/resource",
					Headers: headers,
				},
			},
		},
	}
}

func decodeClaimsHeader(t *testing.T, resp *authv3.CheckResponse, header string) claims.Claims {
	t.Helper()
	okResp := resp.GetOkResponse()
	if okResp == nil {
		t.Fatalf("expected OK response, got %v", resp.GetDeniedResponse())
	}
	for _, h := range okResp.Headers {
		if h.Header.Key != header {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(h.Header.Value)
		if err != nil {
			t.Fatalf("claims header is not base64url: %v", err)
		}
		var out claims.Claims
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("claims header is not JSON: %v", err)
		}
		return out
	}
	t.Fatalf("header %s not found in %v", header, okResp.Headers)
	return nil
}

func TestAuthzServer_Check(t *testing.T) {
	ctx := context.Background()

	stubValidator := trust.NewStubValidator()
	trustStore := trust.NewValidatorStore(stubValidator)
	resolved := claims.Claims{"sub": "alice", "email": "alice@example.com", "roles": []any{"admin", "dev"}}

	authzServer := NewAuthzServer(AuthzServerConfig{
		TrustStore: trustStore,
		Resolver:   staticResolver(resolved),
	})

	t.Run("successful authorization", func(t *testing.T) {
		resp, err := authzServer.Check(ctx, checkRequest(map[string]string{
			"authorization": "Bearer test-token-123",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Status.Code != int32(codes.OK) {
			t.Fatalf("expected OK status, got code %d: %s", resp.Status.Code, resp.Status.Message)
		}

		got := decodeClaimsHeader(t, resp, DefaultClaimsHeader)
		if got.Subject() != "alice" {
			t.Errorf("expected sub alice, got %v", got["sub"])
		}
		if got.GetString("email") != "alice@example.com" {
			t.Errorf("expected email claim, got %v", got["email"])
		}

		okResp := resp.GetOkResponse()
		if len(okResp.HeadersToRemove) != 1 || okResp.HeadersToRemove[0] != "authorization" {
			t.Errorf("expected authorization to be removed, got %v", okResp.HeadersToRemove)
		}
	})

	t.Run("missing authorization header", func(t *testing.T) {
		resp, err := authzServer.Check(ctx, checkRequest(map[string]string{}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Status.Code != int32(codes.Unauthenticated) {
			t.Errorf("expected Unauthenticated, got %d", resp.Status.Code)
		}
		denied := resp.GetDeniedResponse()
		if denied == nil {
			t.Fatal("expected denied response, got nil")
		}
		if denied.Status.GetCode() != typev3.StatusCode_Unauthorized {
			t.Errorf("expected HTTP 401, got %v", denied.Status.GetCode())
		}
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		resp, _ := authzServer.Check(ctx, checkRequest(map[string]string{"authorization": "Basic dXNlcjpwYXNz"}))
		if resp.GetDeniedResponse() == nil {
			t.Error("expected denial for basic auth")
		}
	})

	t.Run("invalid bearer token", func(t *testing.T) {
		stubValidator.WithError(trust.ErrInvalidToken)
		defer stubValidator.WithError(nil)

		resp, err := authzServer.Check(ctx, checkRequest(map[string]string{"authorization": "Bearer invalid-token"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Status.Code != int32(codes.Unauthenticated) {
			t.Errorf("expected Unauthenticated, got %d", resp.Status.Code)
		}
	})
}

func TestAuthzServer_ClaimResolutionFailures(t *testing.T) {
	ctx := context.Background()
	req := checkRequest(map[string]string{"authorization": "Bearer test-token"})

	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
	}{
		{"inactive token", oauth.NewInvalidTokenError("Invalid Access Token. Access token is not ACTIVE.", nil), codes.Unauthenticated},
		{"user store failure", oauth.NewUserInfoError(oauth.CodeServerError, "Error while retrieving claims for user: alice", errors.New("ldap down")), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observer := service.NewFakeObserver(t)
			srv := NewAuthzServer(AuthzServerConfig{
				TrustStore: trust.NewValidatorStore(trust.NewStubValidator()),
				Resolver: resolverFunc(func(context.Context, *token.ValidationResult) (claims.Claims, error) {
					return nil, tt.err
				}),
				Observer: observer,
			})

			resp, err := srv.Check(ctx, req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Status.Code != int32(tt.wantCode) {
				t.Errorf("expected code %v, got %d", tt.wantCode, resp.Status.Code)
			}
			if tt.wantCode == codes.Internal && resp.GetDeniedResponse().GetBody() != "failed to resolve claims" {
				t.Errorf("internal failures must not leak details, got %q", resp.GetDeniedResponse().GetBody())
			}

			probe := observer.AssertSingleProbe("AuthzCheckStarted")
			probe.AssertProbeSequence(
				"SubjectCredentialExtracted",
				"SubjectValidationSucceeded",
				service.ProbeCall("ClaimResolutionFailed", service.AnyError()),
				"End",
			)
		})
	}
}

func TestAuthzServer_ClaimFiltering(t *testing.T) {
	ctx := context.Background()
	resolved := claims.Claims{"sub": "alice", "email": "alice@example.com", "phone_number": "+1-555-0100"}
	req := checkRequest(map[string]string{"authorization": "Bearer test-token"})

	tests := []struct {
		name   string
		filter claims.Filter
		want   []string
	}{
		{"allow list", claims.NewAllowList([]string{"sub", "email"}), []string{"email", "sub"}},
		{"deny list keeps sub", claims.NewDenyList([]string{"sub", "phone_number"}), []string{"email", "sub"}},
		{"passthrough", nil, []string{"email", "phone_number", "sub"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observer := service.NewFakeObserver(t)
			srv := NewAuthzServer(AuthzServerConfig{
				TrustStore:   trust.NewValidatorStore(trust.NewStubValidator()),
				Resolver:     staticResolver(resolved),
				ClaimsHeader: "X-Identity",
				Filter:       tt.filter,
				Observer:     observer,
			})

			resp, err := srv.Check(ctx, req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := decodeClaimsHeader(t, resp, "x-identity")
			if len(got) != len(tt.want) {
				t.Errorf("expected claims %v, got %v", tt.want, got)
			}

			probe := observer.AssertSingleProbe("AuthzCheckStarted")
			probe.AssertProbeSequence(
				"SubjectCredentialExtracted",
				"SubjectValidationSucceeded",
				service.ProbeCall("ClaimsForwarded", "x-identity", tt.want),
				"End",
			)
		})
	}
}

func TestAuthzServer_JWTCredential(t *testing.T) {
	var seen trust.Credential
	store := trustStoreFunc(func(ctx context.Context, cred trust.Credential) (*token.ValidationResult, error) {
		seen = cred
		return &token.ValidationResult{Valid: true, AuthorizedUser: "alice"}, nil
	})
	srv := NewAuthzServer(AuthzServerConfig{TrustStore: store, Resolver: staticResolver(claims.Claims{"sub": "alice"})})

	// header {"alg":"RS256","kid":"k1"}, payload {"sub":"alice"}
	jwtToken := "eyJhbGciOiJSUzI1NiIsImtpZCI6ImsxIn0.eyJzdWIiOiJhbGljZSJ9.c2ln"
	if _, err := srv.Check(context.Background(), checkRequest(map[string]string{"authorization": "Bearer " + jwtToken})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.Type() != trust.CredentialTypeJWT {
		t.Errorf("expected a JWT credential, got %v", seen)
	}
}

type trustStoreFunc func(ctx context.Context, cred trust.Credential) (*token.ValidationResult, error)

func (f trustStoreFunc) Validate(ctx context.Context, cred trust.Credential) (*token.ValidationResult, error) {
	return f(ctx, cred)
}
