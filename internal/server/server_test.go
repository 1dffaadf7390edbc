package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/project-kessel/userinfo/internal/config"
	"github.com/project-kessel/userinfo/internal/fs"
	"github.com/project-kessel/userinfo/internal/keys"
	"github.com/project-kessel/userinfo/internal/server"
	"github.com/project-kessel/userinfo/internal/sp"
)

const (
	localEmail = "http://wso2.org/claims/emailaddress"
	localGiven = "http://wso2.org/claims/givenname"
)

type testEnv struct {
	srv      *server.Server
	httpBase string
	grpcConn *grpc.ClientConn
}

// freePort asks the kernel for an unused TCP port
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

// waitForServer polls the given port until a TCP connection succeeds
func waitForServer(t *testing.T, port int) {
	t.Helper()
	addr := fmt.Sprintf("localhost:%d", port)
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond, "server on port %d did not start", port)
}

func hermeticConfig(t *testing.T) *config.Config {
	t.Helper()
	loader, err := config.NewLoader("")
	require.NoError(t, err)
	cfg, err := loader.Get()
	require.NoError(t, err)

	cfg.Server.GRPCPort = freePort(t)
	cfg.Server.HTTPPort = freePort(t)
	cfg.Issuer = "https://userinfo.test"

	mappings := []sp.ClaimMapping{
		{LocalClaim: sp.Claim{URI: localEmail}, RemoteClaim: sp.Claim{URI: "email"}, Requested: true},
		{LocalClaim: sp.Claim{URI: localGiven}, RemoteClaim: sp.Claim{URI: "given_name"}, Requested: true},
	}
	cfg.ServiceProviders = []sp.ServiceProvider{
		{Name: "portal", SubjectClaimURI: localEmail, ClaimMappings: mappings},
		{Name: "mobile", SubjectClaimURI: localEmail, ClaimMappings: mappings, UserInfoSigned: true},
	}
	cfg.Applications = []sp.App{
		{ClientID: "portal-client", ServiceProvider: "portal"},
		{ClientID: "mobile-client", ServiceProvider: "mobile"},
	}
	cfg.UserStores = []config.UserStoreConfig{{
		Type: "memory",
		Users: []config.UserConfig{{
			ID:     "u-1",
			Claims: map[string][]string{localEmail: {"alice@example.com"}, localGiven: {"Alice"}},
		}},
	}}
	cfg.TokenStore.Tokens = []config.AccessTokenConfig{
		{TokenID: "tok-portal", ConsumerKey: "portal-client", UserID: "u-1", Username: "alice"},
		{TokenID: "tok-mobile", ConsumerKey: "mobile-client", UserID: "u-1", Username: "alice"},
		{TokenID: "tok-revoked", ConsumerKey: "portal-client", UserID: "u-1", Username: "alice", Inactive: true},
	}
	cfg.Signing = config.SigningConfig{Enabled: true, KeyType: string(keys.KeyTypeECP256)}
	cfg.AuthzServer = &config.AuthzServerConfig{AllowClaims: []string{"sub", "email"}}
	return cfg
}

func startTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	provider := config.NewProvider(cfg)
	provider.SetFileSystem(fs.NewMemFileSystem())

	serverCfg, err := provider.ServerConfig(ctx)
	require.NoError(t, err)
	if serverCfg.JWKS != nil {
		serverCfg.JWKS.Start(ctx)
	}

	srv := server.New(serverCfg)
	require.NoError(t, srv.Start(ctx))
	waitForServer(t, cfg.Server.GRPCPort)
	waitForServer(t, cfg.Server.HTTPPort)

	conn, err := grpc.NewClient(fmt.Sprintf("localhost:%d", cfg.Server.GRPCPort),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = srv.Stop(stopCtx)
		cancel()
		_ = provider.Close()
	})

	return &testEnv{
		srv:      srv,
		httpBase: fmt.Sprintf("http://localhost:%d", cfg.Server.HTTPPort),
		grpcConn: conn,
	}
}

func (e *testEnv) get(t *testing.T, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.httpBase+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_EndToEnd(t *testing.T) {
	env := startTestEnv(t, hermeticConfig(t))

	t.Run("readiness before SetReady", func(t *testing.T) {
		resp := env.get(t, "/healthz/ready", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		live := env.get(t, "/healthz/live", "")
		assert.Equal(t, http.StatusOK, live.StatusCode)
	})

	env.srv.SetReady()

	t.Run("readiness after SetReady", func(t *testing.T) {
		resp := env.get(t, "/healthz/ready", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		health := healthpb.NewHealthClient(env.grpcConn)
		res, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.UserInfoServiceName})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
	})

	t.Run("userinfo JSON", func(t *testing.T) {
		resp := env.get(t, server.UserInfoPath, "tok-portal")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

		var got map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, map[string]any{
			"sub":        "alice@example.com",
			"email":      "alice@example.com",
			"given_name": "Alice",
		}, got)
	})

	t.Run("signed userinfo verifies against published JWKS", func(t *testing.T) {
		resp := env.get(t, server.UserInfoPath, "tok-mobile")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/jwt", resp.Header.Get("Content-Type"))

		compact, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		jwksResp := env.get(t, server.JWKSPath, "")
		require.Equal(t, http.StatusOK, jwksResp.StatusCode)
		body, err := io.ReadAll(jwksResp.Body)
		require.NoError(t, err)
		set, err := jwk.Parse(body)
		require.NoError(t, err)

		tok, err := jwt.Parse(compact, jwt.WithKeySet(set), jwt.WithValidate(false))
		require.NoError(t, err)
		sub, _ := tok.Subject()
		assert.Equal(t, "alice@example.com", sub)
		iss, _ := tok.Issuer()
		assert.Equal(t, "https://userinfo.test", iss)
	})

	t.Run("revoked token", func(t *testing.T) {
		resp := env.get(t, server.UserInfoPath, "tok-revoked")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer error=")

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "invalid_token", body["error"])
		assert.Empty(t, body["traceId"], "client errors carry no trace id")
	})

	t.Run("ext_authz forwards filtered claims", func(t *testing.T) {
		authz := authv3.NewAuthorizationClient(env.grpcConn)
		res, err := authz.Check(context.Background(), checkRequest("Bearer tok-portal"))
		require.NoError(t, err)
		require.Equal(t, int32(codes.OK), res.GetStatus().GetCode())

		ok := res.GetOkResponse()
		require.NotNil(t, ok)
		require.Len(t, ok.GetHeaders(), 1)
		header := ok.GetHeaders()[0].GetHeader()
		assert.Equal(t, server.DefaultClaimsHeader, header.GetKey())
		assert.Contains(t, ok.GetHeadersToRemove(), "authorization")

		decoded, err := base64.RawURLEncoding.DecodeString(header.GetValue())
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(decoded, &got))
		assert.Equal(t, map[string]any{"sub": "alice@example.com", "email": "alice@example.com"}, got)
	})

	t.Run("ext_authz denies revoked token", func(t *testing.T) {
		authz := authv3.NewAuthorizationClient(env.grpcConn)
		res, err := authz.Check(context.Background(), checkRequest("Bearer tok-revoked"))
		require.NoError(t, err)
		assert.Equal(t, int32(codes.Unauthenticated), res.GetStatus().GetCode())
	})
}

func checkRequest(authorization string) *authv3.CheckRequest {
	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Request: &authv3.AttributeContext_Request{
				Http: &authv3.AttributeContext_HttpRequest{
					Method:  http.MethodGet,
					Path:    "/api/orders",
					Headers: map[string]string{"authorization": authorization},
				},
			},
		},
	}
}
