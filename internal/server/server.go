package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// UserInfoServiceName is the health service name of the HTTP UserInfo endpoint
const UserInfoServiceName = "userinfo.UserInfo"

// CachePeerPath is where groupcache peers reach each other
const CachePeerPath = "/_groupcache/"

// healthServices are reported by the readiness endpoint, in order
var healthServices = []string{
	authv3.Authorization_ServiceDesc.ServiceName,
	UserInfoServiceName,
}

// Server manages the gRPC and HTTP servers
type Server struct {
	grpcServer   *grpc.Server
	httpServer   *http.Server
	healthServer *health.Server

	grpcPort int
	httpPort int

	authzServer *AuthzServer
	userInfo    *UserInfoHandler
	jwks        *JWKSHandler
	cachePeers  http.Handler
	logger      *slog.Logger
}

// Config contains server configuration
type Config struct {
	GRPCPort int
	HTTPPort int

	AuthzServer *AuthzServer
	UserInfo    *UserInfoHandler

	// JWKS is nil when responses are never signed
	JWKS *JWKSHandler

	// CachePeers serves groupcache peer requests when the grant cache is
	// distributed
	CachePeers http.Handler

	Logger *slog.Logger
}

// New creates a new server with the given configuration
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		grpcPort:     cfg.GRPCPort,
		httpPort:     cfg.HTTPPort,
		authzServer:  cfg.AuthzServer,
		userInfo:     cfg.UserInfo,
		jwks:         cfg.JWKS,
		cachePeers:   cfg.CachePeers,
		logger:       logger,
		healthServer: health.NewServer(),
	}
}

// Start starts both the gRPC and HTTP servers. Readiness reports
// NOT_SERVING until SetReady is called.
func (s *Server) Start(ctx context.Context) error {
	s.grpcServer = grpc.NewServer()

	for _, svc := range healthServices {
		s.healthServer.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)

	if s.authzServer != nil {
		authv3.RegisterAuthorizationServer(s.grpcServer, s.authzServer)
	}

	// Register reflection service for grpcurl and other tools
	reflection.Register(s.grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %d: %w", s.grpcPort, err)
	}

	go func() {
		s.logger.Info("gRPC server listening", "port", s.grpcPort)
		if err := s.grpcServer.Serve(grpcListener); err != nil {
			s.logger.Error("gRPC server error", "error", err)
		}
	}()

	mux, err := s.httpMux()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.httpPort),
		Handler: mux,
	}

	go func() {
		s.logger.Info("HTTP server listening", "port", s.httpPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

type route struct {
	method  string
	pattern string
	handler http.Handler
}

// httpMux routes the HTTP endpoints on a grpc-gateway mux
func (s *Server) httpMux() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodGet, "/healthz/live", http.HandlerFunc(s.handleLiveness)},
		{http.MethodGet, "/healthz/ready", http.HandlerFunc(s.handleReadiness)},
	}
	if s.userInfo != nil {
		routes = append(routes,
			route{http.MethodGet, UserInfoPath, s.userInfo},
			route{http.MethodPost, UserInfoPath, s.userInfo},
		)
	}
	if s.jwks != nil {
		routes = append(routes, route{http.MethodGet, JWKSPath, s.jwks})
	}
	if s.cachePeers != nil {
		routes = append(routes, route{http.MethodGet, CachePeerPath + "{path=**}", s.cachePeers})
	}

	for _, r := range routes {
		h := r.handler
		if err := mux.HandlePath(r.method, r.pattern, func(w http.ResponseWriter, req *http.Request, _ map[string]string) {
			h.ServeHTTP(w, req)
		}); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

// SetReady marks every service SERVING
func (s *Server) SetReady() {
	for _, svc := range healthServices {
		s.healthServer.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleReadiness reports the first service that is not SERVING
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	for _, svc := range healthServices {
		resp, err := s.healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{Service: svc})
		if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			writeHealth(w, http.StatusServiceUnavailable, map[string]string{
				"status":  healthpb.HealthCheckResponse_NOT_SERVING.String(),
				"service": svc,
			})
			return
		}
	}
	writeHealth(w, http.StatusOK, map[string]string{"status": healthpb.HealthCheckResponse_SERVING.String()})
}

func writeHealth(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Stop gracefully stops both servers
func (s *Server) Stop(ctx context.Context) error {
	s.healthServer.Shutdown()

	if s.jwks != nil {
		s.jwks.Stop()
	}

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}
