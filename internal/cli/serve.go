package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/project-kessel/userinfo/internal/config"
	"github.com/project-kessel/userinfo/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the userinfo server",
		Long: `Start the userinfo gRPC and HTTP servers.

The server will:
  - Serve the OpenID Connect UserInfo endpoint over HTTP
  - Publish the keys of signed UserInfo responses as a JWKS
  - Listen for gRPC requests (ext_authz, health)
  - Load configuration from file, environment variables, and command-line flags

Configuration precedence (highest to lowest):
  1. Command-line flags
  2. Environment variables (USERINFO_*)
  3. Configuration file (if --config or USERINFO_CONFIG is set)
  4. Built-in defaults

Examples:
  # Start with default settings
  userinfo serve

  # Override server ports
  userinfo serve --server-grpc-port 9091 --server-http-port 8081

  # Share the grant cache with peers
  userinfo serve --grant-cache-type distributed \
    --grant-cache-self http://10.0.0.1:8080 \
    --grant-cache-peers http://10.0.0.1:8080,http://10.0.0.2:8080

  # Use custom config file
  userinfo serve --config /etc/userinfo/config.yaml`,
		RunE: runServe,
	}

	// Auto-register all config flags
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// 1. Load configuration (file + env vars + flags)
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// 2. Create provider to build all components from config
	provider := config.NewProvider(cfg)
	defer func() { _ = provider.Close() }()

	// 3. Create logger and observer, one instance shared across all components
	logger := config.NewLogger(cfg.Observability)
	provider.SetLogger(logger)

	observer, err := config.NewObserverWithLogger(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("failed to create observer: %w", err)
	}
	provider.SetObserver(observer)

	// 4. Build components via provider
	serverCfg, err := provider.ServerConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	grantCache, err := provider.GrantCache(ctx)
	if err != nil {
		return err
	}
	go grantCache.Run(ctx)

	signing, err := provider.Signing(ctx)
	if err != nil {
		return err
	}
	if signing != nil && signing.RotationInterval > 0 {
		go signing.Ring.RunRotation(ctx, signing.RotationInterval, func(err error) {
			logger.Error("signing key rotation failed", "error", err)
		})
	}
	if serverCfg.JWKS != nil {
		serverCfg.JWKS.Start(ctx)
	}

	go func() {
		err := loader.Watch(ctx, logger, func(*config.Config) error {
			logger.Warn("configuration file changed; restart to apply", "path", configPath())
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("not watching configuration file", "error", err)
		}
	}()

	// 5. Create and start server
	srv := server.New(serverCfg)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// All components initialized: per-service statuses move to SERVING
	srv.SetReady()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "userinfo is running")
	fmt.Fprintf(out, "  HTTP (userinfo):       http://localhost:%d%s\n", serverCfg.HTTPPort, server.UserInfoPath)
	if serverCfg.JWKS != nil {
		fmt.Fprintf(out, "  HTTP (JWKS):           http://localhost:%d%s\n", serverCfg.HTTPPort, server.JWKSPath)
	}
	if serverCfg.AuthzServer != nil {
		fmt.Fprintf(out, "  gRPC (ext_authz):      localhost:%d\n", serverCfg.GRPCPort)
	}
	fmt.Fprintf(out, "  Health (gRPC):         localhost:%d (grpc.health.v1.Health)\n", serverCfg.GRPCPort)
	fmt.Fprintf(out, "  Health (HTTP live):    http://localhost:%d/healthz/live\n", serverCfg.HTTPPort)
	fmt.Fprintf(out, "  Health (HTTP ready):   http://localhost:%d/healthz/ready\n", serverCfg.HTTPPort)
	fmt.Fprintf(out, "  Issuer:                %s\n", cfg.Issuer)
	fmt.Fprintf(out, "  Config:                %s\n", configPath())

	// 6. Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	fmt.Fprintln(out, "\nShutting down...")

	// 7. Graceful shutdown
	if err := srv.Stop(context.Background()); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	fmt.Fprintln(out, "Shutdown complete")
	return nil
}
