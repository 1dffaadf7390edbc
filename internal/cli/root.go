// Package cli implements the userinfo command line
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/project-kessel/userinfo/internal/config"
)

// BuildVersion is set at link time
var BuildVersion = "dev"

// configFile is the --config flag shared by every command
var configFile string

// NewRootCmd creates the userinfo command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "userinfo",
		Short: "OIDC UserInfo claim resolution service",
		Long: `userinfo resolves the claims of validated access tokens.

It serves the OpenID Connect UserInfo endpoint, an Envoy ext_authz check
that forwards resolved claims upstream, and tooling for its database.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (.yaml, .json, .toml); defaults to $USERINFO_CONFIG")

	rootCmd.AddCommand(
		NewServeCmd(),
		NewMigrateCmd(),
		NewClaimsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Printf("%s\n", BuildVersion)
			},
		},
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// configPath returns the --config flag or USERINFO_CONFIG
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return os.Getenv(config.EnvPrefix + "CONFIG")
}

// loadConfig loads configuration from file, environment and cmd's flags
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Loader, error) {
	loader, err := config.NewLoaderWithFlags(configPath(), cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := loader.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, loader, nil
}
