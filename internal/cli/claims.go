package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/config"
	"github.com/project-kessel/userinfo/internal/sp"
	"github.com/project-kessel/userinfo/internal/token"
)

type claimsOptions struct {
	tokenID   string
	user      string
	userStore string
	client    string
	tenant    string
	skipCache bool
	output    string
}

// NewClaimsCmd creates the claims command
func NewClaimsCmd() *cobra.Command {
	opts := &claimsOptions{}

	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Resolve the UserInfo claims of a token or user",
		Long: `Resolve UserInfo claims offline, using the configured stores.

With --token-id the access token record is read from the token store and
claims are resolved exactly as the UserInfo endpoint would, grant cache
included. With --user and --client the user store is read directly.

Examples:
  # Claims of an issued access token
  userinfo claims --config config.yaml --token-id 6f2e...

  # Claims a client would receive for a user
  userinfo claims --config config.yaml --user alice --client portal-client -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaims(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tokenID, "token-id", "", "access token identifier to resolve")
	cmd.Flags().StringVar(&opts.user, "user", "", "user ID to resolve (requires --client)")
	cmd.Flags().StringVar(&opts.userStore, "user-store", "", "user store domain of --user")
	cmd.Flags().StringVar(&opts.client, "client", "", "client ID whose service provider selects claims")
	cmd.Flags().StringVar(&opts.tenant, "tenant", sp.DefaultTenant, "tenant domain of --user")
	cmd.Flags().BoolVar(&opts.skipCache, "skip-cache", false, "ignore the grant cache when resolving --token-id")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")
	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runClaims(cmd *cobra.Command, opts *claimsOptions) error {
	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unsupported output format %q (use json or yaml)", opts.output)
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	provider := config.NewProvider(cfg)
	defer func() { _ = provider.Close() }()
	provider.SetLogger(config.NewLogger(cfg.Observability))

	ctx := cmd.Context()
	resolver, err := provider.ClaimResolver(ctx)
	if err != nil {
		return err
	}

	var resolved claims.Claims
	switch {
	case opts.tokenID != "":
		result, err := tokenResult(cmd, provider, opts.tokenID)
		if err != nil {
			return err
		}
		if opts.skipCache {
			resolved, err = resolver.ResolveFromUserStore(ctx, result)
		} else {
			resolved, err = resolver.Resolve(ctx, result)
		}
		if err != nil {
			return err
		}
	case opts.user != "":
		if opts.client == "" {
			return errors.New("--user requires --client")
		}
		result := &token.ValidationResult{
			Valid:          true,
			AuthorizedUser: opts.user,
			ClientID:       opts.client,
			User: &token.AuthenticatedUser{
				UserID:          opts.user,
				Username:        opts.user,
				TenantDomain:    opts.tenant,
				UserStoreDomain: opts.userStore,
			},
		}
		resolved, err = resolver.ResolveFromUserStore(ctx, result)
		if err != nil {
			return err
		}
	default:
		return errors.New("one of --token-id or --user is required")
	}

	return writeClaims(cmd, resolved, opts.output)
}

func tokenResult(cmd *cobra.Command, provider *config.Provider, tokenID string) (*token.ValidationResult, error) {
	tokens, err := provider.TokenStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	t, err := tokens.AccessToken(cmd.Context(), tokenID)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", tokenID, err)
	}

	user := t.AuthzUser
	return &token.ValidationResult{
		Valid:           t.Usable(time.Now()),
		TokenIdentifier: t.TokenIdentifier,
		AuthorizedUser:  user.Username,
		User:            &user,
		ClientID:        t.ConsumerKey,
		Scope:           t.Scope,
		ExpiresAt:       t.ExpiresAt,
	}, nil
}

func writeClaims(cmd *cobra.Command, c claims.Claims, format string) error {
	out := cmd.OutOrStdout()
	if format == "yaml" {
		b, err := yaml.Marshal(map[string]any(c))
		if err != nil {
			return fmt.Errorf("failed to encode claims: %w", err)
		}
		_, err = out.Write(b)
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
