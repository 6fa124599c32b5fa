package main

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/config"
)

var (
	tokenOwner string
	tokenTTL   time.Duration
	tokenSave  bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for a user",
	Long: `Issue a signed access token. The signing secret is resolved the same way
"serve" resolves it, so run this where the server's environment is available.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "user the token is issued to (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token in the client profile")
	_ = tokenCmd.MarkFlagRequired("owner")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()

	var awsCfg aws.Config
	if cfg.SecretBackend == "ssm" {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to load AWS config: %w", err)
		}
	}

	tokens, err := newTokens(cmd.Context(), cfg, awsCfg, clock.System())
	if err != nil {
		return err
	}
	tok, err := tokens.Issue(tokenOwner, tokenTTL)
	if err != nil {
		return err
	}

	if tokenSave {
		path, profile, err := loadProfile()
		if err != nil {
			return err
		}
		profile.Token = tok
		if err := profile.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token for %s saved to %s\n", tokenOwner, path)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
