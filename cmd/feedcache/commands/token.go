package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
	tokenSecret  string
	newSecret    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token",
	Long: `Issue a bearer token for the admin routes, signed with ADMIN_JWT_SECRET.

Use --generate-secret to print a fresh random value for ADMIN_JWT_SECRET instead.

Example:
  curl -X DELETE -H "Authorization: Bearer $(feedcache token)" localhost:8080/api/v1/cache`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if newSecret {
			secret, err := security.GenerateAdminSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		}

		secret := tokenSecret
		if secret == "" {
			secret = config.AdminJWTSecret
		}
		if secret == "" {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}
		token, err := security.GenerateAdminToken(tokenSubject, secret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default: $ADMIN_JWT_SECRET)")
	tokenCmd.Flags().BoolVar(&newSecret, "generate-secret", false, "print a new random signing secret and exit")
}
