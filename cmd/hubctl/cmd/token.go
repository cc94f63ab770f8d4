package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/shared/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage session tokens",
}

var (
	tokenUID    string
	tokenUser   string
	tokenDomain string
	tokenTTL    time.Duration
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a session token for an operator",
	Long: `Issues a signed session token. --user may be a bare username, in which
case the configured e-mail domain is appended. Exchange it once at
POST /api/v1/session/login, then send it as "Authorization: Bearer <token>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, email, err := issueToken(cfg.Auth, tokenUID, tokenUser, tokenDomain, tokenTTL)
		if err != nil {
			return err
		}

		pterm.Info.Printf("Issued for %s (%s), rank %s\n", email, tokenUID,
			auth.StaticRole(auth.UsernameFromEmail(email)))
		fmt.Println(token)
		return nil
	},
}

// issueToken signs a token for uid. A stored role document takes precedence
// over the static rank printed above.
func issueToken(ac config.AuthConfig, uid, user, domain string, ttl time.Duration) (string, string, error) {
	user = strings.TrimSpace(user)
	if uid == "" || user == "" {
		return "", "", fmt.Errorf("--uid and --user are required")
	}

	email := user
	if !strings.Contains(user, "@") {
		if domain == "" {
			domain = ac.EmailDomain
		}
		email = user + "@" + domain
	}

	token, err := auth.NewTokenProvider(ac).Issue(uid, email, ttl)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue token: %w", err)
	}
	return token, strings.ToLower(email), nil
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenUID, "uid", "", "Identity id (role documents are keyed by it)")
	tokenIssueCmd.Flags().StringVar(&tokenUser, "user", "", "Username or e-mail")
	tokenIssueCmd.Flags().StringVar(&tokenDomain, "domain", "", "E-mail domain for bare usernames (default AUTH_EMAIL_DOMAIN)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default SESSION_TTL)")
	tokenCmd.AddCommand(tokenIssueCmd)
}
