package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cenproject/cen/internal/auth"
)

var (
	loginGoogle      googleFlags
	loginForce       bool
	loginConsole     bool
	loginOpenBrowser bool

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google and store the OAuth token",
		Long: `Open a browser to sign in with Google and store the resulting token.

By default a short-lived local callback server is bound on the first free
candidate port and the browser opens automatically. On headless hosts use
--console: the consent URL is printed for manual visiting and the command
waits up to five minutes for the callback.`,
		Example: `  # Default: local callback server, browser opens automatically
  cen login

  # Headless/container: print the URL, wait for the pasted-back redirect
  cen login --console

  # Re-consent even if a stored token exists (fresh refresh token)
  cen login --force`,
		RunE: runLogin,
	}
)

func init() {
	loginGoogle.register(loginCmd)
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "force re-consent and get a new refresh token")
	loginCmd.Flags().BoolVar(&loginConsole, "console", false, "use the console flow (for headless hosts and containers)")
	loginCmd.Flags().BoolVar(&loginOpenBrowser, "open-browser", true, "open the browser automatically (local-server flow)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loginGoogle.toConfig()
	if err != nil {
		return err
	}

	store := newStore(cfg, auth.Options{
		Console:     loginConsole,
		OpenBrowser: loginOpenBrowser,
		LoginHint:   cfg.LoginHint,
	})

	if _, err := store.Login(cmd.Context(), loginForce); err != nil {
		return err
	}

	fmt.Println("Login completed and credentials stored.")
	return nil
}
