package app

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/cenproject/cen/internal/auth"
	"github.com/cenproject/cen/internal/cenlog"
	"github.com/cenproject/cen/internal/config"
	"github.com/cenproject/cen/internal/credstore"
)

// googleFlags are the credential/storage flags shared by every command.
type googleFlags struct {
	clientID     string
	clientSecret string
	scopes       string
	storage      string
	tokenPath    string
	loginHint    string
}

// register adds the shared flags to cmd with environment-variable defaults.
func (g *googleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.clientID, "client-id", config.Getenv("GOOGLE_CLIENT_ID"), "Google OAuth client ID (env GOOGLE_CLIENT_ID)")
	cmd.Flags().StringVar(&g.clientSecret, "client-secret", config.Getenv("GOOGLE_CLIENT_SECRET"), "Google OAuth client secret (env GOOGLE_CLIENT_SECRET)")
	cmd.Flags().StringVar(&g.scopes, "scopes", config.GmailSendScope, "OAuth scopes (comma-separated)")
	cmd.Flags().StringVar(&g.storage, "storage", defaultStorage(), "token storage backend: keyring or file (env CEN_TOKEN_STORAGE)")
	cmd.Flags().StringVar(&g.tokenPath, "token-path", "token.json", "token file location (file backend)")
	cmd.Flags().StringVar(&g.loginHint, "login-hint", config.Getenv("GMAIL_LOGIN_HINT"), "suggest account email on the Google consent screen (env GMAIL_LOGIN_HINT)")
}

func defaultStorage() string {
	if s := config.Getenv("CEN_TOKEN_STORAGE"); s != "" {
		return s
	}
	return config.StorageKeyring
}

// toConfig validates the flags into a GoogleConfig.
func (g *googleFlags) toConfig() (config.GoogleConfig, error) {
	cfg := config.GoogleConfig{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		Scopes:       config.ParseScopes(g.scopes),
		Storage:      g.storage,
		TokenPath:    g.tokenPath,
		LoginHint:    g.loginHint,
	}
	if err := cfg.Validate(); err != nil {
		return config.GoogleConfig{}, err
	}
	return cfg, nil
}

// newStore wires a credential store whose interactive fallback runs the
// consent flow described by opts.
func newStore(cfg config.GoogleConfig, opts auth.Options) *credstore.Store {
	var store *credstore.Store
	authorize := func(ctx context.Context) (*oauth2.Token, error) {
		flow := auth.New(store.OAuthConfig(), cenlog.Named("auth"))
		return flow.Authorize(ctx, opts)
	}
	store = credstore.New(cfg, authorize, cenlog.Named("credstore"))
	return store
}
