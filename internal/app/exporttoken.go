package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cenproject/cen/internal/auth"
)

var (
	exportGoogle googleFlags

	exportTokenCmd = &cobra.Command{
		Use:   "export-token",
		Short: "Print the authorized-user token JSON",
		Long: `Print the stored credential as authorized-user JSON.

Use the output to seed the CEN_GMAIL_TOKEN_JSON environment variable on a
host without a keyring or token file. Triggers a login if no valid
credential is stored.`,
		RunE: runExportToken,
	}
)

func init() {
	exportGoogle.register(exportTokenCmd)
}

func runExportToken(cmd *cobra.Command, args []string) error {
	cfg, err := exportGoogle.toConfig()
	if err != nil {
		return err
	}

	store := newStore(cfg, auth.Options{OpenBrowser: true, LoginHint: cfg.LoginHint})

	raw, err := store.ExportJSON(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(string(raw))
	return nil
}
