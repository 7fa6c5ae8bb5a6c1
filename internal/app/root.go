// Package app holds the cen CLI commands.
package app

import (
	"github.com/spf13/cobra"

	"github.com/cenproject/cen/internal/cenlog"
)

var (
	debugFlag bool

	// RootCmd is the root command for cen
	RootCmd = &cobra.Command{
		Use:   "cen",
		Short: "CEN - Camera Event Notifier",
		Long: `cen watches a camera feed, detects motion above a configurable
sensitivity, and sends Gmail notifications with throttling, anomaly
flagging, and periodic statistical summaries.

Quick Start:
  1. Create a "Desktop app" OAuth client in Google Cloud Console
  2. export GOOGLE_CLIENT_ID=... GOOGLE_CLIENT_SECRET=...
  3. cen login
  4. cen test-email --to you@example.com
  5. cen monitor --to you@example.com --snapshot

Examples:
  # Sign in with Google and store the token in the OS keyring
  cen login

  # Headless hosts: copy/paste flow, file-backed token
  cen login --console --storage file

  # Print the stored token as JSON (for the CEN_GMAIL_TOKEN_JSON env var)
  cen export-token

  # Watch the default webcam, mail on motion, hourly summaries
  cen monitor --to you@example.com --hourly-summary`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := cenlog.Setup(debugFlag)
			return err
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	RootCmd.AddCommand(loginCmd)
	RootCmd.AddCommand(exportTokenCmd)
	RootCmd.AddCommand(testEmailCmd)
	RootCmd.AddCommand(monitorCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}
