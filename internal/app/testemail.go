package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/cenproject/cen/internal/auth"
	"github.com/cenproject/cen/internal/cenlog"
	"github.com/cenproject/cen/internal/config"
	"github.com/cenproject/cen/internal/mailer"
)

var (
	testEmailGoogle  googleFlags
	testEmailTo      string
	testEmailSubject string
	testEmailBody    string
	testEmailSender  string

	testEmailCmd = &cobra.Command{
		Use:   "test-email",
		Short: "Send a test email to verify the Gmail configuration",
		RunE:  runTestEmail,
	}
)

func init() {
	testEmailGoogle.register(testEmailCmd)
	testEmailCmd.Flags().StringVar(&testEmailTo, "to", "", "recipient email (required)")
	testEmailCmd.Flags().StringVar(&testEmailSubject, "subject", "CEN test email", "email subject")
	testEmailCmd.Flags().StringVar(&testEmailBody, "body", "Hello from CEN", "email body")
	testEmailCmd.Flags().StringVar(&testEmailSender, "sender", config.Getenv("GMAIL_SENDER"), "override sender, defaults to the authenticated account (env GMAIL_SENDER)")
	testEmailCmd.MarkFlagRequired("to")
}

func runTestEmail(cmd *cobra.Command, args []string) error {
	cfg, err := testEmailGoogle.toConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store := newStore(cfg, auth.Options{OpenBrowser: true, LoginHint: cfg.LoginHint})
	ts, err := store.TokenSource(ctx)
	if err != nil {
		return err
	}

	sender, err := mailer.NewGmailSender(ctx, option.WithTokenSource(ts), cenlog.Named("mailer"))
	if err != nil {
		return err
	}

	if _, err := sender.Send(ctx, &mailer.Message{
		From:    testEmailSender,
		To:      testEmailTo,
		Subject: testEmailSubject,
		Body:    testEmailBody,
	}); err != nil {
		return err
	}

	fmt.Println("Test email sent.")
	return nil
}
