package app

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/cenproject/cen/internal/auth"
	"github.com/cenproject/cen/internal/cenlog"
	"github.com/cenproject/cen/internal/config"
	"github.com/cenproject/cen/internal/credstore"
	"github.com/cenproject/cen/internal/dispatch"
	"github.com/cenproject/cen/internal/mailer"
	"github.com/cenproject/cen/internal/motion"
)

var (
	monitorGoogle   googleFlags
	monitorCfg      = config.NewDefaultConfig().Monitor
	monitorInterval int

	monitorCmd = &cobra.Command{
		Use:   "monitor",
		Short: "Watch the webcam and send email on motion",
		Long: `Continuously sample the camera, diff consecutive frames, and mail a
notification whenever the qualifying motion area is positive.

Notifications are throttled to one per --min-interval-seconds. Events whose
contour count reaches --anomaly-threshold get an [ANOMALY] subject prefix.
With --hourly-summary, an aggregate report is mailed once per hour and the
counters reset. Ctrl+C stops the monitor and releases the camera.`,
		Example: `  # Default webcam, one mail per minute at most
  cen monitor --to you@example.com

  # Attach a snapshot, flag busy scenes, hourly digests
  cen monitor --to you@example.com --snapshot --anomaly-threshold 5 --hourly-summary`,
		RunE: runMonitor,
	}
)

func init() {
	monitorGoogle.register(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorCfg.DeviceIndex, "device-index", monitorCfg.DeviceIndex, "camera device index (0 is the default webcam)")
	monitorCmd.Flags().IntVar(&monitorCfg.Sensitivity, "sensitivity", monitorCfg.Sensitivity, "minimum contour area to trigger motion")
	monitorCmd.Flags().IntVar(&monitorInterval, "min-interval-seconds", 60, "minimum seconds between notifications")
	monitorCmd.Flags().StringVar(&monitorCfg.ToEmail, "to", "", "recipient email for notifications (required)")
	monitorCmd.Flags().StringVar(&monitorCfg.Sender, "sender", config.Getenv("GMAIL_SENDER"), "override sender (env GMAIL_SENDER)")
	monitorCmd.Flags().BoolVar(&monitorCfg.Snapshot, "snapshot", false, "attach a snapshot image when motion is detected")
	monitorCmd.Flags().StringVar(&monitorCfg.Subject, "subject", monitorCfg.Subject, "notification subject")
	monitorCmd.Flags().StringVar(&monitorCfg.Body, "body", monitorCfg.Body, "notification body")
	monitorCmd.Flags().BoolVar(&monitorCfg.HourlySummary, "hourly-summary", false, "send an hourly statistics summary")
	monitorCmd.Flags().DurationVar(&monitorCfg.SummaryPeriod, "summary-period", monitorCfg.SummaryPeriod, "summary cadence")
	monitorCmd.Flags().IntVar(&monitorCfg.AnomalyThreshold, "anomaly-threshold", monitorCfg.AnomalyThreshold, "contour count at/above which an event is flagged anomalous")
	monitorCmd.MarkFlagRequired("to")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	gcfg, err := monitorGoogle.toConfig()
	if err != nil {
		return err
	}
	monitorCfg.MinInterval = time.Duration(monitorInterval) * time.Second

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := newStore(gcfg, auth.Options{OpenBrowser: true, LoginHint: gcfg.LoginHint})
	ts, err := store.TokenSource(ctx)
	if err != nil {
		if errors.Is(err, credstore.ErrNoCredential) {
			return fmt.Errorf("no usable credential: %w", err)
		}
		return err
	}

	sender, err := mailer.NewGmailSender(ctx, option.WithTokenSource(ts), cenlog.Named("mailer"))
	if err != nil {
		return err
	}

	sampler, err := motion.NewSampler(monitorCfg.DeviceIndex, monitorCfg.Sensitivity, monitorCfg.Snapshot, cenlog.Named("motion"))
	if err != nil {
		return err
	}
	defer sampler.Close()

	logger := cenlog.Named("monitor")
	stats := &dispatch.Stats{}

	dispatcher := dispatch.NewDispatcher(sender, stats, dispatch.Options{
		To:               monitorCfg.ToEmail,
		From:             monitorCfg.Sender,
		Subject:          monitorCfg.Subject,
		Body:             monitorCfg.Body,
		Snapshot:         monitorCfg.Snapshot,
		MinInterval:      monitorCfg.MinInterval,
		AnomalyThreshold: monitorCfg.AnomalyThreshold,
	}, cenlog.Named("dispatch"))

	// The scheduler runs on its own cadence and is abandoned at exit.
	scheduler := dispatch.NewSummaryScheduler(stats, sender, dispatch.SummaryOptions{
		Enabled: monitorCfg.HourlySummary,
		Period:  monitorCfg.SummaryPeriod,
		To:      monitorCfg.ToEmail,
		From:    monitorCfg.Sender,
	}, cenlog.Named("summary"))
	go scheduler.Run(ctx)

	logger.Infow("Starting motion detection, press Ctrl+C to stop",
		"device_index", monitorCfg.DeviceIndex,
		"sensitivity", monitorCfg.Sensitivity,
		"min_interval", monitorCfg.MinInterval)

	for {
		ev, err := sampler.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				snap := stats.View()
				logger.Infow("Stopping monitor", "events", snap.Events, "anomalies", snap.Anomalies)
				return nil
			}
			return err
		}

		if _, err := dispatcher.HandleEvent(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
