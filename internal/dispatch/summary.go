package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenproject/cen/internal/cenlog"
	"github.com/cenproject/cen/internal/mailer"
)

// SummaryOptions configures the periodic statistics report.
type SummaryOptions struct {
	Enabled bool
	Period  time.Duration
	To      string
	From    string
}

// SummaryScheduler mails an aggregate of the running statistics once per
// period, on its own cadence, decoupled from event arrival.
type SummaryScheduler struct {
	stats  *Stats
	sender Sender
	opts   SummaryOptions
	logger cenlog.Logger
}

// NewSummaryScheduler creates a scheduler draining stats into sender.
func NewSummaryScheduler(stats *Stats, sender Sender, opts SummaryOptions, logger cenlog.Logger) *SummaryScheduler {
	if logger == nil {
		logger = cenlog.Nop{}
	}
	if opts.Period <= 0 {
		opts.Period = time.Hour
	}
	return &SummaryScheduler{stats: stats, sender: sender, opts: opts, logger: logger}
}

// Run ticks until ctx is cancelled. Each tick is checked against the enabled
// flag: disabling skips the work but the timer still consumes a full period
// before checking again. Send failures are swallowed so a mail outage never
// stops the scheduler; the drain happens before the send, so a failed summary
// never rolls stale counts into the next period.
func (s *SummaryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SummaryScheduler) tick(ctx context.Context) {
	if !s.opts.Enabled {
		return
	}

	snap := s.stats.Drain()
	msg := &mailer.Message{
		From:    s.opts.From,
		To:      s.opts.To,
		Subject: fmt.Sprintf("CEN summary: %d motion events", snap.Events),
		Body:    FormatSummary(snap, s.opts.Period),
	}

	if _, err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warnw("Summary send failed, counters already reset", "error", err)
		return
	}
	s.logger.Infow("Summary sent", "events", snap.Events, "anomalies", snap.Anomalies)
}

// FormatSummary renders the report body for one drained snapshot.
func FormatSummary(snap Snapshot, period time.Duration) string {
	return fmt.Sprintf(
		"Motion summary for the last %s\n\n"+
			"Events:            %d\n"+
			"Total motion area: %d px\n"+
			"Max motion area:   %d px\n"+
			"Max contours:      %d\n"+
			"Anomalies:         %d\n",
		period, snap.Events, snap.TotalMotionArea, snap.MaxMotionArea, snap.MaxContours, snap.Anomalies)
}
