// Package dispatch consumes motion events and turns them into notifications:
// it throttles, classifies anomalies, formats the email, and keeps the running
// statistics the summary scheduler reports on.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/cenproject/cen/internal/cenlog"
	"github.com/cenproject/cen/internal/mailer"
	"github.com/cenproject/cen/internal/motion"
)

const snapshotFilename = "snapshot.jpg"

// Sender is the mail-transport boundary the dispatcher writes to.
type Sender interface {
	Send(ctx context.Context, msg *mailer.Message) (string, error)
}

// Options configures notification composition and gating.
type Options struct {
	To          string
	From        string // optional sender override
	Subject     string
	Body        string
	Snapshot    bool          // attach a JPEG of the triggering frame
	MinInterval time.Duration // cooldown between sent notifications, floor 1s
	// AnomalyThreshold is the contour count at/above which an event is flagged
	// anomalous. Values below 1 behave as 1.
	AnomalyThreshold int
}

// Dispatcher applies the notification policy to each motion event.
type Dispatcher struct {
	sender Sender
	opts   Options
	stats  *Stats
	logger cenlog.Logger

	lastSentAt time.Time

	// Seam for tests; production value set by NewDispatcher.
	encodeJPEG func(frame *gocv.Mat, quality int) ([]byte, error)
}

// NewDispatcher creates a Dispatcher writing to sender and recording into stats.
func NewDispatcher(sender Sender, stats *Stats, opts Options, logger cenlog.Logger) *Dispatcher {
	if logger == nil {
		logger = cenlog.Nop{}
	}
	return &Dispatcher{
		sender:     sender,
		opts:       opts,
		stats:      stats,
		logger:     logger,
		encodeJPEG: motion.EncodeJPEG,
	}
}

// HandleEvent processes one motion event, taking ownership of its frame. It
// returns whether a notification was sent. Suppressed events touch neither the
// statistics nor the throttle clock. A send failure is returned to the caller
// undecided (the statistics already recorded for it stay recorded).
func (d *Dispatcher) HandleEvent(ctx context.Context, ev *motion.Event) (sent bool, err error) {
	defer ev.Close()

	if d.suppressed(ev) {
		d.logger.Debugw("Event suppressed by cooldown",
			"motion_area", ev.MotionArea, "num_contours", ev.NumContours)
		return false, nil
	}

	anomaly := d.classify(ev)
	d.stats.Record(ev.MotionArea, ev.NumContours, anomaly)

	msg := d.compose(ev, anomaly)

	id, err := d.sender.Send(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("send notification: %w", err)
	}
	d.lastSentAt = ev.Timestamp

	d.logger.Infow("Notification sent",
		"message_id", id,
		"motion_area", ev.MotionArea,
		"num_contours", ev.NumContours,
		"anomaly", anomaly)
	return true, nil
}

// suppressed applies the global cooldown against the last sent notification.
func (d *Dispatcher) suppressed(ev *motion.Event) bool {
	if d.lastSentAt.IsZero() {
		return false
	}
	interval := d.opts.MinInterval
	if interval < time.Second {
		interval = time.Second
	}
	return ev.Timestamp.Sub(d.lastSentAt) < interval
}

// classify flags an event as anomalous when its qualifying contour count
// reaches the threshold. Threshold 0 behaves as 1.
func (d *Dispatcher) classify(ev *motion.Event) bool {
	threshold := d.opts.AnomalyThreshold
	if threshold < 1 {
		threshold = 1
	}
	return ev.NumContours >= threshold
}

// compose builds the notification message, including the optional snapshot.
// A failed JPEG encode omits the attachment rather than failing the send.
func (d *Dispatcher) compose(ev *motion.Event, anomaly bool) *mailer.Message {
	subject := d.opts.Subject
	body := fmt.Sprintf("%s\n\nMotion area: %d px\nContours: %d", d.opts.Body, ev.MotionArea, ev.NumContours)
	if anomaly {
		subject = "[ANOMALY] " + subject
		body += "\nAnomalous activity: contour count at or above threshold"
	}

	msg := &mailer.Message{
		From:    d.opts.From,
		To:      d.opts.To,
		Subject: subject,
		Body:    body,
	}

	if d.opts.Snapshot && ev.Frame != nil {
		data, err := d.encodeJPEG(ev.Frame, motion.DefaultJPEGQuality)
		if err != nil {
			d.logger.Warnw("Snapshot encode failed, sending without attachment", "error", err)
		} else {
			msg.Attachment = &mailer.Attachment{
				Filename: snapshotFilename,
				MIMEType: "image/jpeg",
				Data:     data,
			}
		}
	}
	return msg
}
