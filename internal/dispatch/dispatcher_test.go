package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/cenproject/cen/internal/mailer"
	"github.com/cenproject/cen/internal/motion"
)

// fakeSender records sent messages and optionally fails.
type fakeSender struct {
	sent []*mailer.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg *mailer.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func eventAt(base time.Time, offset time.Duration, area, contours int) *motion.Event {
	return &motion.Event{
		Timestamp:   base.Add(offset),
		MotionArea:  area,
		NumContours: contours,
	}
}

func newTestDispatcher(sender Sender, opts Options) (*Dispatcher, *Stats) {
	if opts.To == "" {
		opts.To = "alerts@example.com"
	}
	if opts.Subject == "" {
		opts.Subject = "CEN motion detected"
	}
	if opts.Body == "" {
		opts.Body = "Motion was detected by your camera."
	}
	stats := &Stats{}
	return NewDispatcher(sender, stats, opts, nil), stats
}

func TestThrottleWindow(t *testing.T) {
	sender := &fakeSender{}
	d, stats := newTestDispatcher(sender, Options{MinInterval: 60 * time.Second})

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Events at t=0, t=10, t=70: only t=0 and t=70 get through.
	offsets := []time.Duration{0, 10 * time.Second, 70 * time.Second}
	wantSent := []bool{true, false, true}

	for i, off := range offsets {
		sent, err := d.HandleEvent(context.Background(), eventAt(base, off, 800, 1))
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if sent != wantSent[i] {
			t.Errorf("event %d sent = %v, want %v", i, sent, wantSent[i])
		}
	}

	if len(sender.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sender.sent))
	}
	// The suppressed event must not have touched the statistics.
	if snap := stats.View(); snap.Events != 2 {
		t.Errorf("stats events = %d, want 2", snap.Events)
	}
}

func TestThrottleIntervalFloor(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(sender, Options{MinInterval: 0})

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Interval 0 behaves as 1s: an event 500ms later is suppressed.
	if sent, _ := d.HandleEvent(context.Background(), eventAt(base, 0, 800, 1)); !sent {
		t.Fatal("first event should send")
	}
	if sent, _ := d.HandleEvent(context.Background(), eventAt(base, 500*time.Millisecond, 800, 1)); sent {
		t.Error("event inside the 1s floor should be suppressed")
	}
	if sent, _ := d.HandleEvent(context.Background(), eventAt(base, time.Second, 800, 1)); !sent {
		t.Error("event at the floor boundary should send")
	}
}

func TestAnomalyClassification(t *testing.T) {
	testCases := []struct {
		name      string
		threshold int
		contours  int
		anomaly   bool
	}{
		{"at threshold", 5, 5, true},
		{"below threshold", 5, 4, false},
		{"above threshold", 5, 12, true},
		{"threshold zero behaves as one", 0, 1, true},
		{"threshold zero, no qualifying contours would not emit anyway", 0, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{}
			d, stats := newTestDispatcher(sender, Options{AnomalyThreshold: tc.threshold})

			ev := eventAt(time.Now(), 0, 1300, tc.contours)
			if _, err := d.HandleEvent(context.Background(), ev); err != nil {
				t.Fatalf("HandleEvent: %v", err)
			}

			msg := sender.sent[0]
			gotAnomaly := strings.HasPrefix(msg.Subject, "[ANOMALY] ")
			if gotAnomaly != tc.anomaly {
				t.Errorf("anomaly subject prefix = %v, want %v (subject %q)", gotAnomaly, tc.anomaly, msg.Subject)
			}
			wantAnomalies := int64(0)
			if tc.anomaly {
				wantAnomalies = 1
			}
			if snap := stats.View(); snap.Anomalies != wantAnomalies {
				t.Errorf("anomaly count = %d, want %d", snap.Anomalies, wantAnomalies)
			}
		})
	}
}

func TestNotificationBody(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(sender, Options{Body: "Check the camera.", AnomalyThreshold: 2})

	if _, err := d.HandleEvent(context.Background(), eventAt(time.Now(), 0, 1300, 2)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	body := sender.sent[0].Body
	for _, want := range []string{"Check the camera.", "Motion area: 1300 px", "Contours: 2", "Anomalous activity"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestSendFailureKeepsStatsAndThrottleOpen(t *testing.T) {
	sendErr := errors.New("transport down")
	sender := &fakeSender{err: sendErr}
	d, stats := newTestDispatcher(sender, Options{MinInterval: time.Minute})

	base := time.Now()
	if _, err := d.HandleEvent(context.Background(), eventAt(base, 0, 900, 1)); !errors.Is(err, sendErr) {
		t.Fatalf("HandleEvent = %v, want wrapped send error", err)
	}

	// Stats recorded for the failed event are not rolled back.
	if snap := stats.View(); snap.Events != 1 {
		t.Errorf("stats events = %d, want 1", snap.Events)
	}

	// The failed send did not advance the throttle clock: the next event sends.
	sender.err = nil
	if sent, err := d.HandleEvent(context.Background(), eventAt(base, time.Second, 900, 1)); err != nil || !sent {
		t.Errorf("follow-up event sent = %v, err = %v; want a send", sent, err)
	}
}

func TestSnapshotEncodeFailureOmitsAttachment(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(sender, Options{Snapshot: true})
	d.encodeJPEG = func(frame *gocv.Mat, quality int) ([]byte, error) {
		return nil, errors.New("encoder exploded")
	}

	frame := gocv.NewMat()
	ev := eventAt(time.Now(), 0, 700, 1)
	ev.Frame = &frame

	if _, err := d.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if sender.sent[0].Attachment != nil {
		t.Error("attachment should be omitted when encoding fails")
	}
}

func TestSnapshotAttached(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(sender, Options{Snapshot: true})
	d.encodeJPEG = func(frame *gocv.Mat, quality int) ([]byte, error) {
		if quality != motion.DefaultJPEGQuality {
			t.Errorf("quality = %d, want %d", quality, motion.DefaultJPEGQuality)
		}
		return []byte{0xff, 0xd8, 0xff}, nil
	}

	frame := gocv.NewMat()
	ev := eventAt(time.Now(), 0, 700, 1)
	ev.Frame = &frame

	if _, err := d.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	att := sender.sent[0].Attachment
	if att == nil {
		t.Fatal("expected an attachment")
	}
	if att.Filename != "snapshot.jpg" || att.MIMEType != "image/jpeg" {
		t.Errorf("attachment = %s (%s), want snapshot.jpg (image/jpeg)", att.Filename, att.MIMEType)
	}
}
