package motion

import (
	"context"
	"errors"
	"testing"

	"gocv.io/x/gocv"

	"github.com/cenproject/cen/internal/cenlog"
)

func TestScoreContours(t *testing.T) {
	testCases := []struct {
		name      string
		areas     []float64
		minArea   float64
		wantArea  int
		wantCount int
	}{
		{
			name:      "mixed qualifying and sub-threshold",
			areas:     []float64{600, 700, 100},
			minArea:   500,
			wantArea:  1300,
			wantCount: 2,
		},
		{
			name:      "exactly at threshold qualifies",
			areas:     []float64{500},
			minArea:   500,
			wantArea:  500,
			wantCount: 1,
		},
		{
			name:      "all below threshold",
			areas:     []float64{10, 20, 499},
			minArea:   500,
			wantArea:  0,
			wantCount: 0,
		},
		{
			name:      "no contours",
			areas:     nil,
			minArea:   500,
			wantArea:  0,
			wantCount: 0,
		},
		{
			name:      "zero threshold counts everything",
			areas:     []float64{1, 2, 3},
			minArea:   0,
			wantArea:  6,
			wantCount: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			area, count := ScoreContours(tc.areas, tc.minArea)
			if area != tc.wantArea {
				t.Errorf("area = %d, want %d", area, tc.wantArea)
			}
			if count != tc.wantCount {
				t.Errorf("count = %d, want %d", count, tc.wantCount)
			}
		})
	}
}

func TestEventCloseWithoutFrame(t *testing.T) {
	ev := &Event{MotionArea: 100, NumContours: 1}
	// Must be safe on frameless events, repeatedly.
	ev.Close()
	ev.Close()
}

// testSampler builds a sampler without a capture device; the read seam stands
// in for the camera.
func testSampler(t *testing.T, sensitivity int, keepFrames bool) *Sampler {
	t.Helper()
	s := &Sampler{
		sensitivity: sensitivity,
		keepFrames:  keepFrames,
		logger:      cenlog.Nop{},
		frame:       gocv.NewMat(),
		prevGray:    gocv.NewMat(),
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// solidFrame returns a small color frame filled with one intensity.
func solidFrame(t *testing.T, v float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), 64, 64, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// playFrames wires the read seam to replay frames in order, cancelling once
// they run out.
func playFrames(s *Sampler, cancel context.CancelFunc, frames []gocv.Mat, reads *int) {
	s.read = func(ctx context.Context) error {
		if *reads >= len(frames) {
			cancel()
			return ctx.Err()
		}
		frames[*reads].CopyTo(&s.frame)
		*reads++
		return nil
	}
}

func TestNextFirstFrameOnlyPrimes(t *testing.T) {
	s := testSampler(t, 500, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bright first frame must only prime; the event comes from the
	// second frame's diff against it.
	var reads int
	playFrames(s, cancel, []gocv.Mat{solidFrame(t, 255), solidFrame(t, 0)}, &reads)

	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	defer ev.Close()

	if reads != 2 {
		t.Errorf("reads = %d, want 2 (prime, then diff)", reads)
	}
	if ev.MotionArea <= 0 {
		t.Errorf("MotionArea = %d, want > 0", ev.MotionArea)
	}
	if ev.NumContours != 1 {
		t.Errorf("NumContours = %d, want 1 full-frame contour", ev.NumContours)
	}
	if ev.Frame != nil {
		t.Error("Frame should be nil when snapshots are disabled")
	}
}

func TestNextSkipsFramesWithoutMotion(t *testing.T) {
	s := testSampler(t, 500, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Four identical frames: zero diff everywhere, so Next must keep
	// consuming until the feed ends, never emitting.
	frames := []gocv.Mat{solidFrame(t, 128), solidFrame(t, 128), solidFrame(t, 128), solidFrame(t, 128)}
	var reads int
	playFrames(s, cancel, frames, &reads)

	ev, err := s.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Next = (%v, %v), want context.Canceled", ev, err)
	}
	if reads != len(frames) {
		t.Errorf("reads = %d, want %d", reads, len(frames))
	}
}

func TestNextObservesCancellationWhileReadsSucceed(t *testing.T) {
	s := testSampler(t, 500, false)

	// A healthy, motionless camera: every read succeeds with the same frame.
	still := solidFrame(t, 128)
	var reads int
	s.read = func(ctx context.Context) error {
		still.CopyTo(&s.frame)
		reads++
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next = %v, want context.Canceled", err)
	}
	if reads != 0 {
		t.Errorf("reads = %d, want 0 after cancellation", reads)
	}
}

func TestNextClonesFrameWhenSnapshotsEnabled(t *testing.T) {
	s := testSampler(t, 500, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reads int
	playFrames(s, cancel, []gocv.Mat{solidFrame(t, 0), solidFrame(t, 255)}, &reads)

	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Frame == nil {
		t.Fatal("Frame should carry a snapshot copy")
	}
	ev.Close()
	if ev.Frame != nil {
		t.Error("Close should release and clear the frame")
	}
}
