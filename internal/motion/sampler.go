// Package motion turns a raw camera feed into discrete motion events using
// frame differencing: each frame is diffed against the previous one, the diff
// is thresholded, and qualifying contours are scored.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gocv.io/x/gocv"

	"github.com/cenproject/cen/internal/cenlog"
)

const (
	// Pixel intensity cutoff applied to the frame diff before contour extraction.
	diffThreshold = 25

	// Pause between retries after a failed frame read. Reads fail transiently
	// (device busy, dropped frame) and never terminate the sampler.
	captureRetryDelay = 100 * time.Millisecond

	// JPEG quality for snapshot encoding.
	DefaultJPEGQuality = 90
)

var errReadFailed = errors.New("frame read failed")

// Event is one detected instance of above-threshold change between two
// consecutive frames. Immutable once emitted; the frame's ownership passes to
// the consumer, which must Close it.
type Event struct {
	Timestamp   time.Time
	Frame       *gocv.Mat // cloned color frame; nil when snapshots are disabled
	MotionArea  int       // sum of qualifying contour areas, in pixels
	NumContours int       // count of contours at/above the sensitivity threshold
}

// Close releases the event's frame. Safe on events without one.
func (e *Event) Close() {
	if e.Frame != nil {
		e.Frame.Close()
		e.Frame = nil
	}
}

// Sampler owns the capture device and produces an unbounded sequence of
// events via Next. It is not safe for concurrent use.
type Sampler struct {
	cap         *gocv.VideoCapture
	sensitivity int
	keepFrames  bool
	logger      cenlog.Logger

	frame    gocv.Mat // reusable capture buffer
	prevGray gocv.Mat
	hasPrev  bool

	// Seam for tests; production value set by NewSampler.
	read func(ctx context.Context) error

	closeOnce sync.Once
	closed    bool
}

// NewSampler opens the camera at deviceIndex. sensitivity is the minimum
// contour area that counts as motion; keepFrames controls whether emitted
// events carry a copy of the triggering frame.
func NewSampler(deviceIndex, sensitivity int, keepFrames bool, logger cenlog.Logger) (*Sampler, error) {
	if logger == nil {
		logger = cenlog.Nop{}
	}
	cap, err := gocv.OpenVideoCapture(deviceIndex)
	if err != nil {
		return nil, fmt.Errorf("open camera device %d: %w", deviceIndex, err)
	}
	s := &Sampler{
		cap:         cap,
		sensitivity: sensitivity,
		keepFrames:  keepFrames,
		logger:      logger,
		frame:       gocv.NewMat(),
		prevGray:    gocv.NewMat(),
	}
	s.read = s.captureRead
	return s, nil
}

// Next blocks until the next motion event or context cancellation. Frames
// without qualifying motion are consumed silently; failed reads pause briefly
// and retry. The very first frame only primes the background model and can
// never produce an event.
func (s *Sampler) Next(ctx context.Context) (*Event, error) {
	if s.closed {
		return nil, fmt.Errorf("sampler is closed")
	}

	for {
		// Successful reads never consult ctx, so check it here or a healthy,
		// motionless camera keeps the loop alive past cancellation.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.read(ctx); err != nil {
			return nil, err
		}

		gray := gocv.NewMat()
		gocv.CvtColor(s.frame, &gray, gocv.ColorBGRToGray)

		if !s.hasPrev {
			s.prevGray.Close()
			s.prevGray = gray
			s.hasPrev = true
			continue
		}

		area, contours := s.scoreFrame(gray)

		// Sliding-window background model: the previous frame is always
		// replaced, so persistent change blends in and stops triggering.
		s.prevGray.Close()
		s.prevGray = gray

		if area <= 0 {
			continue
		}

		ev := &Event{
			Timestamp:   time.Now(),
			MotionArea:  area,
			NumContours: contours,
		}
		if s.keepFrames {
			frame := s.frame.Clone()
			ev.Frame = &frame
		}
		return ev, nil
	}
}

// Close releases the capture device and held buffers. Idempotent.
func (s *Sampler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		if s.cap != nil {
			err = s.cap.Close()
		}
		s.frame.Close()
		s.prevGray.Close()
	})
	return err
}

// captureRead fills the capture buffer, retrying transient failures on a
// constant backoff until a frame arrives or ctx is cancelled.
func (s *Sampler) captureRead(ctx context.Context) error {
	read := func() error {
		if ok := s.cap.Read(&s.frame); !ok || s.frame.Empty() {
			return errReadFailed
		}
		return nil
	}
	return backoff.Retry(read, backoff.WithContext(backoff.NewConstantBackOff(captureRetryDelay), ctx))
}

// scoreFrame diffs gray against the previous frame and scores the result.
func (s *Sampler) scoreFrame(gray gocv.Mat) (area, count int) {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(s.prevGray, gray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, diffThreshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	areas := make([]float64, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		areas = append(areas, gocv.ContourArea(contours.At(i)))
	}
	return ScoreContours(areas, float64(s.sensitivity))
}

// ScoreContours sums the contour areas at or above minArea and counts them.
func ScoreContours(areas []float64, minArea float64) (totalArea, count int) {
	for _, a := range areas {
		if a >= minArea {
			totalArea += int(a)
			count++
		}
	}
	return totalArea, count
}

// EncodeJPEG encodes a frame as JPEG at the given quality.
func EncodeJPEG(frame *gocv.Mat, quality int) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("no frame to encode")
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	// Copy out: the native buffer is freed on Close.
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
