package dispatch

import (
	"sync"
	"testing"
)

func TestStatsRecordAndDrain(t *testing.T) {
	s := &Stats{}
	s.Record(600, 2, false)
	s.Record(1300, 5, true)
	s.Record(100, 1, false)

	snap := s.Drain()
	if snap.Events != 3 {
		t.Errorf("events = %d, want 3", snap.Events)
	}
	if snap.TotalMotionArea != 2000 {
		t.Errorf("total area = %d, want 2000", snap.TotalMotionArea)
	}
	if snap.MaxMotionArea != 1300 {
		t.Errorf("max area = %d, want 1300", snap.MaxMotionArea)
	}
	if snap.MaxContours != 5 {
		t.Errorf("max contours = %d, want 5", snap.MaxContours)
	}
	if snap.Anomalies != 1 {
		t.Errorf("anomalies = %d, want 1", snap.Anomalies)
	}

	// Immediately after a drain, everything reads zero.
	if after := s.Drain(); after != (Snapshot{}) {
		t.Errorf("post-drain snapshot = %+v, want zeroes", after)
	}
}

// TestStatsDrainLosesNothing hammers Record and Drain from separate goroutines
// and checks conservation: every increment lands in exactly one snapshot.
func TestStatsDrainLosesNothing(t *testing.T) {
	const (
		writers         = 4
		eventsPerWriter = 2500
		drainsWhileBusy = 50
	)

	s := &Stats{}
	var wg sync.WaitGroup

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < eventsPerWriter; i++ {
				s.Record(10, 1, i%10 == 0)
			}
		}()
	}

	var drained Snapshot
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < drainsWhileBusy; i++ {
			snap := s.Drain()
			drained.Events += snap.Events
			drained.TotalMotionArea += snap.TotalMotionArea
			drained.Anomalies += snap.Anomalies
		}
	}()

	wg.Wait()
	<-done

	final := s.Drain()
	totalEvents := drained.Events + final.Events
	totalArea := drained.TotalMotionArea + final.TotalMotionArea
	totalAnomalies := drained.Anomalies + final.Anomalies

	if want := int64(writers * eventsPerWriter); totalEvents != want {
		t.Errorf("events across drains = %d, want %d", totalEvents, want)
	}
	if want := int64(writers * eventsPerWriter * 10); totalArea != want {
		t.Errorf("area across drains = %d, want %d", totalArea, want)
	}
	if want := int64(writers * (eventsPerWriter / 10)); totalAnomalies != want {
		t.Errorf("anomalies across drains = %d, want %d", totalAnomalies, want)
	}
}
