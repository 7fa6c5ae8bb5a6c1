package dispatch

import "sync"

// Snapshot is a point-in-time copy of the running motion statistics.
type Snapshot struct {
	Events          int64
	TotalMotionArea int64
	MaxMotionArea   int64
	MaxContours     int64
	Anomalies       int64
}

// Stats accumulates motion statistics between summary drains. The dispatcher
// records from the foreground loop while the summary scheduler drains from its
// own goroutine, so every access takes the mutex: a drain must never lose an
// increment that happened before it or double-count one that happened after.
type Stats struct {
	mu   sync.Mutex
	snap Snapshot
}

// Record folds one sent event into the running statistics.
func (s *Stats) Record(area, contours int, anomaly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Events++
	s.snap.TotalMotionArea += int64(area)
	if int64(area) > s.snap.MaxMotionArea {
		s.snap.MaxMotionArea = int64(area)
	}
	if int64(contours) > s.snap.MaxContours {
		s.snap.MaxContours = int64(contours)
	}
	if anomaly {
		s.snap.Anomalies++
	}
}

// Drain atomically returns the current statistics and resets them to zero.
func (s *Stats) Drain() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	s.snap = Snapshot{}
	return snap
}

// View returns the current statistics without resetting them.
func (s *Stats) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
