package tim561

import (
	"sync"
	"time"
)

// ScanStore is the single-slot holder of the most recent FilteredScan.
// The acquisition loop is the only writer; any number of consumer
// goroutines may read concurrently. The slot is swapped whole under the
// lock, so readers observe either the previous or the new scan, never a
// mix, and each reader gets its own copy of the point slice so a published
// scan can never be mutated out from under another consumer.
type ScanStore struct {
	mu     sync.RWMutex
	latest *FilteredScan
}

// NewScanStore returns an empty store; Get reports ok=false until the
// first Publish.
func NewScanStore() *ScanStore {
	return &ScanStore{}
}

// Publish replaces the stored scan. The caller must not retain or mutate
// the scan's point slice after publishing.
func (s *ScanStore) Publish(scan FilteredScan) {
	s.mu.Lock()
	s.latest = &scan
	s.mu.Unlock()
}

// Get returns a copy of the latest published scan, or ok=false if nothing
// has been published yet. It never blocks on sensor I/O.
func (s *ScanStore) Get() (FilteredScan, bool) {
	s.mu.RLock()
	snap := s.latest
	s.mu.RUnlock()
	if snap == nil {
		return FilteredScan{}, false
	}

	points := make([]ScanPoint, len(snap.Points))
	copy(points, snap.Points)
	return FilteredScan{
		Timestamp:   snap.Timestamp,
		ScanCounter: snap.ScanCounter,
		Points:      points,
	}, true
}

// GetWithAge is Get plus the scan's age against the caller's clock, so
// consumers can flag a stalled acquisition loop while still acting on the
// last known good scan.
func (s *ScanStore) GetWithAge() (FilteredScan, time.Duration, bool) {
	scan, ok := s.Get()
	if !ok {
		return scan, 0, false
	}
	return scan, time.Since(scan.Timestamp), true
}
