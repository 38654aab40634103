package application

import (
	"sync"
	"time"

	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	health "terrarium-cloud/internal/health/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// Snapshot is the most recent evaluated reading of a source.
type Snapshot struct {
	Reading    telemetry.Reading `json:"reading"`
	Assessment health.Assessment `json:"assessment"`
	Biome      ecosystem.Biome   `json:"biome"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// LatestStore keeps one snapshot per source. Older readings never replace
// a newer one.
type LatestStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewLatestStore constructs an empty store.
func NewLatestStore() *LatestStore {
	return &LatestStore{snapshots: make(map[string]Snapshot)}
}

// Put stores snap unless a newer reading is already held. It reports
// whether the snapshot was kept.
func (s *LatestStore) Put(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := snap.Reading.SourceID
	if current, ok := s.snapshots[id]; ok && snap.Reading.Timestamp.Before(current.Reading.Timestamp) {
		return false
	}
	s.snapshots[id] = snap
	return true
}

// Get returns the snapshot of sourceID.
func (s *LatestStore) Get(sourceID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sourceID]
	return snap, ok
}
